package inbox

// AttachmentKind classifies a message attachment.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVideo    AttachmentKind = "video"
	KindDocument AttachmentKind = "document"
	KindAudio    AttachmentKind = "audio"
)

// Attachment is one attachment of a message. URL is empty when the
// provider exposes no fetchable link.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	URL       string         `json:"url,omitempty"`
	Name      string         `json:"name,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Mimetype  string         `json:"mimetype,omitempty"`
	SizeBytes int64          `json:"sizeBytes,omitempty"`
}

// Message is the view model of one chat message.
type Message struct {
	ID          string       `json:"id"`
	KeyID       string       `json:"keyId,omitempty"`
	SenderID    string       `json:"senderId"`
	Participant string       `json:"participant,omitempty"`
	Text        string       `json:"text"`
	Timestamp   string       `json:"timestamp"`
	TimestampMs int64        `json:"timestampMs,omitempty"`
	Source      string       `json:"source,omitempty"`
	Own         bool         `json:"own"`
	Status      string       `json:"status,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// LabelTag is a resolved label usable across conversations.
type LabelTag struct {
	LabelID string `json:"labelId"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
}

// Contact is the identity information known for a remote address.
type Contact struct {
	RemoteJID     string `json:"remoteJid"`
	PushName      string `json:"pushName,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
}

// Conversation is the view model of one remote chat thread.
type Conversation struct {
	ID            string     `json:"id"`
	RemoteJID     string     `json:"remoteJid"`
	Name          string     `json:"name"`
	Avatar        string     `json:"avatar,omitempty"`
	LastMessage   string     `json:"lastMessage"`
	Timestamp     string     `json:"timestamp"`
	LastMessageTs int64      `json:"lastMessageTs"`
	LastSource    string     `json:"lastSource,omitempty"`
	UnreadCount   int        `json:"unreadCount"`
	Status        string     `json:"status"`
	Labels        []LabelTag `json:"labels,omitempty"`
	InstanceID    string     `json:"instanceId,omitempty"`
	AutoReply     bool       `json:"autoReply"`
}

// Instance is one connected gateway account visible to the inbox.
type Instance struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}

// Connection states reported by the gateway.
const (
	ConnectionOpen       = "open"
	ConnectionConnecting = "connecting"
)

// Delivery statuses as the gateway reports them.
const (
	StatusPending     = "PENDING"
	StatusServerAck   = "SERVER_ACK"
	StatusDeliveryAck = "DELIVERY_ACK"
	StatusRead        = "READ"
	StatusEdited      = "EDITED"
)
