package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ChatRow mirrors one row of the gateway-owned "Chat" table.
type ChatRow struct {
	ID             string         `db:"id"`
	RemoteJID      string         `db:"remoteJid"`
	Name           sql.NullString `db:"name"`
	UnreadMessages sql.NullInt64  `db:"unreadMessages"`
	UpdatedAt      sql.NullTime   `db:"updatedAt"`
	CreatedAt      sql.NullTime   `db:"createdAt"`
	InstanceID     string         `db:"instanceId"`
	Labels         sql.NullString `db:"labels"`
}

// ContactRow mirrors one row of the "Contact" table.
type ContactRow struct {
	RemoteJID     string         `db:"remoteJid"`
	PushName      sql.NullString `db:"pushName"`
	ProfilePicURL sql.NullString `db:"profilePicUrl"`
	InstanceID    string         `db:"instanceId"`
}

// MessageKey is the gateway's composite message identifier, stored as JSONB.
type MessageKey struct {
	ID           string `json:"id"`
	RemoteJID    string `json:"remoteJid"`
	RemoteJIDAlt string `json:"remoteJidAlt"`
	Participant  string `json:"participant"`
	FromMe       bool   `json:"fromMe"`
}

// MediaPayload is the shared shape of the four media variants inside a
// message content union.
type MediaPayload struct {
	URL        string      `json:"url"`
	DirectPath string      `json:"directPath"`
	Caption    string      `json:"caption"`
	FileName   string      `json:"fileName"`
	Mimetype   string      `json:"mimetype"`
	FileLength *FileLength `json:"fileLength"`
}

// FileLength is a 64-bit byte count encoded as a split {low, high} pair.
type FileLength struct {
	Low      uint32 `json:"low"`
	High     uint32 `json:"high"`
	Unsigned bool   `json:"unsigned"`
}

// Bytes reconstructs the byte count: high*2^32+low when high is present.
func (f *FileLength) Bytes() int64 {
	if f == nil {
		return 0
	}
	return int64(f.High)<<32 + int64(f.Low)
}

// UnmarshalJSON accepts both the split-pair object form and a plain number.
func (f *FileLength) UnmarshalJSON(data []byte) error {
	type pair FileLength
	var p pair
	if err := json.Unmarshal(data, &p); err == nil {
		*f = FileLength(p)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Low = uint32(n)
		f.High = uint32(n >> 32)
		return nil
	}
	// Unparseable lengths degrade to zero rather than failing the row.
	*f = FileLength{}
	return nil
}

// MessageContent is the polymorphic message payload union stored as JSONB.
type MessageContent struct {
	Conversation        string        `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *MediaPayload `json:"imageMessage"`
	VideoMessage    *MediaPayload `json:"videoMessage"`
	DocumentMessage *MediaPayload `json:"documentMessage"`
	AudioMessage    *MediaPayload `json:"audioMessage"`
	MediaURL        string        `json:"mediaUrl"`
}

// KeyColumn scans the JSONB "key" column, degrading to a zero key on
// malformed data.
type KeyColumn struct {
	MessageKey
}

func (k *KeyColumn) Scan(src any) error {
	k.MessageKey = MessageKey{}
	if src == nil {
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	_ = json.Unmarshal(data, &k.MessageKey)
	return nil
}

func (k KeyColumn) Value() (driver.Value, error) {
	return json.Marshal(k.MessageKey)
}

// ContentColumn scans the JSONB "message" column, degrading to an empty
// union on malformed data.
type ContentColumn struct {
	MessageContent
}

func (c *ContentColumn) Scan(src any) error {
	c.MessageContent = MessageContent{}
	if src == nil {
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	_ = json.Unmarshal(data, &c.MessageContent)
	return nil
}

func (c ContentColumn) Value() (driver.Value, error) {
	return json.Marshal(c.MessageContent)
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported jsonb source %T", src)
	}
}

// MessageRow mirrors one row of the "Message" table.
type MessageRow struct {
	ID               string         `db:"id"`
	Key              KeyColumn      `db:"key"`
	Message          ContentColumn  `db:"message"`
	MessageType      sql.NullString `db:"messageType"`
	MessageTimestamp sql.NullInt64  `db:"messageTimestamp"`
	PushName         sql.NullString `db:"pushName"`
	Status           sql.NullString `db:"status"`
	Source           sql.NullString `db:"source"`
	InstanceID       string         `db:"instanceId"`
	ChatID           sql.NullString `db:"chatId"`
}

// MessageUpdateRow mirrors one row of the "MessageUpdate" table.
type MessageUpdateRow struct {
	MessageID  string         `db:"messageId"`
	Status     sql.NullString `db:"status"`
	InstanceID string         `db:"instanceId"`
}

// MediaRow mirrors one row of the "Media" table.
type MediaRow struct {
	ID        string         `db:"id"`
	FileName  sql.NullString `db:"fileName"`
	Type      sql.NullString `db:"type"`
	Mimetype  sql.NullString `db:"mimetype"`
	MessageID sql.NullString `db:"messageId"`
	FileURL   sql.NullString `db:"fileUrl"`
}

// LabelRow mirrors one row of the "Label" table.
type LabelRow struct {
	LabelID    string         `db:"labelId"`
	Name       sql.NullString `db:"name"`
	Color      sql.NullString `db:"color"`
	InstanceID sql.NullString `db:"instanceId"`
}

// InstanceRow mirrors one row of the "Instance" table.
type InstanceRow struct {
	ID               string         `db:"id"`
	Name             sql.NullString `db:"name"`
	ConnectionStatus sql.NullString `db:"connectionStatus"`
}
