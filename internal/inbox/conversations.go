package inbox

import (
	"sort"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/store"
)

func sortByRecency(list []Conversation) {
	// Stable: equal timestamps keep their prior relative order.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageTs > list[j].LastMessageTs
	})
}

// Conversations is the in-memory conversation list plus the auxiliary
// lookups (contacts, labels, instance states) an initial load produces.
// All mutations re-assert descending recency order before returning.
type Conversations struct {
	mu             sync.RWMutex
	list           []Conversation
	contacts       map[string]Contact
	labels         map[string]LabelTag
	instanceStatus map[string]string
	instanceNames  map[string]string
	instanceIDs    map[string]string
	bus            *bus.Bus
}

// NewConversations creates an empty conversation store. The bus may be
// nil; when set, every mutation publishes inbox.conversations_changed.
func NewConversations(b *bus.Bus) *Conversations {
	return &Conversations{
		contacts:       make(map[string]Contact),
		labels:         make(map[string]LabelTag),
		instanceStatus: make(map[string]string),
		instanceNames:  make(map[string]string),
		instanceIDs:    make(map[string]string),
		bus:            b,
	}
}

func (s *Conversations) publish() {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "inbox.conversations_changed", Timestamp: time.Now()})
	}
}

// Replace installs a freshly loaded snapshot. Per-conversation client
// state (autopilot flags) survives the reload.
func (s *Conversations) Replace(snap Snapshot) {
	s.mu.Lock()
	autoReply := make(map[string]bool)
	for _, c := range s.list {
		if c.AutoReply {
			autoReply[c.RemoteJID] = true
		}
	}
	for i := range snap.Conversations {
		if autoReply[snap.Conversations[i].RemoteJID] {
			snap.Conversations[i].AutoReply = true
		}
	}
	s.list = snap.Conversations
	s.contacts = snap.Contacts
	s.labels = snap.Labels
	s.instanceStatus = snap.InstanceStatus
	s.instanceNames = snap.InstanceNames
	s.instanceIDs = snap.InstanceIDs
	s.mu.Unlock()
	s.publish()
}

// List returns a copy of the conversation list in recency order.
func (s *Conversations) List() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, len(s.list))
	copy(out, s.list)
	return out
}

// Get returns the conversation for a remote address.
func (s *Conversations) Get(remoteJID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.list {
		if c.RemoteJID == remoteJID {
			return c, true
		}
	}
	return Conversation{}, false
}

// Len reports the number of conversations held.
func (s *Conversations) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Contact returns the known contact for a remote address.
func (s *Conversations) Contact(remoteJID string) (Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[remoteJID]
	return c, ok
}

// LabelByID resolves one label id.
func (s *Conversations) LabelByID(id string) (LabelTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.labels[id]
	return tag, ok
}

// AvailableLabels returns all known labels.
func (s *Conversations) AvailableLabels() []LabelTag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LabelTag, 0, len(s.labels))
	for _, tag := range s.labels {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InstanceName resolves an instance id to its name.
func (s *Conversations) InstanceName(instanceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instanceNames[instanceID]
}

// InstanceID resolves an instance name to its id.
func (s *Conversations) InstanceID(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instanceIDs[name]
}

// InstanceStatus returns the last known connection state of an instance.
func (s *Conversations) InstanceStatus(instanceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instanceStatus[instanceID]
}

// SetInstanceStatus records a polled connection state.
func (s *Conversations) SetInstanceStatus(instanceID, state string) {
	s.mu.Lock()
	s.instanceStatus[instanceID] = state
	s.mu.Unlock()
	s.publish()
}

// ApplyInbound folds a new-message event into the list: known remotes get
// their preview updated and move up, unknown remotes bootstrap a new
// conversation at the head with unread 1 (0 when own-outbound).
func (s *Conversations) ApplyInbound(row store.MessageRow, msg Message) {
	remote := RemoteOf(row)
	if remote == "" {
		return
	}

	s.mu.Lock()
	idx := -1
	for i, c := range s.list {
		if c.RemoteJID == remote {
			idx = i
			break
		}
	}

	if idx == -1 {
		name := s.contacts[remote].PushName
		if name == "" {
			name = row.PushName.String
		}
		if name == "" {
			name = remote
		}
		unread := 1
		if msg.Own {
			unread = 0
		}
		id := row.ChatID.String
		if id == "" {
			id = row.ID
		}
		fresh := Conversation{
			ID:            id,
			RemoteJID:     remote,
			Name:          StripRemoteSuffix(name),
			Avatar:        s.contacts[remote].ProfilePicURL,
			LastMessage:   msg.Text,
			Timestamp:     msg.Timestamp,
			LastMessageTs: msg.TimestampMs,
			LastSource:    msg.Source,
			UnreadCount:   unread,
			Status:        "new",
			InstanceID:    row.InstanceID,
		}
		s.list = append([]Conversation{fresh}, s.list...)
	} else {
		c := s.list[idx]
		c.LastMessage = msg.Text
		c.Timestamp = msg.Timestamp
		c.LastMessageTs = msg.TimestampMs
		c.LastSource = msg.Source
		if !msg.Own {
			c.UnreadCount++
		}
		s.list = append(s.list[:idx], s.list[idx+1:]...)
		s.list = append([]Conversation{c}, s.list...)
	}
	sortByRecency(s.list)
	s.mu.Unlock()
	s.publish()
}

// ApplyChatRow folds a chat-table change into the list, keyed by storage
// id. Persisted fields win over locally held ones; preview fields the row
// does not carry are kept. Applying the same row twice is idempotent.
func (s *Conversations) ApplyChatRow(row store.ChatRow) {
	s.mu.Lock()
	idx := -1
	for i, c := range s.list {
		if c.ID == row.ID {
			idx = i
			break
		}
	}

	var prev Conversation
	if idx >= 0 {
		prev = s.list[idx]
	}

	name := row.Name.String
	if name == "" {
		name = s.contacts[row.RemoteJID].PushName
	}
	if name == "" {
		name = row.RemoteJID
	}

	merged := Conversation{
		ID:          row.ID,
		RemoteJID:   row.RemoteJID,
		Name:        StripRemoteSuffix(name),
		Avatar:      s.contacts[row.RemoteJID].ProfilePicURL,
		LastMessage: prev.LastMessage,
		LastSource:  prev.LastSource,
		Status:      connectionLabel(s.instanceStatus[row.InstanceID], s.contacts[row.RemoteJID].PushName != ""),
		Labels:      ResolveLabels(ParseLabelIDs(row.Labels.String), s.labels),
		InstanceID:  row.InstanceID,
		AutoReply:   prev.AutoReply,
	}
	if row.UpdatedAt.Valid {
		merged.Timestamp = FormatTime(row.UpdatedAt.Time)
		merged.LastMessageTs = row.UpdatedAt.Time.UnixMilli()
	} else {
		merged.Timestamp = prev.Timestamp
		merged.LastMessageTs = prev.LastMessageTs
	}
	if row.UnreadMessages.Valid {
		merged.UnreadCount = int(row.UnreadMessages.Int64)
	} else {
		merged.UnreadCount = prev.UnreadCount
	}
	if merged.UnreadCount < 0 {
		merged.UnreadCount = 0
	}
	if merged.LastMessage == "" {
		// Same empty state an initial load produces for messageless chats.
		merged.LastMessage = noMessagesPlaceholder
	}

	if idx == -1 {
		s.list = append([]Conversation{merged}, s.list...)
	} else {
		s.list = append(s.list[:idx], s.list[idx+1:]...)
		s.list = append([]Conversation{merged}, s.list...)
	}
	sortByRecency(s.list)
	s.mu.Unlock()
	s.publish()
}

// SetRead zeroes the unread counter of a conversation.
func (s *Conversations) SetRead(remoteJID string) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].RemoteJID == remoteJID {
			s.list[i].UnreadCount = 0
			break
		}
	}
	s.mu.Unlock()
	s.publish()
}

// AdjustUnread applies a delta to the unread counter, clamping at zero.
// Returns the resulting count.
func (s *Conversations) AdjustUnread(remoteJID string, delta int) int {
	s.mu.Lock()
	result := 0
	for i := range s.list {
		if s.list[i].RemoteJID == remoteJID {
			s.list[i].UnreadCount += delta
			if s.list[i].UnreadCount < 0 {
				s.list[i].UnreadCount = 0
			}
			result = s.list[i].UnreadCount
			break
		}
	}
	s.mu.Unlock()
	s.publish()
	return result
}

// SetLabels replaces a conversation's label set and returns the prior set
// for rollback.
func (s *Conversations) SetLabels(conversationID string, labels []LabelTag) []LabelTag {
	s.mu.Lock()
	var prev []LabelTag
	for i := range s.list {
		if s.list[i].ID == conversationID {
			prev = s.list[i].Labels
			s.list[i].Labels = labels
			break
		}
	}
	s.mu.Unlock()
	s.publish()
	return prev
}

// SetAutoReply toggles the automated-reply lock for a conversation.
func (s *Conversations) SetAutoReply(remoteJID string, enabled bool) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].RemoteJID == remoteJID {
			s.list[i].AutoReply = enabled
			break
		}
	}
	s.mu.Unlock()
	s.publish()
}
