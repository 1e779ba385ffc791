package inbox

import (
	"sort"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
)

func sortAscending(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].TimestampMs < list[j].TimestampMs
	})
}

// Messages is the in-memory ordered message list of the currently open
// conversation. Display order is ascending by timestamp, re-asserted
// after every mutation; realtime delivery order is not trusted.
type Messages struct {
	mu     sync.RWMutex
	remote string
	list   []Message
	bus    *bus.Bus
}

// NewMessages creates an empty message store. The bus may be nil; when
// set, every mutation publishes inbox.messages_changed.
func NewMessages(b *bus.Bus) *Messages {
	return &Messages{bus: b}
}

func (s *Messages) publish() {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "inbox.messages_changed", Timestamp: time.Now()})
	}
}

// Replace installs a freshly loaded page for the given conversation.
func (s *Messages) Replace(remoteJID string, msgs []Message) {
	sortAscending(msgs)
	s.mu.Lock()
	s.remote = remoteJID
	s.list = msgs
	s.mu.Unlock()
	s.publish()
}

// Clear empties the store when no conversation is open.
func (s *Messages) Clear() {
	s.mu.Lock()
	s.remote = ""
	s.list = nil
	s.mu.Unlock()
	s.publish()
}

// Remote returns the remote address of the open conversation.
func (s *Messages) Remote() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// List returns a copy of the message list in ascending timestamp order.
func (s *Messages) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.list))
	copy(out, s.list)
	return out
}

// Get returns a message by storage id.
func (s *Messages) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.list {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// ApplyInbound folds a message into the open conversation. A message
// carrying the key id of an already-held entry replaces that entry: the
// realtime echo of an acknowledged send supersedes the optimistic copy
// instead of duplicating it. Reports whether it was applied.
func (s *Messages) ApplyInbound(remoteJID string, msg Message) bool {
	s.mu.Lock()
	if s.remote == "" || s.remote != remoteJID {
		s.mu.Unlock()
		return false
	}
	replaced := false
	if msg.KeyID != "" {
		for i := range s.list {
			if s.list[i].KeyID == msg.KeyID {
				s.list[i] = msg
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.list = append(s.list, msg)
	}
	sortAscending(s.list)
	s.mu.Unlock()
	s.publish()
	return true
}

// ApplyStatus overwrites the status of the message matching the given
// identifier (gateway key id or storage id). No-op when the message is
// not loaded locally.
func (s *Messages) ApplyStatus(id, status string) bool {
	if status == "" {
		return false
	}
	s.mu.Lock()
	applied := false
	for i := range s.list {
		if s.list[i].KeyID == id || s.list[i].ID == id {
			s.list[i].Status = status
			applied = true
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.publish()
	}
	return applied
}

// Acknowledge stamps the gateway key id and status onto a locally
// created message once the gateway accepts the send.
func (s *Messages) Acknowledge(id, keyID, status string) bool {
	s.mu.Lock()
	applied := false
	for i := range s.list {
		if s.list[i].ID == id {
			if keyID != "" {
				s.list[i].KeyID = keyID
			}
			if status != "" {
				s.list[i].Status = status
			}
			applied = true
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.publish()
	}
	return applied
}

// ApplyStatusBulk overwrites the status of every message whose key id is
// in ids. Returns the storage ids of the affected messages.
func (s *Messages) ApplyStatusBulk(ids []string, status string) []string {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	s.mu.Lock()
	var affected []string
	for i := range s.list {
		if set[s.list[i].KeyID] || set[s.list[i].ID] {
			s.list[i].Status = status
			affected = append(affected, s.list[i].ID)
		}
	}
	s.mu.Unlock()
	if len(affected) > 0 {
		s.publish()
	}
	return affected
}

// SetText rewrites a message body (optimistic edit) and marks the given
// status. Returns the prior message for rollback.
func (s *Messages) SetText(id, text, status string) (Message, bool) {
	s.mu.Lock()
	var prev Message
	found := false
	for i := range s.list {
		if s.list[i].ID == id {
			prev = s.list[i]
			s.list[i].Text = text
			s.list[i].Status = status
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.publish()
	}
	return prev, found
}

// Restore puts a previously captured message back (rollback of SetText).
func (s *Messages) Restore(msg Message) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].ID == msg.ID {
			s.list[i] = msg
			break
		}
	}
	s.mu.Unlock()
	s.publish()
}

// AppendMedia merges late-arriving attachments onto an existing message,
// deduplicated by (kind, url-or-name).
func (s *Messages) AppendMedia(messageID string, attachments []Attachment) bool {
	if len(attachments) == 0 {
		return false
	}
	s.mu.Lock()
	applied := false
	for i := range s.list {
		if s.list[i].ID == messageID {
			merged := append(append([]Attachment{}, s.list[i].Attachments...), attachments...)
			s.list[i].Attachments = DedupeAttachments(merged)
			applied = true
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.publish()
	}
	return applied
}

// Unread returns the incoming messages not yet marked read, as
// (storage id, key id) pairs for a bulk mark-read call.
func (s *Messages) Unread() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.list {
		if !m.Own && m.KeyID != "" && m.Status != StatusRead {
			out = append(out, m)
		}
	}
	return out
}
