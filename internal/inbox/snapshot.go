package inbox

import (
	"github.com/dkarimoff/evoinbox/internal/store"
)

// noMessagesPlaceholder is shown for chats that have a row but no message
// in the recent-message window.
const noMessagesPlaceholder = "no messages"

// LoadInput carries the five source row sets of an initial load.
// Recent must be ordered newest-first; the first row seen per remote is
// that remote's last message.
type LoadInput struct {
	Chats            []store.ChatRow
	Contacts         []store.ContactRow
	Recent           []store.MessageRow
	Instances        []store.InstanceRow
	Labels           []store.LabelRow
	TargetInstanceID string
}

// Snapshot is the joined result of an initial load.
type Snapshot struct {
	Conversations  []Conversation
	Contacts       map[string]Contact
	Labels         map[string]LabelTag
	InstanceStatus map[string]string // instance id -> connection state
	InstanceNames  map[string]string // instance id -> name
	InstanceIDs    map[string]string // name -> instance id
}

// ResolveLabels maps label ids to tags, falling back to an id-named tag
// for unknown ids.
func ResolveLabels(ids []string, known map[string]LabelTag) []LabelTag {
	if len(ids) == 0 {
		return nil
	}
	tags := make([]LabelTag, 0, len(ids))
	for _, id := range ids {
		if tag, ok := known[id]; ok {
			tags = append(tags, tag)
			continue
		}
		tags = append(tags, LabelTag{LabelID: id, Name: id})
	}
	return tags
}

func connectionLabel(state string, hasContactName bool) string {
	switch {
	case state == ConnectionOpen:
		return "online"
	case state == ConnectionConnecting:
		return "connecting"
	case state != "":
		return "offline"
	case hasContactName:
		return "available"
	default:
		return "unknown"
	}
}

// BuildSnapshot joins chat, contact, message, instance and label rows into
// the conversation list, sorted descending by last-message timestamp.
//
// Fallback rule for chats with no message in the window: the preview is
// the "no messages" placeholder and the sort timestamp is the chat row's
// updatedAt when present, else 0. Such chats therefore interleave with
// messaged chats by row-touch recency; that matches the source system.
func BuildSnapshot(in LoadInput) Snapshot {
	snap := Snapshot{
		Contacts:       make(map[string]Contact, len(in.Contacts)),
		Labels:         make(map[string]LabelTag, len(in.Labels)),
		InstanceStatus: make(map[string]string, len(in.Instances)),
		InstanceNames:  make(map[string]string, len(in.Instances)),
		InstanceIDs:    make(map[string]string, len(in.Instances)),
	}

	for _, c := range in.Contacts {
		snap.Contacts[c.RemoteJID] = Contact{
			RemoteJID:     c.RemoteJID,
			PushName:      c.PushName.String,
			ProfilePicURL: c.ProfilePicURL.String,
		}
	}
	for _, i := range in.Instances {
		snap.InstanceStatus[i.ID] = i.ConnectionStatus.String
		if i.Name.Valid && i.Name.String != "" {
			snap.InstanceNames[i.ID] = i.Name.String
			snap.InstanceIDs[i.Name.String] = i.ID
		}
	}
	for _, l := range in.Labels {
		if l.LabelID == "" {
			continue
		}
		name := l.Name.String
		if name == "" {
			name = l.LabelID
		}
		snap.Labels[l.LabelID] = LabelTag{LabelID: l.LabelID, Name: name, Color: l.Color.String}
	}

	lastByRemote := make(map[string]store.MessageRow)
	lastIncomingByRemote := make(map[string]store.MessageRow)
	for _, m := range in.Recent {
		remote := RemoteOf(m)
		if remote == "" {
			continue
		}
		if _, ok := lastByRemote[remote]; !ok {
			lastByRemote[remote] = m
		}
		if !m.Key.FromMe {
			if _, ok := lastIncomingByRemote[remote]; !ok {
				lastIncomingByRemote[remote] = m
			}
		}
	}

	var conversations []Conversation
	for _, chat := range in.Chats {
		if in.TargetInstanceID != "" && chat.InstanceID != in.TargetInstanceID {
			continue
		}
		contact := snap.Contacts[chat.RemoteJID]

		var lastText, tsString, lastSource string
		var lastTs int64
		if lastMsg, ok := lastByRemote[chat.RemoteJID]; ok {
			lastText = ExtractText(&lastMsg.Message.MessageContent)
			lastTs = lastMsg.MessageTimestamp.Int64 * 1000
			tsString = FormatTimestamp(lastMsg.MessageTimestamp.Int64)
			src := lastMsg.Source.String
			if incoming, ok := lastIncomingByRemote[chat.RemoteJID]; ok {
				src = incoming.Source.String
			}
			lastSource = FriendlySource(src)
		} else if chat.UpdatedAt.Valid {
			lastTs = chat.UpdatedAt.Time.UnixMilli()
			tsString = FormatTime(chat.UpdatedAt.Time)
		}
		if lastText == "" {
			lastText = noMessagesPlaceholder
		}

		name := chat.Name.String
		if name == "" {
			name = contact.PushName
		}
		if name == "" {
			name = chat.RemoteJID
		}
		name = StripRemoteSuffix(name)
		if name == "" {
			name = "unknown contact"
		}

		unread := 0
		if chat.UnreadMessages.Valid && chat.UnreadMessages.Int64 > 0 {
			unread = int(chat.UnreadMessages.Int64)
		}

		conversations = append(conversations, Conversation{
			ID:            chat.ID,
			RemoteJID:     chat.RemoteJID,
			Name:          name,
			Avatar:        contact.ProfilePicURL,
			LastMessage:   lastText,
			Timestamp:     tsString,
			LastMessageTs: lastTs,
			LastSource:    lastSource,
			UnreadCount:   unread,
			Status:        connectionLabel(snap.InstanceStatus[chat.InstanceID], contact.PushName != ""),
			Labels:        ResolveLabels(ParseLabelIDs(chat.Labels.String), snap.Labels),
			InstanceID:    chat.InstanceID,
		})
	}

	sortByRecency(conversations)
	snap.Conversations = conversations
	return snap
}
