package feed

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dkarimoff/evoinbox/internal/store"
)

// Wire framing of the change-feed websocket (phoenix-style envelopes).
type wireMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// changePayload is the body of a postgres_changes event.
type changePayload struct {
	Data changeData `json:"data"`
}

type changeData struct {
	Type   string          `json:"type"` // INSERT, UPDATE, DELETE
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// messageRecord is the JSON shape of a "Message" row on the feed.
type messageRecord struct {
	ID               string               `json:"id"`
	Key              store.MessageKey     `json:"key"`
	Message          store.MessageContent `json:"message"`
	MessageType      string               `json:"messageType"`
	MessageTimestamp int64                `json:"messageTimestamp"`
	PushName         string               `json:"pushName"`
	Status           string               `json:"status"`
	Source           string               `json:"source"`
	InstanceID       string               `json:"instanceId"`
	ChatID           string               `json:"chatId"`
}

func (r messageRecord) toRow() store.MessageRow {
	return store.MessageRow{
		ID:               r.ID,
		Key:              store.KeyColumn{MessageKey: r.Key},
		Message:          store.ContentColumn{MessageContent: r.Message},
		MessageType:      nullString(r.MessageType),
		MessageTimestamp: sql.NullInt64{Int64: r.MessageTimestamp, Valid: r.MessageTimestamp != 0},
		PushName:         nullString(r.PushName),
		Status:           nullString(r.Status),
		Source:           nullString(r.Source),
		InstanceID:       r.InstanceID,
		ChatID:           nullString(r.ChatID),
	}
}

// updateRecord is the JSON shape of a "MessageUpdate" row on the feed.
type updateRecord struct {
	MessageID  string `json:"messageId"`
	Status     string `json:"status"`
	InstanceID string `json:"instanceId"`
}

func (r updateRecord) toRow() store.MessageUpdateRow {
	return store.MessageUpdateRow{
		MessageID:  r.MessageID,
		Status:     nullString(r.Status),
		InstanceID: r.InstanceID,
	}
}

// chatRecord is the JSON shape of a "Chat" row on the feed.
type chatRecord struct {
	ID             string `json:"id"`
	RemoteJID      string `json:"remoteJid"`
	Name           string `json:"name"`
	UnreadMessages *int64 `json:"unreadMessages"`
	UpdatedAt      string `json:"updatedAt"`
	CreatedAt      string `json:"createdAt"`
	InstanceID     string `json:"instanceId"`
	Labels         string `json:"labels"`
}

func (r chatRecord) toRow() store.ChatRow {
	row := store.ChatRow{
		ID:         r.ID,
		RemoteJID:  r.RemoteJID,
		Name:       nullString(r.Name),
		InstanceID: r.InstanceID,
		Labels:     nullString(r.Labels),
	}
	if r.UnreadMessages != nil {
		row.UnreadMessages = sql.NullInt64{Int64: *r.UnreadMessages, Valid: true}
	}
	row.UpdatedAt = parseTime(r.UpdatedAt)
	row.CreatedAt = parseTime(r.CreatedAt)
	return row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) sql.NullTime {
	if s == "" {
		return sql.NullTime{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: t, Valid: true}
		}
	}
	return sql.NullTime{}
}
