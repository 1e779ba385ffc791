package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/metrics"
	"github.com/dkarimoff/evoinbox/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixtureStore struct {
	chats     []store.ChatRow
	contacts  []store.ContactRow
	recent    []store.MessageRow
	instances []store.InstanceRow
	labels    []store.LabelRow
	history   map[string][]store.MessageRow
	media     map[string][]store.MediaRow
}

func (f *fixtureStore) ListChats(ctx context.Context, instanceID string) ([]store.ChatRow, error) {
	return f.chats, nil
}

func (f *fixtureStore) ListContacts(ctx context.Context, instanceID string) ([]store.ContactRow, error) {
	return f.contacts, nil
}

func (f *fixtureStore) RecentMessages(ctx context.Context, instanceID string, limit int) ([]store.MessageRow, error) {
	return f.recent, nil
}

func (f *fixtureStore) ListInstances(ctx context.Context) ([]store.InstanceRow, error) {
	return f.instances, nil
}

func (f *fixtureStore) ListLabels(ctx context.Context) ([]store.LabelRow, error) {
	return f.labels, nil
}

func (f *fixtureStore) MessagesForRemote(ctx context.Context, remoteJID, instanceID string, limit int) ([]store.MessageRow, error) {
	return f.history[remoteJID], nil
}

func (f *fixtureStore) MediaForMessages(ctx context.Context, messageIDs []string) ([]store.MediaRow, error) {
	var out []store.MediaRow
	for _, id := range messageIDs {
		out = append(out, f.media[id]...)
	}
	return out, nil
}

func (f *fixtureStore) MediaForMessage(ctx context.Context, messageID string) ([]store.MediaRow, error) {
	return f.media[messageID], nil
}

func textRow(id, remote, instanceID, text string, ts int64, fromMe bool) store.MessageRow {
	return store.MessageRow{
		ID: id,
		Key: store.KeyColumn{MessageKey: store.MessageKey{
			ID:        "K-" + id,
			RemoteJID: remote,
			FromMe:    fromMe,
		}},
		Message:          store.ContentColumn{MessageContent: store.MessageContent{Conversation: text}},
		MessageType:      sql.NullString{String: "conversation", Valid: true},
		MessageTimestamp: sql.NullInt64{Int64: ts, Valid: true},
		InstanceID:       instanceID,
	}
}

func newEngine(t *testing.T, f *fixtureStore) (*Engine, *inbox.Conversations, *inbox.Messages, *metrics.Metrics) {
	t.Helper()
	b := bus.New()
	conversations := inbox.NewConversations(b)
	messages := inbox.NewMessages(b)
	m := metrics.New(b.Dropped)
	return NewEngine(f, conversations, messages, b, m, nil), conversations, messages, m
}

func TestLoadBuildsConversationList(t *testing.T) {
	f := &fixtureStore{
		chats: []store.ChatRow{
			{ID: "chat-1", RemoteJID: "111@s.whatsapp.net", InstanceID: "inst-1"},
			{ID: "chat-2", RemoteJID: "222@s.whatsapp.net", InstanceID: "inst-1"},
		},
		contacts: []store.ContactRow{
			{RemoteJID: "111@s.whatsapp.net", PushName: sql.NullString{String: "Aisha", Valid: true}},
		},
		recent: []store.MessageRow{
			textRow("m2", "222@s.whatsapp.net", "inst-1", "newer", 2000, false),
			textRow("m1", "111@s.whatsapp.net", "inst-1", "older", 1000, false),
		},
		instances: []store.InstanceRow{
			{ID: "inst-1", Name: sql.NullString{String: "main", Valid: true}},
		},
	}
	engine, conversations, _, m := newEngine(t, f)

	if err := engine.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	list := conversations.List()
	if len(list) != 2 {
		t.Fatalf("got %d conversations, want 2", len(list))
	}
	if list[0].RemoteJID != "222@s.whatsapp.net" {
		t.Errorf("newest conversation must sort first, got %s", list[0].RemoteJID)
	}
	if got := testutil.ToFloat64(m.Conversations); got != 2 {
		t.Errorf("conversations gauge = %v, want 2", got)
	}
}

func TestOpenConversationMergesMedia(t *testing.T) {
	f := &fixtureStore{
		history: map[string][]store.MessageRow{
			"111@s.whatsapp.net": {
				textRow("m1", "111@s.whatsapp.net", "inst-1", "look", 1000, false),
			},
		},
		media: map[string][]store.MediaRow{
			"m1": {{
				ID:        "med-1",
				Type:      sql.NullString{String: "image", Valid: true},
				MessageID: sql.NullString{String: "m1", Valid: true},
				FileURL:   sql.NullString{String: "https://cdn.example/a.jpg", Valid: true},
			}},
		},
	}
	engine, _, messages, _ := newEngine(t, f)

	if err := engine.OpenConversation(context.Background(), "111@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	got, ok := messages.Get("m1")
	if !ok {
		t.Fatal("message not loaded")
	}
	if len(got.Attachments) != 1 || got.Attachments[0].URL != "https://cdn.example/a.jpg" {
		t.Errorf("attachments = %+v", got.Attachments)
	}
}

func TestFeedMessageUpdatesBothStores(t *testing.T) {
	f := &fixtureStore{}
	engine, conversations, messages, _ := newEngine(t, f)
	messages.Replace("111@s.whatsapp.net", nil)

	engine.handleMessage(context.Background(), textRow("m9", "111@s.whatsapp.net", "inst-1", "ping", 5000, false))

	conv, ok := conversations.Get("111@s.whatsapp.net")
	if !ok {
		t.Fatal("unseen remote must bootstrap a conversation")
	}
	if conv.LastMessage != "ping" || conv.UnreadCount != 1 {
		t.Errorf("conversation = %+v", conv)
	}
	if _, ok := messages.Get("m9"); !ok {
		t.Error("open conversation must receive the message")
	}
}

func TestFeedEventInstanceMismatchDiscarded(t *testing.T) {
	f := &fixtureStore{}
	engine, conversations, _, m := newEngine(t, f)
	engine.BindInstance("inst-1")

	engine.handleMessage(context.Background(), textRow("m9", "111@s.whatsapp.net", "inst-2", "ping", 5000, false))

	if conversations.Len() != 0 {
		t.Error("mismatched instance event must not mutate state")
	}
	if got := testutil.ToFloat64(m.FeedDrops); got != 1 {
		t.Errorf("discard counter = %v, want 1", got)
	}
}

func TestFeedMessageLateMediaRefetch(t *testing.T) {
	row := textRow("m5", "111@s.whatsapp.net", "inst-1", "", 5000, false)
	row.MessageType = sql.NullString{String: "imageMessage", Valid: true}
	f := &fixtureStore{
		media: map[string][]store.MediaRow{
			"m5": {{
				ID:        "med-5",
				Type:      sql.NullString{String: "image", Valid: true},
				MessageID: sql.NullString{String: "m5", Valid: true},
				FileURL:   sql.NullString{String: "https://cdn.example/late.jpg", Valid: true},
			}},
		},
	}
	engine, _, messages, _ := newEngine(t, f)
	messages.Replace("111@s.whatsapp.net", nil)

	engine.handleMessage(context.Background(), row)

	got, ok := messages.Get("m5")
	if !ok {
		t.Fatal("message not applied")
	}
	if len(got.Attachments) != 1 || got.Attachments[0].URL != "https://cdn.example/late.jpg" {
		t.Errorf("late media not merged: %+v", got.Attachments)
	}
}

func TestFeedUpdateSetsStatus(t *testing.T) {
	f := &fixtureStore{}
	engine, _, messages, _ := newEngine(t, f)
	messages.Replace("111@s.whatsapp.net", []inbox.Message{
		{ID: "m1", KeyID: "K-m1", TimestampMs: 1000},
	})

	engine.handleUpdate(store.MessageUpdateRow{
		MessageID: "K-m1",
		Status:    sql.NullString{String: inbox.StatusRead, Valid: true},
	})
	got, _ := messages.Get("m1")
	if got.Status != inbox.StatusRead {
		t.Errorf("status = %q, want READ", got.Status)
	}
}

func TestEngineConsumesBusEvents(t *testing.T) {
	f := &fixtureStore{}
	b := bus.New()
	conversations := inbox.NewConversations(b)
	messages := inbox.NewMessages(b)
	engine := NewEngine(f, conversations, messages, b, nil, nil)

	changed, unsub := b.Subscribe("inbox.conversations_changed", 10)
	defer unsub()

	engine.Start(context.Background())
	defer engine.Stop()

	b.Publish(bus.Event{
		Kind:      "feed.message",
		Timestamp: time.Now(),
		Payload:   textRow("m1", "111@s.whatsapp.net", "inst-1", "hello", 1000, false),
	})

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conversation change")
	}
	if conversations.Len() != 1 {
		t.Errorf("conversations = %d, want 1", conversations.Len())
	}
}
