package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/dispatch"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/store"
	"github.com/gorilla/websocket"
)

type fakeSyncer struct {
	loaded int
	opened string
}

func (f *fakeSyncer) Load(ctx context.Context) error { f.loaded++; return nil }
func (f *fakeSyncer) OpenConversation(ctx context.Context, remoteJID string) error {
	f.opened = remoteJID
	return nil
}
func (f *fakeSyncer) CloseConversation() {}

type fakeCommander struct {
	calls []string
	err   error
}

func (f *fakeCommander) record(name string) error { f.calls = append(f.calls, name); return f.err }

func (f *fakeCommander) SendText(ctx context.Context, remoteJID, text string) error {
	return f.record("text:" + text)
}
func (f *fakeCommander) SendMedia(ctx context.Context, remoteJID string, media gateway.Media) error {
	return f.record("media:" + media.Mediatype)
}
func (f *fakeCommander) SendMediaFile(ctx context.Context, remoteJID, mediatype, fileName, caption string, file io.Reader) error {
	return f.record("mediaFile:" + fileName)
}
func (f *fakeCommander) SendLocation(ctx context.Context, remoteJID string, loc gateway.Location) error {
	return f.record("location")
}
func (f *fakeCommander) SendContact(ctx context.Context, remoteJID string, cards []gateway.ContactCard) error {
	return f.record("contact")
}
func (f *fakeCommander) SendReaction(ctx context.Context, remoteJID, messageID, reaction string) error {
	return f.record("reaction:" + reaction)
}
func (f *fakeCommander) SendButtons(ctx context.Context, remoteJID, title, description, footer string, buttons []gateway.Button) error {
	return f.record("buttons")
}
func (f *fakeCommander) SendList(ctx context.Context, remoteJID, title, description, buttonText, footer string, sections []gateway.ListSection) error {
	return f.record("list")
}
func (f *fakeCommander) SendPoll(ctx context.Context, remoteJID, name string, selectableCount int, values []string) error {
	return f.record("poll")
}
func (f *fakeCommander) EditMessage(ctx context.Context, remoteJID, messageID, text string) error {
	return f.record("edit:" + messageID)
}
func (f *fakeCommander) UpdateLabels(ctx context.Context, conversationID string, labels []inbox.LabelTag) error {
	return f.record("labels")
}
func (f *fakeCommander) MarkRead(ctx context.Context, remoteJID string) error {
	return f.record("read")
}
func (f *fakeCommander) MarkUnread(ctx context.Context, remoteJID string) error {
	return f.record("unread")
}
func (f *fakeCommander) SetBlocked(ctx context.Context, remoteJID string, blocked bool) error {
	if blocked {
		return f.record("block")
	}
	return f.record("unblock")
}
func (f *fakeCommander) SetAutoReply(remoteJID string, enabled bool) error {
	return f.record("autopilot")
}

type fakeInstances struct{}

func (fakeInstances) FetchInstances(ctx context.Context) ([]gateway.InstanceInfo, error) {
	return []gateway.InstanceInfo{{ID: "inst-1", Name: "main", ConnectionStatus: "open"}}, nil
}
func (fakeInstances) CreateInstance(ctx context.Context, name string) (*gateway.InstanceInfo, error) {
	return &gateway.InstanceInfo{ID: "inst-new", Name: name}, nil
}
func (fakeInstances) ConnectInstance(ctx context.Context, instance string) (*gateway.Pairing, error) {
	return &gateway.Pairing{Code: "2@pairing-code"}, nil
}
func (fakeInstances) RestartInstance(ctx context.Context, instance string) error { return nil }
func (fakeInstances) LogoutInstance(ctx context.Context, instance string) error  { return nil }
func (fakeInstances) DeleteInstance(ctx context.Context, instance string) error  { return nil }
func (fakeInstances) ConnectionState(ctx context.Context, instance string) (string, error) {
	return "open", nil
}
func (fakeInstances) FindContacts(ctx context.Context, instance, remoteJID string) ([]gateway.ContactRecord, error) {
	return []gateway.ContactRecord{{ID: "contact-1", RemoteJID: "111@s.whatsapp.net", PushName: "Aisha"}}, nil
}

type fakePrefs struct{ id, name string }

func (f *fakePrefs) Preferred() (string, string)      { return f.id, f.name }
func (f *fakePrefs) SetPreferred(id, name string) error { f.id, f.name = id, name; return nil }

type apiFixture struct {
	server   *Server
	bus      *bus.Bus
	syncer   *fakeSyncer
	commands *fakeCommander
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	b := bus.New()
	conversations := inbox.NewConversations(b)
	messages := inbox.NewMessages(b)
	conversations.ApplyChatRow(store.ChatRow{
		ID:         "chat-1",
		RemoteJID:  "111@s.whatsapp.net",
		InstanceID: "inst-1",
	})
	messages.Replace("111@s.whatsapp.net", []inbox.Message{
		{ID: "m1", Text: "hi", TimestampMs: 1000},
	})

	syncer := &fakeSyncer{}
	commands := &fakeCommander{}
	srv := NewServer(conversations, messages, syncer, commands, fakeInstances{}, &fakePrefs{}, nil, b, nil, nil)
	return &apiFixture{server: srv, bus: b, syncer: syncer, commands: commands}
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestListConversations(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodGet, "/api/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []inbox.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].RemoteJID != "111@s.whatsapp.net" {
		t.Errorf("list = %+v", list)
	}
}

func TestOpenConversation(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/open", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if f.syncer.opened != "111@s.whatsapp.net" {
		t.Errorf("opened = %q", f.syncer.opened)
	}
}

func TestOpenUnknownConversation(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/999@s.whatsapp.net/open", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendTextValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/send/text", `{"text":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(f.commands.calls) != 0 {
		t.Errorf("invalid request reached the dispatcher: %v", f.commands.calls)
	}
}

func TestSendTextOK(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/send/text", `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.commands.calls) != 1 || f.commands.calls[0] != "text:hello" {
		t.Errorf("calls = %v", f.commands.calls)
	}
}

func TestGuardErrorMapsToConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.commands.err = dispatch.ErrInstanceOffline
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/send/text", `{"text":"hello"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSendMediaValidatesMediatype(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/send/media",
		`{"mediatype":"sticker","media":"https://x/y.webp"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendMediaFileUpload(t *testing.T) {
	f := newAPIFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("mediatype", "document"); err != nil {
		t.Fatal(err)
	}
	part, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(part, "pdf-bytes"); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/111@s.whatsapp.net/send/media-file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.commands.calls) != 1 || f.commands.calls[0] != "mediaFile:report.pdf" {
		t.Errorf("calls = %v", f.commands.calls)
	}
}

func TestBlockContact(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPost, "/api/conversations/111@s.whatsapp.net/block", `{"blocked":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.commands.calls) != 1 || f.commands.calls[0] != "block" {
		t.Errorf("calls = %v", f.commands.calls)
	}
}

func TestFindContacts(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodGet, "/api/contacts?instance=main", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var contacts []gateway.ContactRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].PushName != "Aisha" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestFindContactsWithoutInstance(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodGet, "/api/contacts", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestInstanceQRRendersPNG(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodGet, "/api/instances/main/qr", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestSetPreferredInstance(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodPut, "/api/preferred-instance", `{"id":"inst-2","name":"backup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, f.server, http.MethodGet, "/api/preferred-instance", "")
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "inst-2" || got["name"] != "backup" {
		t.Errorf("preferred = %v", got)
	}
}

func TestExportServesWorkbook(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.server, http.MethodGet, "/api/export.xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	// xlsx files are zip archives.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("body is not an xlsx archive")
	}
}

func TestStreamForwardsNotifications(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	// Give the handler a moment to register its subscriptions.
	time.Sleep(50 * time.Millisecond)
	f.bus.Publish(bus.Event{
		Kind:      "notify.info",
		Timestamp: time.Now(),
		Payload:   bus.Notification{Title: "Labels updated"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt streamEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Kind != "notify.info" {
		t.Errorf("kind = %q", evt.Kind)
	}
}
