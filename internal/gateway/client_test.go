package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	method string
	path   string
	apikey string
	body   map[string]any
}

func testServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var calls []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			apikey: r.Header.Get("apikey"),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			_ = json.Unmarshal(data, &rec.body)
		}
		calls = append(calls, rec)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSendTextPostsToInstancePath(t *testing.T) {
	srv, calls := testServer(t, http.StatusCreated,
		`{"key":{"id":"MSG1","remoteJid":"111@s.whatsapp.net","fromMe":true},"status":"PENDING"}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	res, err := c.SendText(context.Background(), "main", "77001234567", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Key.ID != "MSG1" || res.Status != "PENDING" {
		t.Errorf("result = %+v", res)
	}

	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/message/sendText/main" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.apikey != "secret" {
		t.Errorf("apikey header = %q", got.apikey)
	}
	if got.body["number"] != "77001234567" || got.body["text"] != "hello" {
		t.Errorf("body = %+v", got.body)
	}
}

func TestUnconfiguredClientRejectsEveryCall(t *testing.T) {
	c := NewClient("", "", 100, nil)
	_, err := c.SendText(context.Background(), "main", "111", "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := c.FetchInstances(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestUpstreamErrorSurfacesStatusAndBody(t *testing.T) {
	srv, _ := testServer(t, http.StatusBadRequest, `{"message":"number not on whatsapp"}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	_, err := c.SendText(context.Background(), "main", "bad", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || !strings.Contains(apiErr.Body, "not on whatsapp") {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestHandleLabelBody(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	if err := c.HandleLabel(context.Background(), "main", "111@s.whatsapp.net", "5", "add"); err != nil {
		t.Fatal(err)
	}
	got := (*calls)[0]
	if got.path != "/label/handleLabel/main" {
		t.Errorf("path = %s", got.path)
	}
	if got.body["labelId"] != "5" || got.body["action"] != "add" {
		t.Errorf("body = %+v", got.body)
	}
}

func TestMarkChatReadSendsKeys(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	keys := []MessageKey{{ID: "K1", RemoteJID: "111@s.whatsapp.net"}}
	if err := c.MarkChatRead(context.Background(), "main", keys); err != nil {
		t.Fatal(err)
	}
	raw, ok := (*calls)[0].body["readMessages"].([]any)
	if !ok || len(raw) != 1 {
		t.Fatalf("readMessages = %+v", (*calls)[0].body)
	}
}

func TestFindContactsFiltersByRemote(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK,
		`[{"id":"contact-1","remoteJid":"111@s.whatsapp.net","pushName":"Aisha"}]`)
	c := NewClient(srv.URL, "secret", 100, nil)

	contacts, err := c.FindContacts(context.Background(), "main", "111@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].PushName != "Aisha" {
		t.Errorf("contacts = %+v", contacts)
	}
	got := (*calls)[0]
	if got.path != "/chat/findContacts/main" {
		t.Errorf("path = %s", got.path)
	}
	where, ok := got.body["where"].(map[string]any)
	if !ok || where["id"] != "111@s.whatsapp.net" {
		t.Errorf("body = %+v", got.body)
	}
}

func TestUpdateBlockStatusBody(t *testing.T) {
	srv, calls := testServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	if err := c.UpdateBlockStatus(context.Background(), "main", "77001234567", "block"); err != nil {
		t.Fatal(err)
	}
	got := (*calls)[0]
	if got.path != "/message/updateBlockStatus/main" {
		t.Errorf("path = %s", got.path)
	}
	if got.body["number"] != "77001234567" || got.body["status"] != "block" {
		t.Errorf("body = %+v", got.body)
	}
}

func TestConnectionState(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK, `{"instance":{"instanceName":"main","state":"open"}}`)
	c := NewClient(srv.URL, "secret", 100, nil)

	state, err := c.ConnectionState(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if state != "open" {
		t.Errorf("state = %q, want open", state)
	}
}

func TestFetchInstances(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK,
		`[{"id":"inst-1","name":"main","connectionStatus":"open"},{"id":"inst-2","name":"backup","connectionStatus":"close"}]`)
	c := NewClient(srv.URL, "secret", 100, nil)

	instances, err := c.FetchInstances(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Name != "main" {
		t.Errorf("instances = %+v", instances)
	}
}

func TestSendMediaFileMultipart(t *testing.T) {
	var contentType string
	var fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			fileBody = string(data)
		}
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 100, nil)
	_, err := c.SendMediaFile(context.Background(), "main", "111", "document", "report.pdf", "", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		t.Errorf("content type = %q", contentType)
	}
	if fileBody != "pdf-bytes" {
		t.Errorf("file body = %q", fileBody)
	}
}
