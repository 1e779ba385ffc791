package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Client talks to the messaging gateway's HTTP API. Calls are rate
// limited and authenticated with the gateway API key header.
//
// The client may be constructed unconfigured; every call then fails
// with ErrNotConfigured. The read-only inbox works without a gateway.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// ErrNotConfigured is returned when gateway calls are attempted without
// the gateway URL and API key set.
var ErrNotConfigured = fmt.Errorf("gateway not configured: EVOLUTION_API_URL and EVOLUTION_API_KEY are required")

// APIError is a non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// NewClient creates a gateway client. baseURL and apiKey may be empty;
// the client then rejects every call with ErrNotConfigured.
func NewClient(baseURL, apiKey string, ratePerSec int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.New(ratePerSec),
		logger:  logger,
	}
}

// Configured reports whether gateway calls can be made.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	c.limiter.Take()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("gateway call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

// MessageKey identifies a message on the gateway side.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// SendResult is the gateway's acknowledgement of an outbound message.
type SendResult struct {
	Key              MessageKey `json:"key"`
	Status           string     `json:"status"`
	MessageTimestamp int64      `json:"messageTimestamp"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendText/"+instance, map[string]any{
		"number": number,
		"text":   text,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Media describes an outbound media message referencing a URL or base64 body.
type Media struct {
	Mediatype string `json:"mediatype"` // image, video, document, audio
	Media     string `json:"media"`     // URL or base64 payload
	FileName  string `json:"fileName,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
}

// SendMedia sends a media message by URL or base64 payload.
func (c *Client) SendMedia(ctx context.Context, instance, number string, media Media) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendMedia/"+instance, map[string]any{
		"number":    number,
		"mediatype": media.Mediatype,
		"media":     media.Media,
		"fileName":  media.FileName,
		"caption":   media.Caption,
		"mimetype":  media.Mimetype,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMediaFile uploads a local file as a multipart media message.
func (c *Client) SendMediaFile(ctx context.Context, instance, number, mediatype, fileName, caption string, file io.Reader) (*SendResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	c.limiter.Take()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, value := range map[string]string{
		"number":    number,
		"mediatype": mediatype,
		"fileName":  fileName,
		"caption":   caption,
	} {
		if value == "" {
			continue
		}
		if err := mw.WriteField(field, value); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message/sendMedia/"+instance, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var out SendResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return &out, nil
}

// Location is an outbound location message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// SendLocation sends a location pin.
func (c *Client) SendLocation(ctx context.Context, instance, number string, loc Location) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendLocation/"+instance, map[string]any{
		"number":    number,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"name":      loc.Name,
		"address":   loc.Address,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ContactCard is an outbound contact card.
type ContactCard struct {
	FullName    string `json:"fullName"`
	WUID        string `json:"wuid"`
	PhoneNumber string `json:"phoneNumber"`
}

// SendContact shares one or more contact cards.
func (c *Client) SendContact(ctx context.Context, instance, number string, cards []ContactCard) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendContact/"+instance, map[string]any{
		"number":  number,
		"contact": cards,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendReaction sets an emoji reaction on a message.
func (c *Client) SendReaction(ctx context.Context, instance string, key MessageKey, reaction string) error {
	return c.do(ctx, http.MethodPost, "/message/sendReaction/"+instance, map[string]any{
		"key":      key,
		"reaction": reaction,
	}, nil)
}

// Button is one choice of an interactive button message.
type Button struct {
	Type        string `json:"type"` // reply, url, call, copy
	DisplayText string `json:"displayText"`
	ID          string `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	CopyCode    string `json:"copyCode,omitempty"`
}

// SendButtons sends an interactive button message.
func (c *Client) SendButtons(ctx context.Context, instance, number, title, description, footer string, buttons []Button) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendButtons/"+instance, map[string]any{
		"number":      number,
		"title":       title,
		"description": description,
		"footer":      footer,
		"buttons":     buttons,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRow is one selectable row of a list message.
type ListRow struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RowID       string `json:"rowId"`
}

// ListSection groups rows of a list message.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// SendList sends an interactive list message.
func (c *Client) SendList(ctx context.Context, instance, number, title, description, buttonText, footer string, sections []ListSection) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendList/"+instance, map[string]any{
		"number":      number,
		"title":       title,
		"description": description,
		"buttonText":  buttonText,
		"footerText":  footer,
		"sections":    sections,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendPoll sends a poll message.
func (c *Client) SendPoll(ctx context.Context, instance, number, name string, selectableCount int, values []string) (*SendResult, error) {
	var out SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendPoll/"+instance, map[string]any{
		"number":          number,
		"name":            name,
		"selectableCount": selectableCount,
		"values":          values,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMessage edits the text of an already-sent message.
func (c *Client) UpdateMessage(ctx context.Context, instance, number string, key MessageKey, text string) error {
	return c.do(ctx, http.MethodPost, "/chat/updateMessage/"+instance, map[string]any{
		"number": number,
		"key":    key,
		"text":   text,
	}, nil)
}

// HandleLabel adds or removes one label on a chat. action is "add" or
// "remove".
func (c *Client) HandleLabel(ctx context.Context, instance, number, labelID, action string) error {
	return c.do(ctx, http.MethodPost, "/label/handleLabel/"+instance, map[string]any{
		"number":  number,
		"labelId": labelID,
		"action":  action,
	}, nil)
}

// MarkChatRead marks the given message keys as read on the gateway.
func (c *Client) MarkChatRead(ctx context.Context, instance string, keys []MessageKey) error {
	return c.do(ctx, http.MethodPost, "/chat/markMessageAsRead/"+instance, map[string]any{
		"readMessages": keys,
	}, nil)
}

// ContactRecord is one gateway-side contact as returned by FindContacts.
type ContactRecord struct {
	ID            string `json:"id"`
	RemoteJID     string `json:"remoteJid"`
	PushName      string `json:"pushName"`
	ProfilePicURL string `json:"profilePicUrl"`
}

// FindContacts lists the instance's contacts, optionally narrowed to one
// remote address.
func (c *Client) FindContacts(ctx context.Context, instance, remoteJID string) ([]ContactRecord, error) {
	where := map[string]string{}
	if remoteJID != "" {
		where["id"] = remoteJID
	}
	var out []ContactRecord
	err := c.do(ctx, http.MethodPost, "/chat/findContacts/"+instance, map[string]any{
		"where": where,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBlockStatus blocks or unblocks a contact. status is "block" or
// "unblock".
func (c *Client) UpdateBlockStatus(ctx context.Context, instance, number, status string) error {
	return c.do(ctx, http.MethodPost, "/message/updateBlockStatus/"+instance, map[string]any{
		"number": number,
		"status": status,
	}, nil)
}

// ConnectionState returns the connection state of an instance, e.g.
// "open", "connecting" or "close".
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	var out struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+instance, nil, &out); err != nil {
		return "", err
	}
	return out.Instance.State, nil
}

// InstanceInfo is one gateway instance as reported by FetchInstances.
type InstanceInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}

// FetchInstances lists all instances known to the gateway.
func (c *Client) FetchInstances(ctx context.Context) ([]InstanceInfo, error) {
	var out []InstanceInfo
	if err := c.do(ctx, http.MethodGet, "/instance/fetchInstances", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInstance registers a new instance on the gateway.
func (c *Client) CreateInstance(ctx context.Context, name string) (*InstanceInfo, error) {
	var out struct {
		Instance struct {
			InstanceID   string `json:"instanceId"`
			InstanceName string `json:"instanceName"`
			Status       string `json:"status"`
		} `json:"instance"`
	}
	err := c.do(ctx, http.MethodPost, "/instance/create", map[string]any{
		"instanceName": name,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &InstanceInfo{
		ID:               out.Instance.InstanceID,
		Name:             out.Instance.InstanceName,
		ConnectionStatus: out.Instance.Status,
	}, nil
}

// Pairing is the connect response: either a ready-made QR image or a
// pairing code to render locally.
type Pairing struct {
	Code   string `json:"code"`
	Base64 string `json:"base64"`
}

// ConnectInstance starts pairing and returns the QR material.
func (c *Client) ConnectInstance(ctx context.Context, instance string) (*Pairing, error) {
	var out Pairing
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+instance, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestartInstance restarts the gateway-side connection of an instance.
func (c *Client) RestartInstance(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodPost, "/instance/restart/"+instance, nil, nil)
}

// LogoutInstance logs the instance out of the paired account.
func (c *Client) LogoutInstance(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+instance, nil, nil)
}

// DeleteInstance removes the instance from the gateway.
func (c *Client) DeleteInstance(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+instance, nil, nil)
}
