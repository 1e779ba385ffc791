package inbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dkarimoff/evoinbox/internal/store"
)

// authenticatedMediaHost serves media that needs provider auth; such links
// 403 when embedded directly, so they are suppressed unless the message is
// own-outbound or the attachment is a document (rendered as a download
// link, where a failing href is acceptable).
const authenticatedMediaHost = "mmg.whatsapp.net"

const remoteSuffix = "@s.whatsapp.net"

// AttachmentPolicy controls the allow-list applied to media URLs.
type AttachmentPolicy struct {
	AllowAuthenticated             bool
	AllowAuthenticatedForDocuments bool
}

// ExtractText returns the first non-empty of plain body, extended-text
// body, image caption, video caption.
func ExtractText(c *store.MessageContent) string {
	if c == nil {
		return ""
	}
	if c.Conversation != "" {
		return c.Conversation
	}
	if c.ExtendedTextMessage != nil && c.ExtendedTextMessage.Text != "" {
		return c.ExtendedTextMessage.Text
	}
	if c.ImageMessage != nil && c.ImageMessage.Caption != "" {
		return c.ImageMessage.Caption
	}
	if c.VideoMessage != nil && c.VideoMessage.Caption != "" {
		return c.VideoMessage.Caption
	}
	return ""
}

func normalizeURL(value string, allowAuthenticated bool) string {
	if value == "" {
		return ""
	}
	if strings.Contains(value, authenticatedMediaHost) && !allowAuthenticated {
		return ""
	}
	if strings.HasPrefix(value, "/") {
		return ""
	}
	return value
}

func pickURL(p *store.MediaPayload, mediaURL string, allowAuthenticated bool) string {
	if u := normalizeURL(p.URL, allowAuthenticated); u != "" {
		return u
	}
	if u := normalizeURL(p.DirectPath, allowAuthenticated); u != "" {
		return u
	}
	return normalizeURL(mediaURL, allowAuthenticated)
}

// ExtractAttachments builds one attachment per media variant present on
// the content union, applying the URL allow-list policy.
func ExtractAttachments(c *store.MessageContent, policy AttachmentPolicy) []Attachment {
	if c == nil {
		return nil
	}
	var attachments []Attachment

	if p := c.ImageMessage; p != nil {
		attachments = append(attachments, Attachment{
			Kind:      KindImage,
			URL:       pickURL(p, c.MediaURL, policy.AllowAuthenticated),
			Caption:   p.Caption,
			Name:      p.FileName,
			Mimetype:  p.Mimetype,
			SizeBytes: p.FileLength.Bytes(),
		})
	}
	if p := c.VideoMessage; p != nil {
		attachments = append(attachments, Attachment{
			Kind:      KindVideo,
			URL:       pickURL(p, c.MediaURL, policy.AllowAuthenticated),
			Caption:   p.Caption,
			Name:      p.FileName,
			Mimetype:  p.Mimetype,
			SizeBytes: p.FileLength.Bytes(),
		})
	}
	if p := c.DocumentMessage; p != nil {
		allow := policy.AllowAuthenticated || policy.AllowAuthenticatedForDocuments
		attachments = append(attachments, Attachment{
			Kind:      KindDocument,
			URL:       pickURL(p, c.MediaURL, allow),
			Name:      p.FileName,
			Mimetype:  p.Mimetype,
			SizeBytes: p.FileLength.Bytes(),
		})
	}
	if p := c.AudioMessage; p != nil {
		attachments = append(attachments, Attachment{
			Kind:      KindAudio,
			URL:       pickURL(p, c.MediaURL, policy.AllowAuthenticated),
			Name:      p.FileName,
			Mimetype:  p.Mimetype,
			SizeBytes: p.FileLength.Bytes(),
		})
	}
	return attachments
}

// FormatTimestamp renders epoch seconds as "day.month, hour:minute".
// Zero or negative input yields an empty string.
func FormatTimestamp(seconds int64) string {
	if seconds <= 0 {
		return ""
	}
	return time.Unix(seconds, 0).Format("02.01, 15:04")
}

// FormatTime renders a wall-clock time the same way as FormatTimestamp.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02.01, 15:04")
}

// FriendlySource maps the gateway's source label to a display label.
// The gateway reports "unknown" for the paired mobile device.
func FriendlySource(src string) string {
	if src == "" {
		return ""
	}
	if strings.EqualFold(src, "unknown") {
		return "mobile app"
	}
	return src
}

// StripRemoteSuffix removes the direct-chat address suffix.
func StripRemoteSuffix(value string) string {
	return strings.TrimSuffix(value, remoteSuffix)
}

// IsDirectChat reports whether the remote address is a one-on-one chat
// (as opposed to a group or broadcast address).
func IsDirectChat(remoteJID string) bool {
	return strings.HasSuffix(remoteJID, remoteSuffix)
}

// ParseLabelIDs decodes the persisted label field: a JSON array first,
// then a comma-separated list. Unparseable input degrades to nil.
func ParseLabelIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		out := parsed[:0]
		for _, id := range parsed {
			if id != "" {
				out = append(out, id)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// MapMediaAttachment converts a media-table row to an attachment.
// Rows without a file URL are unusable and dropped.
func MapMediaAttachment(m store.MediaRow) (Attachment, bool) {
	if !m.FileURL.Valid || m.FileURL.String == "" {
		return Attachment{}, false
	}
	kind := AttachmentKind(strings.ToLower(m.Type.String))
	switch kind {
	case KindImage, KindVideo, KindDocument, KindAudio:
	default:
		kind = KindDocument
	}
	name := m.FileName.String
	if name == "" {
		name = string(kind)
	}
	return Attachment{
		Kind:     kind,
		URL:      m.FileURL.String,
		Name:     name,
		Mimetype: m.Mimetype.String,
	}, true
}

func isInlineMedia(a Attachment) bool {
	return a.Kind == KindImage || a.Kind == KindVideo || a.Kind == KindAudio
}

// DedupeAttachments drops inline media without a resolvable URL and
// collapses duplicates by (kind, url-or-name).
func DedupeAttachments(attachments []Attachment) []Attachment {
	if len(attachments) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(attachments))
	var out []Attachment
	for _, a := range attachments {
		if isInlineMedia(a) && a.URL == "" {
			continue
		}
		key := string(a.Kind) + "-" + a.URL
		if a.URL == "" {
			key = string(a.Kind) + "-" + a.Name
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// MapMessageRow translates a persisted message row into the view model,
// merging media-table attachments over payload-derived ones. It never
// fails; malformed fields degrade to empty values.
func MapMessageRow(row store.MessageRow, mediaAttachments []Attachment) Message {
	fromPayload := ExtractAttachments(&row.Message.MessageContent, AttachmentPolicy{
		AllowAuthenticated:             row.Key.FromMe,
		AllowAuthenticatedForDocuments: true,
	})
	merged := append(fromPayload, mediaAttachments...)

	sender := row.Key.Participant
	if sender == "" {
		sender = row.PushName.String
	}
	if sender == "" {
		sender = row.Key.RemoteJID
	}

	keyID := row.Key.ID
	if keyID == "" {
		keyID = row.ID
	}

	var tsMs int64
	if row.MessageTimestamp.Valid {
		tsMs = row.MessageTimestamp.Int64 * 1000
	}

	return Message{
		ID:          row.ID,
		KeyID:       keyID,
		SenderID:    sender,
		Participant: row.Key.Participant,
		Text:        ExtractText(&row.Message.MessageContent),
		Timestamp:   FormatTimestamp(row.MessageTimestamp.Int64),
		TimestampMs: tsMs,
		Source:      FriendlySource(row.Source.String),
		Own:         row.Key.FromMe,
		Status:      row.Status.String,
		Attachments: DedupeAttachments(merged),
	}
}

// RemoteOf returns the remote address a message row belongs to.
func RemoteOf(row store.MessageRow) string {
	if row.Key.RemoteJID != "" {
		return row.Key.RemoteJID
	}
	return row.Key.RemoteJIDAlt
}
