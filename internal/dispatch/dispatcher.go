package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/metrics"
	"github.com/dkarimoff/evoinbox/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Guard errors. A guarded-off command makes zero gateway calls.
var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrInstanceOffline     = errors.New("instance is not connected")
	ErrAutoReplyActive     = errors.New("automated reply handles this conversation")
)

// Gateway is the outbound surface of the gateway client the dispatcher
// uses. *gateway.Client satisfies it.
type Gateway interface {
	SendText(ctx context.Context, instance, number, text string) (*gateway.SendResult, error)
	SendMedia(ctx context.Context, instance, number string, media gateway.Media) (*gateway.SendResult, error)
	SendMediaFile(ctx context.Context, instance, number, mediatype, fileName, caption string, file io.Reader) (*gateway.SendResult, error)
	SendLocation(ctx context.Context, instance, number string, loc gateway.Location) (*gateway.SendResult, error)
	SendContact(ctx context.Context, instance, number string, cards []gateway.ContactCard) (*gateway.SendResult, error)
	SendReaction(ctx context.Context, instance string, key gateway.MessageKey, reaction string) error
	SendButtons(ctx context.Context, instance, number, title, description, footer string, buttons []gateway.Button) (*gateway.SendResult, error)
	SendList(ctx context.Context, instance, number, title, description, buttonText, footer string, sections []gateway.ListSection) (*gateway.SendResult, error)
	SendPoll(ctx context.Context, instance, number, name string, selectableCount int, values []string) (*gateway.SendResult, error)
	UpdateMessage(ctx context.Context, instance, number string, key gateway.MessageKey, text string) error
	HandleLabel(ctx context.Context, instance, number, labelID, action string) error
	MarkChatRead(ctx context.Context, instance string, keys []gateway.MessageKey) error
	UpdateBlockStatus(ctx context.Context, instance, number, status string) error
}

// Resolver determines the gateway instance a command runs against.
type Resolver interface {
	EnsureInstance(ctx context.Context, conv inbox.Conversation) (string, error)
}

// Writeback is the narrow store write surface for read-state updates.
type Writeback interface {
	UpdateMessageStatus(ctx context.Context, messageIDs []string, status string) error
	UpdateChatUnread(ctx context.Context, instanceID, remoteJID string, unread int) error
}

// Dispatcher runs outbound commands: resolve the instance, apply the
// optimistic local patch, call the gateway, and on failure roll the
// patch back and notify. Composition commands additionally pass the
// guard first; bookkeeping commands (labels, read state) run even when
// the instance is reconnecting.
type Dispatcher struct {
	gw            Gateway
	resolver      Resolver
	conversations *inbox.Conversations
	messages      *inbox.Messages
	writeback     Writeback
	bus           *bus.Bus
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewDispatcher creates a dispatcher. writeback may be nil when the
// store is unavailable; read-state then stays local.
func NewDispatcher(gw Gateway, resolver Resolver, conversations *inbox.Conversations, messages *inbox.Messages, writeback Writeback, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		gw:            gw,
		resolver:      resolver,
		conversations: conversations,
		messages:      messages,
		writeback:     writeback,
		bus:           b,
		metrics:       m,
		logger:        logger,
	}
}

// command is one optimistic gateway operation.
type command struct {
	name     string
	conv     inbox.Conversation
	guarded  bool          // composition command: blocked while autopilot holds the conversation or the instance is not open
	apply    func() func() // optimistic patch; returns the rollback
	call     func(ctx context.Context, instance string) error
	okTitle  string
	errTitle string
}

func (d *Dispatcher) run(ctx context.Context, cmd command) error {
	if cmd.guarded {
		if cmd.conv.AutoReply {
			d.notifyError(cmd.errTitle, ErrAutoReplyActive.Error())
			return ErrAutoReplyActive
		}
		if d.conversations.InstanceStatus(cmd.conv.InstanceID) != inbox.ConnectionOpen {
			d.notifyError(cmd.errTitle, ErrInstanceOffline.Error())
			return ErrInstanceOffline
		}
	}

	instance, err := d.resolver.EnsureInstance(ctx, cmd.conv)
	if err != nil {
		d.fail(cmd.name, cmd.errTitle, err)
		return err
	}

	var rollback func()
	if cmd.apply != nil {
		rollback = cmd.apply()
	}

	if err := cmd.call(ctx, instance); err != nil {
		if rollback != nil {
			rollback()
		}
		d.fail(cmd.name, cmd.errTitle, err)
		return err
	}

	if d.metrics != nil {
		d.metrics.Commands.WithLabelValues(cmd.name).Inc()
	}
	if cmd.okTitle != "" {
		d.notifyInfo(cmd.okTitle, "")
	}
	return nil
}

func (d *Dispatcher) fail(name, title string, err error) {
	if d.metrics != nil {
		d.metrics.CommandFails.WithLabelValues(name).Inc()
	}
	d.logger.Warn("command failed", zap.String("command", name), zap.Error(err))
	d.notifyError(title, err.Error())
}

func (d *Dispatcher) notifyInfo(title, detail string) {
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: "notify.info", Timestamp: time.Now(),
			Payload: bus.Notification{Title: title, Detail: detail}})
	}
}

func (d *Dispatcher) notifyError(title, detail string) {
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: "notify.error", Timestamp: time.Now(),
			Payload: bus.Notification{Title: title, Detail: detail}})
	}
}

func (d *Dispatcher) conversation(remoteJID string) (inbox.Conversation, error) {
	conv, ok := d.conversations.Get(remoteJID)
	if !ok {
		return inbox.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, remoteJID)
	}
	return conv, nil
}

func (d *Dispatcher) conversationByID(id string) (inbox.Conversation, error) {
	for _, c := range d.conversations.List() {
		if c.ID == id {
			return c, nil
		}
	}
	return inbox.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
}

// optimisticOutbound inserts a pending own message locally and returns
// the local message plus a rollback that marks it failed.
func (d *Dispatcher) optimisticOutbound(conv inbox.Conversation, text string, attachments []inbox.Attachment) (inbox.Message, func() func()) {
	now := time.Now()
	msg := inbox.Message{
		ID:          "local-" + uuid.NewString(),
		Text:        text,
		Timestamp:   inbox.FormatTime(now),
		TimestampMs: now.UnixMilli(),
		Own:         true,
		Status:      inbox.StatusPending,
		Attachments: attachments,
	}
	apply := func() func() {
		d.messages.ApplyInbound(conv.RemoteJID, msg)
		d.conversations.ApplyInbound(store.MessageRow{
			ID:         msg.ID,
			Key:        store.KeyColumn{MessageKey: store.MessageKey{ID: msg.ID, RemoteJID: conv.RemoteJID, FromMe: true}},
			InstanceID: conv.InstanceID,
		}, msg)
		return func() {
			// Failed sends stay visible, marked failed.
			d.messages.ApplyStatus(msg.ID, "ERROR")
		}
	}
	return msg, apply
}

// acknowledge records the gateway's key id on the optimistic message so
// the realtime echo of the same send replaces it instead of duplicating
// it, and advances the status.
func (d *Dispatcher) acknowledge(localID string, res *gateway.SendResult) {
	if res == nil {
		return
	}
	status := res.Status
	if status == "" {
		status = inbox.StatusServerAck
	}
	d.messages.Acknowledge(localID, res.Key.ID, status)
}

// SendText sends a plain text message to a conversation.
func (d *Dispatcher) SendText(ctx context.Context, remoteJID, text string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, apply := d.optimisticOutbound(conv, text, nil)
	return d.run(ctx, command{
		name:    "send_text",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendText(ctx, instance, inbox.StripRemoteSuffix(remoteJID), text)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Message not sent",
	})
}

// SendMedia sends a media message referencing a URL or base64 payload.
func (d *Dispatcher) SendMedia(ctx context.Context, remoteJID string, media gateway.Media) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	preview := media.Caption
	if preview == "" {
		preview = media.FileName
	}
	msg, apply := d.optimisticOutbound(conv, preview, []inbox.Attachment{{
		Kind:     inbox.AttachmentKind(media.Mediatype),
		URL:      media.Media,
		Name:     media.FileName,
		Caption:  media.Caption,
		Mimetype: media.Mimetype,
	}})
	return d.run(ctx, command{
		name:    "send_media",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendMedia(ctx, instance, inbox.StripRemoteSuffix(remoteJID), media)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Media not sent",
	})
}

// SendMediaFile uploads and sends a local file.
func (d *Dispatcher) SendMediaFile(ctx context.Context, remoteJID, mediatype, fileName, caption string, file io.Reader) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, apply := d.optimisticOutbound(conv, caption, []inbox.Attachment{{
		Kind: inbox.AttachmentKind(mediatype),
		Name: fileName,
	}})
	return d.run(ctx, command{
		name:    "send_media_file",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendMediaFile(ctx, instance, inbox.StripRemoteSuffix(remoteJID), mediatype, fileName, caption, file)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "File not sent",
	})
}

// SendLocation sends a location pin.
func (d *Dispatcher) SendLocation(ctx context.Context, remoteJID string, loc gateway.Location) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	preview := loc.Name
	if preview == "" {
		preview = fmt.Sprintf("%.5f, %.5f", loc.Latitude, loc.Longitude)
	}
	msg, apply := d.optimisticOutbound(conv, preview, nil)
	return d.run(ctx, command{
		name:    "send_location",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendLocation(ctx, instance, inbox.StripRemoteSuffix(remoteJID), loc)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Location not sent",
	})
}

// SendContact shares contact cards.
func (d *Dispatcher) SendContact(ctx context.Context, remoteJID string, cards []gateway.ContactCard) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	preview := "contact"
	if len(cards) > 0 {
		preview = cards[0].FullName
	}
	msg, apply := d.optimisticOutbound(conv, preview, nil)
	return d.run(ctx, command{
		name:    "send_contact",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendContact(ctx, instance, inbox.StripRemoteSuffix(remoteJID), cards)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Contact not sent",
	})
}

// SendReaction sets an emoji reaction on an existing message.
func (d *Dispatcher) SendReaction(ctx context.Context, remoteJID, messageID, reaction string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, ok := d.messages.Get(messageID)
	if !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	return d.run(ctx, command{
		name:    "send_reaction",
		conv:    conv,
		guarded: true,
		call: func(ctx context.Context, instance string) error {
			return d.gw.SendReaction(ctx, instance, gateway.MessageKey{
				ID:        msg.KeyID,
				RemoteJID: remoteJID,
				FromMe:    msg.Own,
			}, reaction)
		},
		errTitle: "Reaction not sent",
	})
}

// SendButtons sends an interactive button message.
func (d *Dispatcher) SendButtons(ctx context.Context, remoteJID, title, description, footer string, buttons []gateway.Button) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, apply := d.optimisticOutbound(conv, title, nil)
	return d.run(ctx, command{
		name:    "send_buttons",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendButtons(ctx, instance, inbox.StripRemoteSuffix(remoteJID), title, description, footer, buttons)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Buttons not sent",
	})
}

// SendList sends an interactive list message.
func (d *Dispatcher) SendList(ctx context.Context, remoteJID, title, description, buttonText, footer string, sections []gateway.ListSection) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, apply := d.optimisticOutbound(conv, title, nil)
	return d.run(ctx, command{
		name:    "send_list",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendList(ctx, instance, inbox.StripRemoteSuffix(remoteJID), title, description, buttonText, footer, sections)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "List not sent",
	})
}

// SendPoll sends a poll message.
func (d *Dispatcher) SendPoll(ctx context.Context, remoteJID, name string, selectableCount int, values []string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	msg, apply := d.optimisticOutbound(conv, name, nil)
	return d.run(ctx, command{
		name:    "send_poll",
		conv:    conv,
		guarded: true,
		apply:   apply,
		call: func(ctx context.Context, instance string) error {
			res, err := d.gw.SendPoll(ctx, instance, inbox.StripRemoteSuffix(remoteJID), name, selectableCount, values)
			if err != nil {
				return err
			}
			d.acknowledge(msg.ID, res)
			return nil
		},
		errTitle: "Poll not sent",
	})
}

// EditMessage edits the text of an own sent message. The local edit is
// applied immediately and restored on gateway failure.
func (d *Dispatcher) EditMessage(ctx context.Context, remoteJID, messageID, text string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	existing, ok := d.messages.Get(messageID)
	if !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	if !existing.Own {
		return fmt.Errorf("only own messages can be edited")
	}
	return d.run(ctx, command{
		name:    "edit_message",
		conv:    conv,
		guarded: true,
		apply: func() func() {
			prev, _ := d.messages.SetText(messageID, text, inbox.StatusPending)
			return func() { d.messages.Restore(prev) }
		},
		call: func(ctx context.Context, instance string) error {
			err := d.gw.UpdateMessage(ctx, instance, inbox.StripRemoteSuffix(remoteJID), gateway.MessageKey{
				ID:        existing.KeyID,
				RemoteJID: remoteJID,
				FromMe:    true,
			}, text)
			if err != nil {
				return err
			}
			d.messages.ApplyStatus(messageID, inbox.StatusEdited)
			return nil
		},
		errTitle: "Edit failed",
	})
}

// UpdateLabels replaces a conversation's label set. The gateway only
// takes per-label add/remove calls, so the difference against the prior
// set is applied; any failure restores the prior set exactly.
func (d *Dispatcher) UpdateLabels(ctx context.Context, conversationID string, labels []inbox.LabelTag) error {
	conv, err := d.conversationByID(conversationID)
	if err != nil {
		return err
	}

	var prior []inbox.LabelTag
	return d.run(ctx, command{
		name: "update_labels",
		conv: conv,
		apply: func() func() {
			prior = d.conversations.SetLabels(conversationID, labels)
			return func() { d.conversations.SetLabels(conversationID, prior) }
		},
		call: func(ctx context.Context, instance string) error {
			number := inbox.StripRemoteSuffix(conv.RemoteJID)
			before := make(map[string]bool, len(prior))
			for _, tag := range prior {
				before[tag.LabelID] = true
			}
			after := make(map[string]bool, len(labels))
			for _, tag := range labels {
				after[tag.LabelID] = true
			}
			for id := range after {
				if !before[id] {
					if err := d.gw.HandleLabel(ctx, instance, number, id, "add"); err != nil {
						return err
					}
				}
			}
			for id := range before {
				if !after[id] {
					if err := d.gw.HandleLabel(ctx, instance, number, id, "remove"); err != nil {
						return err
					}
				}
			}
			return nil
		},
		okTitle:  "Labels updated",
		errTitle: "Labels not updated",
	})
}

// MarkRead marks the open conversation's unread messages as read: on the
// gateway, in the store, and locally.
func (d *Dispatcher) MarkRead(ctx context.Context, remoteJID string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	unread := d.messages.Unread()
	if len(unread) == 0 && conv.UnreadCount == 0 {
		return nil
	}
	keys := make([]gateway.MessageKey, 0, len(unread))
	ids := make([]string, 0, len(unread))
	for _, m := range unread {
		keys = append(keys, gateway.MessageKey{ID: m.KeyID, RemoteJID: remoteJID, FromMe: false})
		ids = append(ids, m.ID)
	}
	prevUnread := conv.UnreadCount

	return d.run(ctx, command{
		name: "mark_read",
		conv: conv,
		apply: func() func() {
			d.conversations.SetRead(remoteJID)
			d.messages.ApplyStatusBulk(ids, inbox.StatusRead)
			return func() {
				d.conversations.AdjustUnread(remoteJID, prevUnread)
				// unread holds pre-apply copies; put their statuses back.
				for _, m := range unread {
					d.messages.Restore(m)
				}
			}
		},
		call: func(ctx context.Context, instance string) error {
			if len(keys) > 0 {
				if err := d.gw.MarkChatRead(ctx, instance, keys); err != nil {
					return err
				}
			}
			if d.writeback != nil {
				if err := d.writeback.UpdateMessageStatus(ctx, ids, inbox.StatusRead); err != nil {
					d.logger.Warn("read-state writeback failed", zap.Error(err))
				}
				if err := d.writeback.UpdateChatUnread(ctx, conv.InstanceID, remoteJID, 0); err != nil {
					d.logger.Warn("unread writeback failed", zap.Error(err))
				}
			}
			return nil
		},
		errTitle: "Could not mark as read",
	})
}

// MarkUnread flags a conversation unread again. This is a local and
// store-side change only; the gateway has no unread operation.
func (d *Dispatcher) MarkUnread(ctx context.Context, remoteJID string) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	if conv.UnreadCount > 0 {
		return nil
	}
	d.conversations.AdjustUnread(remoteJID, 1)
	if d.writeback != nil {
		if err := d.writeback.UpdateChatUnread(ctx, conv.InstanceID, remoteJID, 1); err != nil {
			d.logger.Warn("unread writeback failed", zap.Error(err))
		}
	}
	return nil
}

// SetBlocked blocks or unblocks the remote contact on the gateway.
// Group and broadcast addresses cannot be blocked.
func (d *Dispatcher) SetBlocked(ctx context.Context, remoteJID string, blocked bool) error {
	conv, err := d.conversation(remoteJID)
	if err != nil {
		return err
	}
	if !inbox.IsDirectChat(remoteJID) {
		return fmt.Errorf("%s is not a direct chat", remoteJID)
	}
	status := "unblock"
	okTitle := "Contact unblocked"
	if blocked {
		status = "block"
		okTitle = "Contact blocked"
	}
	return d.run(ctx, command{
		name: "update_block_status",
		conv: conv,
		call: func(ctx context.Context, instance string) error {
			return d.gw.UpdateBlockStatus(ctx, instance, inbox.StripRemoteSuffix(remoteJID), status)
		},
		okTitle:  okTitle,
		errTitle: "Block status not changed",
	})
}

// SetAutoReply toggles the automated-reply lock. Purely local.
func (d *Dispatcher) SetAutoReply(remoteJID string, enabled bool) error {
	if _, err := d.conversation(remoteJID); err != nil {
		return err
	}
	d.conversations.SetAutoReply(remoteJID, enabled)
	return nil
}
