package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/metrics"
	"github.com/dkarimoff/evoinbox/internal/store"
	"go.uber.org/zap"
)

const (
	recentWindow     = 200
	conversationPage = 50
)

// Store is the read surface of the persistence layer the engine needs.
// *store.DB satisfies it; tests substitute a fixture.
type Store interface {
	ListChats(ctx context.Context, instanceID string) ([]store.ChatRow, error)
	ListContacts(ctx context.Context, instanceID string) ([]store.ContactRow, error)
	RecentMessages(ctx context.Context, instanceID string, limit int) ([]store.MessageRow, error)
	ListInstances(ctx context.Context) ([]store.InstanceRow, error)
	ListLabels(ctx context.Context) ([]store.LabelRow, error)
	MessagesForRemote(ctx context.Context, remoteJID, instanceID string, limit int) ([]store.MessageRow, error)
	MediaForMessages(ctx context.Context, messageIDs []string) ([]store.MediaRow, error)
	MediaForMessage(ctx context.Context, messageID string) ([]store.MediaRow, error)
}

// Engine folds change-feed events into the in-memory inbox state and
// serves the initial and per-conversation loads. Events for instances
// other than the bound one are discarded.
type Engine struct {
	store         Store
	conversations *inbox.Conversations
	messages      *inbox.Messages
	bus           *bus.Bus
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu         gosync.Mutex
	instanceID string
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a sync engine over the given stores.
func NewEngine(st Store, conversations *inbox.Conversations, messages *inbox.Messages, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:         st,
		conversations: conversations,
		messages:      messages,
		bus:           b,
		metrics:       m,
		logger:        logger,
	}
}

// BindInstance sets the instance filter applied to loads and feed events.
// Empty means unfiltered.
func (e *Engine) BindInstance(instanceID string) {
	e.mu.Lock()
	e.instanceID = instanceID
	e.mu.Unlock()
}

// Instance returns the currently bound instance id.
func (e *Engine) Instance() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instanceID
}

// Start launches the event loop consuming feed.* bus events.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	ch, unsub := e.bus.Subscribe("feed.", 256)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(runCtx, evt)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop terminates the event loop and waits for it to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Load runs the initial load: chats, contacts, recent messages, instances
// and labels joined into the conversation list.
func (e *Engine) Load(ctx context.Context) error {
	instanceID := e.Instance()

	chats, err := e.store.ListChats(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	contacts, err := e.store.ListContacts(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	recent, err := e.store.RecentMessages(ctx, instanceID, recentWindow)
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	instances, err := e.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}
	labels, err := e.store.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	snap := inbox.BuildSnapshot(inbox.LoadInput{
		Chats:            chats,
		Contacts:         contacts,
		Recent:           recent,
		Instances:        instances,
		Labels:           labels,
		TargetInstanceID: instanceID,
	})
	e.conversations.Replace(snap)
	if e.metrics != nil {
		e.metrics.Conversations.Set(float64(len(snap.Conversations)))
	}
	e.logger.Info("inbox loaded",
		zap.Int("conversations", len(snap.Conversations)),
		zap.Int("contacts", len(contacts)),
		zap.String("instance_id", instanceID))
	return nil
}

// OpenConversation loads one conversation's message history and installs
// it as the open conversation.
func (e *Engine) OpenConversation(ctx context.Context, remoteJID string) error {
	rows, err := e.store.MessagesForRemote(ctx, remoteJID, e.Instance(), conversationPage)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", remoteJID, err)
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	media, err := e.store.MediaForMessages(ctx, ids)
	if err != nil {
		// History without attachments beats no history.
		e.logger.Warn("media lookup failed", zap.Error(err))
		media = nil
	}
	byMessage := make(map[string][]inbox.Attachment)
	for _, m := range media {
		if att, ok := inbox.MapMediaAttachment(m); ok {
			byMessage[m.MessageID.String] = append(byMessage[m.MessageID.String], att)
		}
	}

	msgs := make([]inbox.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, inbox.MapMessageRow(r, byMessage[r.ID]))
	}
	e.messages.Replace(remoteJID, msgs)
	return nil
}

// CloseConversation drops the open conversation.
func (e *Engine) CloseConversation() {
	e.messages.Clear()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "feed.message":
		row, ok := evt.Payload.(store.MessageRow)
		if !ok {
			return
		}
		e.handleMessage(ctx, row)
	case "feed.message_update":
		row, ok := evt.Payload.(store.MessageUpdateRow)
		if !ok {
			return
		}
		e.handleUpdate(row)
	case "feed.chat":
		row, ok := evt.Payload.(store.ChatRow)
		if !ok {
			return
		}
		e.handleChat(row)
	}
}

func (e *Engine) handleMessage(ctx context.Context, row store.MessageRow) {
	if e.discard(row.InstanceID) {
		return
	}
	e.count("Message")

	msg := inbox.MapMessageRow(row, nil)
	e.conversations.ApplyInbound(row, msg)
	applied := e.messages.ApplyInbound(inbox.RemoteOf(row), msg)

	// Media rows commonly land after the message row. When an inbound
	// media message arrives bare, re-check the media table once.
	if applied && len(msg.Attachments) == 0 && isMediaType(row.MessageType.String) {
		media, err := e.store.MediaForMessage(ctx, row.ID)
		if err != nil {
			e.logger.Warn("late media lookup failed", zap.String("message_id", row.ID), zap.Error(err))
			return
		}
		var atts []inbox.Attachment
		for _, m := range media {
			if att, ok := inbox.MapMediaAttachment(m); ok {
				atts = append(atts, att)
			}
		}
		if len(atts) > 0 {
			e.messages.AppendMedia(row.ID, atts)
		}
	}
}

func (e *Engine) handleUpdate(row store.MessageUpdateRow) {
	if e.discard(row.InstanceID) {
		return
	}
	e.count("MessageUpdate")
	e.messages.ApplyStatus(row.MessageID, row.Status.String)
}

func (e *Engine) handleChat(row store.ChatRow) {
	if e.discard(row.InstanceID) {
		return
	}
	e.count("Chat")
	e.conversations.ApplyChatRow(row)
	if e.metrics != nil {
		e.metrics.Conversations.Set(float64(e.conversations.Len()))
	}
}

func (e *Engine) discard(instanceID string) bool {
	bound := e.Instance()
	if bound != "" && instanceID != "" && instanceID != bound {
		if e.metrics != nil {
			e.metrics.FeedDrops.Inc()
		}
		return true
	}
	return false
}

func (e *Engine) count(table string) {
	if e.metrics != nil {
		e.metrics.FeedEvents.WithLabelValues(table).Inc()
	}
}

func isMediaType(messageType string) bool {
	switch messageType {
	case "imageMessage", "videoMessage", "documentMessage", "audioMessage", "stickerMessage":
		return true
	}
	return false
}
