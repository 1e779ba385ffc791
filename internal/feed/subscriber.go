package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatPeriod = 25 * time.Second
	redialDelay     = 5 * time.Second
)

// Subscriber consumes the store's realtime change feed over a websocket
// and republishes row events on the bus:
//
//	feed.message         insert on "Message"   (store.MessageRow)
//	feed.message_update  insert on "MessageUpdate" (store.MessageUpdateRow)
//	feed.chat            any change on "Chat"  (store.ChatRow)
//
// One subscription exists at a time, bound to the preferred instance.
// Rebinding tears the connection down and resubscribes with the new
// server-side filter.
type Subscriber struct {
	endpoint string
	apikey   string
	bus      *bus.Bus
	machine  *Machine
	logger   *zap.Logger

	mu         sync.Mutex
	outer      context.Context
	cancel     context.CancelFunc
	instanceID string
}

// NewSubscriber creates a feed subscriber. endpoint is the websocket URL
// of the change feed; empty disables the feed entirely.
func NewSubscriber(endpoint, apikey string, b *bus.Bus, machine *Machine, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		endpoint: endpoint,
		apikey:   apikey,
		bus:      b,
		machine:  machine,
		logger:   logger,
	}
}

// Start opens the subscription bound to the given instance id (empty =
// unfiltered). No-op when the feed endpoint is not configured.
func (s *Subscriber) Start(ctx context.Context, instanceID string) {
	if s.endpoint == "" {
		s.logger.Warn("realtime feed not configured, inbox will not receive live events")
		return
	}
	s.mu.Lock()
	s.outer = ctx
	s.instanceID = instanceID
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, instanceID)
}

// Rebind tears down the current subscription and resubscribes bound to a
// different instance.
func (s *Subscriber) Rebind(instanceID string) {
	s.mu.Lock()
	if s.outer == nil || s.instanceID == instanceID {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	outer := s.outer
	s.mu.Unlock()

	s.Start(outer, instanceID)
}

// Stop closes the subscription.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	if s.machine.Current() != Closed && s.machine.Current() != Idle {
		_ = s.machine.Transition(Closed)
	}
}

func (s *Subscriber) run(ctx context.Context, instanceID string) {
	for ctx.Err() == nil {
		if s.machine.Current() == Closed || s.machine.Current() == Idle || s.machine.Current() == Errored {
			if err := s.machine.Transition(Subscribing); err != nil {
				s.logger.Error("feed state error", zap.Error(err))
				return
			}
		}

		err := s.consume(ctx, instanceID)
		if ctx.Err() != nil {
			if s.machine.Current() != Closed {
				_ = s.machine.Transition(Closed)
			}
			return
		}
		s.logger.Warn("feed connection lost, retrying", zap.Error(err))
		_ = s.machine.Transition(Errored)

		select {
		case <-time.After(redialDelay):
		case <-ctx.Done():
			_ = s.machine.Transition(Closed)
			return
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, instanceID string) error {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Errorf("parse feed endpoint: %w", err)
	}
	q := u.Query()
	if s.apikey != "" {
		q.Set("apikey", s.apikey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var writeMu sync.Mutex
	send := func(msg wireMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	if err := s.join(send, instanceID); err != nil {
		return fmt.Errorf("join topics: %w", err)
	}
	if err := s.machine.Transition(Active); err != nil {
		return err
	}
	s.logger.Info("feed subscription active", zap.String("instance_id", instanceID))

	// Close the connection when the context ends so the read loop unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// Heartbeats keep the server from dropping the socket.
	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := send(wireMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`)}); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		s.dispatch(msg)
	}
}

type topicSpec struct {
	table  string
	events string // INSERT or * (all changes)
}

var topics = []topicSpec{
	{table: "Message", events: "INSERT"},
	{table: "MessageUpdate", events: "INSERT"},
	{table: "Chat", events: "*"},
}

func (s *Subscriber) join(send func(wireMessage) error, instanceID string) error {
	for _, topic := range topics {
		change := map[string]any{
			"event":  topic.events,
			"schema": "public",
			"table":  topic.table,
		}
		if instanceID != "" {
			change["filter"] = "instanceId=eq." + instanceID
		}
		payload, err := json.Marshal(map[string]any{
			"config": map[string]any{
				"postgres_changes": []any{change},
			},
		})
		if err != nil {
			return err
		}
		msg := wireMessage{
			Topic:   "realtime:public:" + topic.table,
			Event:   "phx_join",
			Payload: payload,
			Ref:     topic.table,
		}
		if err := send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) dispatch(msg wireMessage) {
	if msg.Event != "postgres_changes" {
		return
	}
	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Warn("malformed feed payload", zap.Error(err))
		return
	}

	now := time.Now()
	switch payload.Data.Table {
	case "Message":
		var rec messageRecord
		if err := json.Unmarshal(payload.Data.Record, &rec); err != nil {
			s.logger.Warn("malformed message record", zap.Error(err))
			return
		}
		s.bus.Publish(bus.Event{Kind: "feed.message", Timestamp: now, Payload: rec.toRow()})
	case "MessageUpdate":
		var rec updateRecord
		if err := json.Unmarshal(payload.Data.Record, &rec); err != nil {
			s.logger.Warn("malformed update record", zap.Error(err))
			return
		}
		s.bus.Publish(bus.Event{Kind: "feed.message_update", Timestamp: now, Payload: rec.toRow()})
	case "Chat":
		var rec chatRecord
		if err := json.Unmarshal(payload.Data.Record, &rec); err != nil {
			s.logger.Warn("malformed chat record", zap.Error(err))
			return
		}
		s.bus.Publish(bus.Event{Kind: "feed.chat", Timestamp: now, Payload: rec.toRow()})
	}
}
