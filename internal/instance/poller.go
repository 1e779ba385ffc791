package instance

import (
	"context"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/inbox"
	"go.uber.org/zap"
)

// Poller periodically refreshes the connection state of the instance
// backing the open conversation. Opening another conversation replaces
// the watched instance; the superseded poll loop stops at its next tick.
type Poller struct {
	gw            Gateway
	conversations *inbox.Conversations
	interval      time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPoller creates a connection-state poller.
func NewPoller(gw Gateway, conversations *inbox.Conversations, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		gw:            gw,
		conversations: conversations,
		interval:      interval,
		logger:        logger,
	}
}

// Watch starts polling the given instance, replacing any prior watch.
// instanceName may be empty when unknown; the watch is then a no-op.
func (p *Poller) Watch(ctx context.Context, instanceID, instanceName string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if instanceName == "" {
		p.cancel = nil
		p.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.loop(watchCtx, instanceID, instanceName)
}

// Stop ends the current watch.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Poller) loop(ctx context.Context, instanceID, instanceName string) {
	p.poll(ctx, instanceID, instanceName)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.poll(ctx, instanceID, instanceName)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, instanceID, instanceName string) {
	state, err := p.gw.ConnectionState(ctx, instanceName)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("connection state poll failed",
				zap.String("instance_name", instanceName), zap.Error(err))
		}
		return
	}
	// A cancelled watch must not overwrite the state of the instance
	// now being watched.
	if ctx.Err() != nil {
		return
	}
	p.conversations.SetInstanceStatus(instanceID, state)
}
