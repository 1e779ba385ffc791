package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/config"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"go.uber.org/zap"
)

// ErrNoInstance means no gateway instance could be determined for an
// outbound command.
var ErrNoInstance = errors.New("no gateway instance available")

// Gateway is the slice of the gateway client the resolver needs.
type Gateway interface {
	FetchInstances(ctx context.Context) ([]gateway.InstanceInfo, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
}

// Resolver determines which gateway instance an outbound command runs
// against. Resolution order: the conversation's own instance, the cached
// last resolution, the persisted preference, and finally a gateway
// lookup. Successful lookups are cached and persisted.
type Resolver struct {
	gw            Gateway
	conversations *inbox.Conversations
	prefsPath     string
	bus           *bus.Bus
	logger        *zap.Logger

	mu         sync.Mutex
	cachedID   string
	cachedName string
}

// NewResolver creates a resolver persisting its preference at prefsPath.
func NewResolver(gw Gateway, conversations *inbox.Conversations, prefsPath string, b *bus.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		gw:            gw,
		conversations: conversations,
		prefsPath:     prefsPath,
		bus:           b,
		logger:        logger,
	}
	if prefs, err := config.LoadPrefs(prefsPath); err == nil {
		r.cachedID = prefs.PreferredInstanceID
		r.cachedName = prefs.PreferredInstanceName
	} else {
		logger.Warn("could not load instance prefs", zap.Error(err))
	}
	return r
}

// Preferred returns the cached instance id and name, either of which may
// be empty.
func (r *Resolver) Preferred() (id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cachedID, r.cachedName
}

// SetPreferred pins the preferred instance, persists it and announces
// the change so the feed subscription can rebind.
func (r *Resolver) SetPreferred(id, name string) error {
	r.mu.Lock()
	r.cachedID = id
	r.cachedName = name
	r.mu.Unlock()

	err := config.SavePrefs(r.prefsPath, &config.Prefs{
		PreferredInstanceID:   id,
		PreferredInstanceName: name,
	})
	if err != nil {
		return fmt.Errorf("persist instance preference: %w", err)
	}
	if r.bus != nil {
		r.bus.Publish(bus.Event{
			Kind:      "instance.preferred_changed",
			Timestamp: time.Now(),
			Payload:   id,
		})
	}
	return nil
}

// EnsureInstance returns the instance name to run a command against for
// the given conversation. conv may be the zero value for commands not
// tied to a conversation.
func (r *Resolver) EnsureInstance(ctx context.Context, conv inbox.Conversation) (string, error) {
	if conv.InstanceID != "" {
		if name := r.conversations.InstanceName(conv.InstanceID); name != "" {
			return name, nil
		}
	}

	r.mu.Lock()
	cached := r.cachedName
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	return r.resolve(ctx)
}

// resolve queries the gateway, preferring a connected instance, and
// caches the result.
func (r *Resolver) resolve(ctx context.Context) (string, error) {
	instances, err := r.gw.FetchInstances(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve instance: %w", err)
	}
	if len(instances) == 0 {
		return "", ErrNoInstance
	}

	chosen := instances[0]
	for _, inst := range instances {
		if inst.ConnectionStatus == "open" {
			chosen = inst
			break
		}
	}
	if chosen.Name == "" {
		return "", ErrNoInstance
	}

	r.mu.Lock()
	r.cachedID = chosen.ID
	r.cachedName = chosen.Name
	r.mu.Unlock()

	if err := config.SavePrefs(r.prefsPath, &config.Prefs{
		PreferredInstanceID:   chosen.ID,
		PreferredInstanceName: chosen.Name,
	}); err != nil {
		r.logger.Warn("could not persist instance preference", zap.Error(err))
	}
	r.logger.Info("resolved gateway instance",
		zap.String("instance_id", chosen.ID),
		zap.String("instance_name", chosen.Name))
	return chosen.Name, nil
}
