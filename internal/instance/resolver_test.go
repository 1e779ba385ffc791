package instance

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/config"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/store"
)

type fakeGateway struct {
	instances  []gateway.InstanceInfo
	fetchErr   error
	fetchCalls atomic.Int64
	state      string
	stateCalls atomic.Int64
}

func (f *fakeGateway) FetchInstances(ctx context.Context) ([]gateway.InstanceInfo, error) {
	f.fetchCalls.Add(1)
	return f.instances, f.fetchErr
}

func (f *fakeGateway) ConnectionState(ctx context.Context, instance string) (string, error) {
	f.stateCalls.Add(1)
	return f.state, nil
}

func snapshotWithInstance(id, name string) inbox.Snapshot {
	return inbox.BuildSnapshot(inbox.LoadInput{
		Instances: []store.InstanceRow{
			{ID: id, Name: sql.NullString{String: name, Valid: true}},
		},
	})
}

func TestEnsureInstanceUsesConversationInstance(t *testing.T) {
	gw := &fakeGateway{}
	conversations := inbox.NewConversations(nil)
	conversations.Replace(snapshotWithInstance("inst-1", "main"))
	r := NewResolver(gw, conversations, filepath.Join(t.TempDir(), "prefs.toml"), nil, nil)

	name, err := r.EnsureInstance(context.Background(), inbox.Conversation{InstanceID: "inst-1"})
	if err != nil {
		t.Fatal(err)
	}
	if name != "main" {
		t.Errorf("name = %q, want main", name)
	}
	if gw.fetchCalls.Load() != 0 {
		t.Error("conversation-scoped resolution must not call the gateway")
	}
}

func TestEnsureInstanceFallsBackToPersistedPreference(t *testing.T) {
	prefsPath := filepath.Join(t.TempDir(), "prefs.toml")
	if err := config.SavePrefs(prefsPath, &config.Prefs{
		PreferredInstanceID:   "inst-9",
		PreferredInstanceName: "backup",
	}); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{}
	r := NewResolver(gw, inbox.NewConversations(nil), prefsPath, nil, nil)

	name, err := r.EnsureInstance(context.Background(), inbox.Conversation{})
	if err != nil {
		t.Fatal(err)
	}
	if name != "backup" {
		t.Errorf("name = %q, want backup", name)
	}
	if gw.fetchCalls.Load() != 0 {
		t.Error("persisted preference must not call the gateway")
	}
}

func TestEnsureInstanceResolvesViaGatewayAndCaches(t *testing.T) {
	gw := &fakeGateway{instances: []gateway.InstanceInfo{
		{ID: "inst-1", Name: "closed-one", ConnectionStatus: "close"},
		{ID: "inst-2", Name: "open-one", ConnectionStatus: "open"},
	}}
	prefsPath := filepath.Join(t.TempDir(), "prefs.toml")
	r := NewResolver(gw, inbox.NewConversations(nil), prefsPath, nil, nil)

	name, err := r.EnsureInstance(context.Background(), inbox.Conversation{})
	if err != nil {
		t.Fatal(err)
	}
	if name != "open-one" {
		t.Errorf("name = %q, want the connected instance", name)
	}

	// Second resolution is served from cache.
	if _, err := r.EnsureInstance(context.Background(), inbox.Conversation{}); err != nil {
		t.Fatal(err)
	}
	if gw.fetchCalls.Load() != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.fetchCalls.Load())
	}

	// And survives restart via prefs.
	prefs, err := config.LoadPrefs(prefsPath)
	if err != nil {
		t.Fatal(err)
	}
	if prefs.PreferredInstanceName != "open-one" {
		t.Errorf("persisted name = %q", prefs.PreferredInstanceName)
	}
}

func TestEnsureInstanceNoInstances(t *testing.T) {
	gw := &fakeGateway{}
	r := NewResolver(gw, inbox.NewConversations(nil), filepath.Join(t.TempDir(), "prefs.toml"), nil, nil)

	_, err := r.EnsureInstance(context.Background(), inbox.Conversation{})
	if !errors.Is(err, ErrNoInstance) {
		t.Errorf("err = %v, want ErrNoInstance", err)
	}
}

func TestSetPreferredAnnouncesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("instance.preferred_changed", 1)
	defer unsub()

	r := NewResolver(&fakeGateway{}, inbox.NewConversations(nil), filepath.Join(t.TempDir(), "prefs.toml"), b, nil)
	if err := r.SetPreferred("inst-5", "five"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Payload != "inst-5" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for preference change event")
	}
}

func TestPollerUpdatesInstanceStatus(t *testing.T) {
	gw := &fakeGateway{state: "open"}
	conversations := inbox.NewConversations(nil)
	p := NewPoller(gw, conversations, 10*time.Millisecond, nil)

	p.Watch(context.Background(), "inst-1", "main")
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for conversations.InstanceStatus("inst-1") != "open" {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for polled state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if gw.stateCalls.Load() == 0 {
		t.Error("poller never called the gateway")
	}
}

func TestPollerEmptyNameIsNoOp(t *testing.T) {
	gw := &fakeGateway{state: "open"}
	p := NewPoller(gw, inbox.NewConversations(nil), 10*time.Millisecond, nil)

	p.Watch(context.Background(), "inst-1", "")
	time.Sleep(30 * time.Millisecond)
	if gw.stateCalls.Load() != 0 {
		t.Error("empty instance name must not poll")
	}
}
