package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/dkarimoff/evoinbox/internal/api"
	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/config"
	"github.com/dkarimoff/evoinbox/internal/dispatch"
	"github.com/dkarimoff/evoinbox/internal/feed"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/instance"
	"github.com/dkarimoff/evoinbox/internal/lock"
	"github.com/dkarimoff/evoinbox/internal/logging"
	"github.com/dkarimoff/evoinbox/internal/metrics"
	"github.com/dkarimoff/evoinbox/internal/store"
	"github.com/dkarimoff/evoinbox/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module assembles the daemon.
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideConversations,
			provideMessages,
			provideMachine,
			provideSubscriber,
			provideEngine,
			provideGateway,
			provideResolver,
			providePoller,
			provideDispatcher,
			provideAPI,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	return config.Load()
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(config.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics(b *bus.Bus) *metrics.Metrics {
	return metrics.New(b.Dropped)
}

func provideLock() (*lock.Lock, error) {
	return lock.Acquire(config.BaseDir())
}

func provideStore(cfg *config.Config) (*store.DB, error) {
	return store.Open(cfg.DatabaseURL)
}

func provideConversations(b *bus.Bus) *inbox.Conversations {
	return inbox.NewConversations(b)
}

func provideMessages(b *bus.Bus) *inbox.Messages {
	return inbox.NewMessages(b)
}

func provideMachine(b *bus.Bus) *feed.Machine {
	return feed.NewMachine(b)
}

func provideSubscriber(cfg *config.Config, b *bus.Bus, machine *feed.Machine, logger *zap.Logger) *feed.Subscriber {
	return feed.NewSubscriber(cfg.RealtimeURL, cfg.GatewayKey, b, machine, logger)
}

func provideEngine(db *store.DB, conversations *inbox.Conversations, messages *inbox.Messages, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *sync.Engine {
	return sync.NewEngine(db, conversations, messages, b, m, logger)
}

func provideGateway(cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.NewClient(cfg.GatewayURL, cfg.GatewayKey, cfg.SendRatePerSec, logger)
}

func provideResolver(gw *gateway.Client, conversations *inbox.Conversations, b *bus.Bus, logger *zap.Logger) *instance.Resolver {
	return instance.NewResolver(gw, conversations, config.PrefsPath(), b, logger)
}

func providePoller(gw *gateway.Client, conversations *inbox.Conversations, cfg *config.Config, logger *zap.Logger) *instance.Poller {
	return instance.NewPoller(gw, conversations, cfg.PollInterval, logger)
}

func provideDispatcher(gw *gateway.Client, resolver *instance.Resolver, conversations *inbox.Conversations, messages *inbox.Messages, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(gw, resolver, conversations, messages, db, b, m, logger)
}

func provideAPI(conversations *inbox.Conversations, messages *inbox.Messages, engine *sync.Engine, dispatcher *dispatch.Dispatcher, gw *gateway.Client, resolver *instance.Resolver, poller *instance.Poller, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *api.Server {
	return api.NewServer(conversations, messages, engine, dispatcher, gw, resolver, poller, b, m, logger)
}

func provideHTTPServer(cfg *config.Config, apiServer *api.Server) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	lk *lock.Lock,
	db *store.DB,
	engine *sync.Engine,
	subscriber *feed.Subscriber,
	resolver *instance.Resolver,
	poller *instance.Poller,
	b *bus.Bus,
	srv *http.Server,
	logger *zap.Logger,
) {
	daemonCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			preferredID, _ := resolver.Preferred()
			engine.BindInstance(preferredID)
			if err := engine.Load(ctx); err != nil {
				return err
			}

			engine.Start(daemonCtx)
			subscriber.Start(daemonCtx, preferredID)
			go watchPreferredInstance(daemonCtx, b, engine, subscriber, logger)

			go func() {
				logger.Info("api listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("api server failed", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			_ = srv.Shutdown(ctx)
			poller.Stop()
			subscriber.Stop()
			engine.Stop()
			_ = db.Close()
			return lk.Release()
		},
	})
}

// watchPreferredInstance rebinds the engine and feed subscription when
// the preferred instance changes, then reloads the inbox.
func watchPreferredInstance(ctx context.Context, b *bus.Bus, engine *sync.Engine, subscriber *feed.Subscriber, logger *zap.Logger) {
	ch, unsub := b.Subscribe("instance.preferred_changed", 8)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			id, _ := evt.Payload.(string)
			engine.BindInstance(id)
			subscriber.Rebind(id)
			if err := engine.Load(ctx); err != nil {
				logger.Warn("reload after instance change failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
