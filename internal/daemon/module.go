package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/auth"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/lock"
	"github.com/matheus3301/inbox/internal/logging"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/optimistic"
	"github.com/matheus3301/inbox/internal/profile"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/remote"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	// Config overrides ~/.inbox/config.toml when set.
	Config *config.Config
	// Logger overrides the profile log file when set.
	Logger *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideIdentity,
			provideBus,
			provideLock,
			provideCache,
			provideRemote,
			providePushManager,
			provideCoordinator,
			provideSynchronizer,
			provideInboxService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

// provideIdentity returns the local user: the configured identity, or the
// email claim of the remote token.
func provideIdentity(cfg *config.Config, logger *zap.Logger) (model.User, error) {
	if cfg.Identity != "" {
		return model.User{Email: cfg.Identity}, nil
	}
	if cfg.Remote.Token == "" {
		return model.User{}, fmt.Errorf("no identity: set identity or remote.token in %s", profile.ConfigPath())
	}
	me, err := auth.IdentityFromToken(cfg.Remote.Token)
	if err != nil {
		return model.User{}, err
	}
	logger.Info("identity read from token", zap.String("email", me.Email))
	return me, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *cache.Store {
	return cache.New(cache.Options{
		GracePeriod: cfg.Cache.GracePeriod,
		Bus:         b,
		Logger:      logger.Named("cache"),
	})
}

func provideRemote(cfg *config.Config) (*remote.Client, error) {
	return remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})
}

func providePushManager(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*push.Manager, error) {
	codec, err := push.CodecByName(cfg.Push.Codec)
	if err != nil {
		return nil, err
	}
	dialer := &push.WebSocketDialer{
		URL:         cfg.Push.URL,
		Token:       cfg.Remote.Token,
		Codec:       codec,
		PingTimeout: cfg.Push.PingTimeout,
	}
	pcfg := push.Config{
		MaxAttempts:      cfg.Push.MaxAttempts,
		BaseDelay:        cfg.Push.BaseDelay,
		MaxDelay:         cfg.Push.MaxDelay,
		HandshakeTimeout: cfg.Push.HandshakeTimeout,
	}
	return push.NewManager(dialer, pcfg, b, logger.Named("push")), nil
}

func provideCoordinator(store *cache.Store, b *bus.Bus, logger *zap.Logger) *optimistic.Coordinator {
	return optimistic.NewCoordinator(store, b, logger.Named("mutation"))
}

func provideSynchronizer(cfg *config.Config, store *cache.Store, r *remote.Client, pm *push.Manager, coord *optimistic.Coordinator, logger *zap.Logger) *intsync.Synchronizer {
	return intsync.New(store, r, pm, coord, intsync.Options{
		ConversationsPerPage: cfg.Pagination.ConversationsPerPage,
		MessagesPerPage:      cfg.Pagination.MessagesPerPage,
	}, logger.Named("sync"))
}

func provideInboxService(p Params, me model.User, s *intsync.Synchronizer, store *cache.Store, pm *push.Manager, b *bus.Bus, logger *zap.Logger) *api.InboxService {
	return api.NewInboxService(p.ProfileName, me, s, store, pm, b, logger.Named("api"))
}

// pinned holds the subscription that keeps the identity's conversation list
// live while the daemon runs.
type pinned struct {
	mu      sync.Mutex
	sub     *cache.Subscription
	stopped bool
}

func (p *pinned) set(sub *cache.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		sub.Close()
		return
	}
	p.sub = sub
}

func (p *pinned) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.sub != nil {
		p.sub.Close()
	}
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, srv *Server, svc *api.InboxService, me model.User, s *intsync.Synchronizer, store *cache.Store, pm *push.Manager, logger *zap.Logger) {
	inbox := &pinned{}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				sub, err := s.WatchConversations(context.Background(), me.Email)
				if err != nil {
					logger.Warn("initial conversation load failed", zap.Error(err))
					return
				}
				inbox.set(sub)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			inbox.close()
			pm.Close()
			srv.Stop(ctx)
			svc.Close()
			store.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
