package cmd

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/artifact"
	"github.com/verwatch/verwatch/internal/cache"
	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/checkers"
	"github.com/verwatch/verwatch/internal/config"
	"github.com/verwatch/verwatch/internal/logging"
	"github.com/verwatch/verwatch/internal/metrics"
	"github.com/verwatch/verwatch/internal/registry"
	"github.com/verwatch/verwatch/internal/repository/memory"
	"github.com/verwatch/verwatch/internal/repository/postgres"
	"github.com/verwatch/verwatch/internal/storage"
	"github.com/verwatch/verwatch/internal/storage/gcs"
	"github.com/verwatch/verwatch/internal/storage/local"
	"github.com/verwatch/verwatch/internal/transport"
)

// app holds the wired service collaborators shared by the CLI commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *transport.Client
	registry *registry.Registry
	repo     check.Repository
	mirror   *artifact.Mirror

	headless  *checkers.Headless
	redisCli  *redis.Client
	gcsClient *gcstorage.Client
	repoClose func()
}

// newApp loads configuration and constructs every collaborator the commands
// share: logger, response cache, transport, checker registry, repository,
// and the optional blob store behind the artifact mirror.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Environment, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &app{cfg: cfg, logger: logger}

	respCache, err := a.buildCache()
	if err != nil {
		return nil, err
	}
	opts := []transport.Option{transport.WithLogger(logger.Named("transport"))}
	if respCache != nil {
		opts = append(opts, transport.WithCache(respCache))
	}
	a.client = transport.New(transport.Config{
		UserAgent:       cfg.Transport.UserAgent,
		Timeout:         cfg.Transport.Timeout,
		MaxInFlight:     cfg.Transport.MaxInFlight,
		MaxConns:        cfg.Transport.MaxConns,
		MaxConnsPerHost: cfg.Transport.MaxConnsPerHost,
		HostRPS:         cfg.Transport.HostRPS,
		HostBurst:       cfg.Transport.HostBurst,
		MaxBodyBytes:    cfg.Transport.MaxBodyBytes,
		CacheTTL:        cfg.Cache.TTL,
	}, opts...)

	if err := a.buildRegistry(); err != nil {
		return nil, err
	}
	if err := a.buildRepository(ctx); err != nil {
		return nil, err
	}
	if err := a.buildMirror(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildCache() (cache.ResponseCache, error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		a.redisCli = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.Redis,
			Password: a.cfg.Cache.Password,
			DB:       a.cfg.Cache.DB,
		})
		return cache.NewRedis(a.redisCli)
	case "memory":
		return cache.NewMemory(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

func (a *app) buildRegistry() error {
	reg := registry.New()
	reg.Register("github", checkers.NewGitHub(a.client))
	reg.Register("gitlab", checkers.NewGitLab(a.client))
	reg.Register("pypi", checkers.NewPyPI(a.client))
	reg.Register("npm", checkers.NewNPM(a.client))
	reg.Register("aur", checkers.NewAUR(a.client))
	reg.Register("json", checkers.NewJSONAPI(a.client))
	reg.Register("redirect", checkers.NewRedirect(a.client))
	reg.Register("web", checkers.NewWeb(a.client, a.cfg.Transport.Timeout))

	if a.cfg.Headless.Enabled {
		headless, err := checkers.NewHeadless(checkers.HeadlessConfig{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Transport.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
		})
		if err != nil {
			return fmt.Errorf("init headless checker: %w", err)
		}
		a.headless = headless
		reg.Register("headless", headless)
	}
	a.registry = reg
	return nil
}

func (a *app) buildRepository(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.repo = memory.New()
		return nil
	}
	repo, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init postgres repository: %w", err)
	}
	a.repo = repo
	a.repoClose = repo.Close
	return nil
}

func (a *app) buildMirror(ctx context.Context) error {
	var store storage.BlobStore
	switch a.cfg.Storage.Backend {
	case "local":
		s, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		store = s
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		s, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		store = s
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	a.mirror = artifact.New(a.client, store, a.logger.Named("mirror"))
	return nil
}

// Close releases collaborators in reverse dependency order.
func (a *app) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.repoClose != nil {
		a.repoClose()
	}
	if a.redisCli != nil {
		if err := a.redisCli.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
