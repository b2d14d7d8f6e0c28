package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colthorp/healthsync-go/internal/ai"
	"github.com/colthorp/healthsync-go/internal/cache"
	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/domain"
	"github.com/colthorp/healthsync-go/internal/ratelimit"
	"github.com/colthorp/healthsync-go/internal/remote"
	"github.com/colthorp/healthsync-go/internal/storage"
)

// app is the wired set of collaborators behind every command.
type app struct {
	cfg     core.Config
	log     *logrus.Logger
	store   *cache.Store
	limits  *ratelimit.Registry
	svc     *domain.Services
	now     func() time.Time
	closers []func() error
}

// newApp is replaced in tests.
var newApp = openApp

// openApp loads the config, opens the configured storage, remote and AI
// backends and signs in the configured user.
func openApp(ctx context.Context) (*app, error) {
	path := configPath
	if path == "" {
		path = core.ConfigPath()
	}
	cfg, err := core.LoadConfig(path, envFile)
	if err != nil {
		return nil, err
	}
	if userFlag != "" {
		cfg.User = userFlag
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}
	logger := core.NewLogger(verbose)

	var closers []func() error
	fail := func(err error) (*app, error) {
		closeAll(closers, logger)
		return nil, err
	}

	kv, closeKV, err := openKV(cfg.Storage, logger)
	if err != nil {
		return fail(err)
	}
	if closeKV != nil {
		closers = append(closers, closeKV)
	}

	backend, closeRemote, err := openRemote(cfg.Remote, logger)
	if err != nil {
		return fail(err)
	}
	if closeRemote != nil {
		closers = append(closers, closeRemote)
	}

	a := buildApp(cfg, logger, kv, backend, openCaller(cfg.AI, logger), nil)
	a.closers = closers
	if err := a.svc.SignIn(ctx, cfg.User, cfg.Remote.Token); err != nil {
		a.Close()
		return nil, fmt.Errorf("sign in %s: %w", cfg.User, err)
	}
	core.Component(logger, "cli").WithField("user", cfg.User).Debug("signed in")
	return a, nil
}

// buildApp wires the domain services over already-open backends. A nil now
// reads the wall clock in the configured timezone.
func buildApp(cfg core.Config, logger *logrus.Logger, kv storage.KV, backend remote.Backend, caller ai.Caller, now func() time.Time) *app {
	if now == nil {
		loc := core.GetTZ(cfg.Timezone)
		now = func() time.Time { return time.Now().In(loc) }
	}
	store := cache.New(kv, cache.Config{
		MaxItemBytes:  cfg.Cache.MaxItemBytes,
		MaxTotalBytes: cfg.Cache.MaxTotalBytes,
		CleanupRatio:  cfg.Cache.CleanupRatio,
		Now:           now,
		Logger:        core.Component(logger, "cache"),
	})
	limits := ratelimit.NewRegistry(kv, cfg.Limits, now, core.Component(logger, "ratelimit"))
	svc := domain.New(domain.Deps{
		Cache:  store,
		Limits: limits,
		Remote: backend,
		AI:     caller,
		TTL:    cfg.TTL,
		Now:    now,
		Logger: logger,
	})
	return &app{cfg: cfg, log: logger, store: store, limits: limits, svc: svc, now: now}
}

// Close releases the storage and remote backends.
func (a *app) Close() {
	closeAll(a.closers, a.log)
	a.closers = nil
}

func closeAll(closers []func() error, logger *logrus.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}
}

func openKV(cfg core.StorageConfig, logger *logrus.Logger) (storage.KV, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryKV(0), nil, nil
	case "file":
		kv, err := storage.NewFileKV(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return kv, nil, nil
	case "badger":
		kv, err := storage.OpenBadger(storage.BadgerConfig{
			Path:   cfg.Path,
			Logger: core.Component(logger, "badger"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open store %s: %w", cfg.Path, err)
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openRemote(cfg core.RemoteConfig, logger *logrus.Logger) (remote.Backend, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
		b, err := remote.NewSQLiteBackend(cfg.Path, core.Component(logger, "sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "http":
		c, err := remote.NewClient(remote.ClientConfig{
			URL:    cfg.URL,
			APIKey: cfg.Key,
			Logger: core.Component(logger, "remote"),
		})
		if err != nil {
			return nil, nil, err
		}
		c.SetAccessToken(cfg.Token)
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
}

// openCaller falls back to a caller that fails every generation when no
// model is configured, so non-AI commands keep working.
func openCaller(cfg core.AIConfig, logger *logrus.Logger) ai.Caller {
	caller, err := ai.NewOpenAICaller(ai.OpenAIConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Logger: core.Component(logger, "ai"),
	})
	if err != nil {
		core.Component(logger, "ai").WithError(err).Debug("AI disabled")
		return ai.Unavailable(err)
	}
	return caller
}

// userID returns the signed-in user.
func (a *app) userID() string {
	uid, _ := a.svc.Session().UserID()
	return uid
}

// withApp opens the app for the duration of a command.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd, args)
	}
}
