// Package app wires configuration, storage, profiles and the solve handler
// into one runnable unit.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"solveeverylight/internal/autosolve"
	"solveeverylight/internal/config"
	"solveeverylight/internal/imaging"
	"solveeverylight/internal/mediator"
	"solveeverylight/internal/metrics"
	"solveeverylight/internal/options"
	"solveeverylight/internal/pipeline"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/profile"
	"solveeverylight/internal/server"
	"solveeverylight/internal/storage"
	"solveeverylight/internal/wcs"
)

// App owns every long-lived component.
type App struct {
	Config        *config.Config
	Log           *slog.Logger
	Store         *storage.Store
	Profiles      *profile.Service
	Factory       *platesolve.ExecutableFactory
	SaveMediator  *mediator.ImageSaveMediator
	Status        *mediator.StatusMediator
	Notifications *mediator.NotificationFeed
	Hub           *server.Hub
	Registry      *prometheus.Registry
	Metrics       *metrics.Solve
	Handler       *autosolve.Handler

	mu           sync.Mutex
	active       *options.Store
	unsubProfile func()
}

// New builds the application and attaches the solve handler to the save
// mediator.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.New(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	initial, err := ProfileFromConfig(cfg.Profile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		Config:        cfg,
		Log:           logger,
		Store:         store,
		Profiles:      profile.NewService(initial),
		SaveMediator:  mediator.NewImageSaveMediator(),
		Notifications: mediator.NewNotificationFeed(100),
		Hub:           server.NewHub(logger),
		Registry:      prometheus.NewRegistry(),
		Factory: &platesolve.ExecutableFactory{
			ASTAPPath: cfg.Solvers.ASTAPPath,
			ASTAPArgs: cfg.Solvers.ASTAPArgs,
			ASPSPath:  cfg.Solvers.ASPSPath,
			TempDir:   cfg.Paths.TempDir,
		},
	}
	a.Status = mediator.NewStatusMediator(mediator.LogStatusSink{Logger: logger}, a.Hub)
	a.Notifications.Listen(a.Hub.Notify)
	a.Metrics = metrics.New(a.Registry)

	if err := a.activate(a.Profiles.ActiveProfile()); err != nil {
		_ = store.Close()
		return nil, err
	}
	unsub, err := a.Profiles.OnProfileChanged(func(p profile.Profile) {
		if err := a.activate(p); err != nil {
			logger.Error("failed to load plugin options for profile", "profile", p.Name, "error", err)
		}
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("subscribe to profile changes: %w", err)
	}
	a.unsubProfile = unsub

	a.Handler = autosolve.New(autosolve.Deps{
		Profiles: a.Profiles,
		Options:  a,
		Factory:  a.Factory,
		Status:   a.Status,
		Notifier: mediator.MultiNotifier{mediator.LogNotifier{Logger: logger}, a.Notifications},
		History:  store,
		Metrics:  a.Metrics,
		Logger:   logger,
		Provenance: wcs.Provenance{
			PluginName:    cfg.Plugin.Name,
			PluginVersion: cfg.Plugin.Version,
			HostVersion:   cfg.Plugin.HostVersion,
		},
	})
	a.Handler.Attach(a.SaveMediator)
	return a, nil
}

// activate switches the option store to p and runs the one-time migration.
func (a *App) activate(p profile.Profile) error {
	s := a.OptionsFor(p)
	if migrated, err := s.Migrate(a.Log); err != nil {
		return fmt.Errorf("migrate options for %s: %w", p.Name, err)
	} else if migrated {
		a.Log.Info("initialized plugin options", "profile", p.Name)
	}
	a.mu.Lock()
	a.active = s
	a.mu.Unlock()
	return nil
}

// OptionsFor returns the option store of profile p.
func (a *App) OptionsFor(p profile.Profile) *options.Store {
	return options.NewStore(a.Store.ProfileOptions(p.ID), a.Config.Plugin.Defaults)
}

// ActiveOptions returns the option store of the active profile.
func (a *App) ActiveOptions() *options.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// PluginOptions reads a fresh snapshot for p.
func (a *App) PluginOptions(p profile.Profile) options.PluginOptions {
	return a.OptionsFor(p).Snapshot()
}

// NewPipeline starts a pipeline that publishes files through the save
// mediator.
func (a *App) NewPipeline(ctx context.Context) *pipeline.Pipeline {
	return pipeline.New(ctx, pipeline.NewSaveProcessor(a.SaveMediator), 64, a.Log)
}

// ServerDeps returns the collaborators for the HTTP server.
func (a *App) ServerDeps(jobs server.JobQueue) server.Deps {
	return server.Deps{
		History:       a.Store,
		Options:       a,
		Status:        a.Status,
		Notifications: a.Notifications,
		Tools:         a.Factory,
		Jobs:          jobs,
		Gatherer:      a.Registry,
		Hub:           a.Hub,
	}
}

// Close detaches the handler and closes storage.
func (a *App) Close() error {
	_ = a.Handler.Close()
	if a.unsubProfile != nil {
		a.unsubProfile()
	}
	return a.Store.Close()
}

// ProfileFromConfig builds the initial profile. Without an explicit id the
// id is derived from the name so stored options survive restarts.
func ProfileFromConfig(c config.Profile) (profile.Profile, error) {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("solveeverylight/profile/"+c.Name))
	if c.ID != "" {
		parsed, err := uuid.Parse(c.ID)
		if err != nil {
			return profile.Profile{}, fmt.Errorf("profile.id: %w", err)
		}
		id = parsed
	}

	fileType := imaging.FormatFITS
	if c.FileType != "" {
		ft, err := imaging.ParseFileFormat(c.FileType)
		if err != nil {
			return profile.Profile{}, fmt.Errorf("profile.file_type: %w", err)
		}
		fileType = ft
	}

	ps := c.PlateSolve
	if ps.FocalLength <= 0 {
		ps.FocalLength = math.NaN()
	}

	return profile.Profile{
		ID:                id,
		Name:              c.Name,
		ImageFileSettings: profile.ImageFileSettings{FileType: fileType},
		PlateSolve:        ps,
	}, nil
}
