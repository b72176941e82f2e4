package autosolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/logging"
	"solveeverylight/internal/mediator"
	"solveeverylight/internal/metrics"
	"solveeverylight/internal/options"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/profile"
	"solveeverylight/internal/storage"
	"solveeverylight/internal/wcs"
)

// Outcome is what happened to one save event.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeConfigError
	OutcomeFailed
	OutcomeSolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeConfigError:
		return "config_error"
	case OutcomeFailed:
		return "failed"
	case OutcomeSolved:
		return "solved"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ProfileSource returns the active profile.
type ProfileSource interface {
	ActiveProfile() profile.Profile
}

// OptionsSource returns the plugin options for a profile.
type OptionsSource interface {
	PluginOptions(p profile.Profile) options.PluginOptions
}

// OptionsFunc adapts a function to OptionsSource.
type OptionsFunc func(p profile.Profile) options.PluginOptions

func (f OptionsFunc) PluginOptions(p profile.Profile) options.PluginOptions { return f(p) }

// HistoryRecorder persists solve attempts.
type HistoryRecorder interface {
	RecordSolve(rec storage.SolveRecord) error
}

// SaveEventSource delivers before-image-saved events.
type SaveEventSource interface {
	Subscribe(h mediator.BeforeImageSavedHandler) (unsubscribe func())
}

// Deps are the collaborators of a Handler. History and Metrics are optional.
type Deps struct {
	Profiles   ProfileSource
	Options    OptionsSource
	Factory    platesolve.Factory
	Status     mediator.StatusSink
	Notifier   mediator.Notifier
	History    HistoryRecorder
	Metrics    *metrics.Solve
	Logger     *slog.Logger
	Provenance wcs.Provenance
}

// Handler runs gate, parameter build, solve and header synthesis for every
// saved image.
type Handler struct {
	profiles ProfileSource
	options  OptionsSource
	invoker  *Invoker
	history  HistoryRecorder
	metrics  *metrics.Solve
	logger   *slog.Logger
	prov     wcs.Provenance
	now      func() time.Time

	mu    sync.Mutex
	unsub func()
}

// New builds a handler. It does not subscribe to anything until Attach.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		profiles: d.Profiles,
		options:  d.Options,
		invoker: &Invoker{
			Factory:    d.Factory,
			Status:     d.Status,
			Notifier:   d.Notifier,
			Logger:     logger,
			PluginName: d.Provenance.PluginName,
		},
		history: d.History,
		metrics: d.Metrics,
		logger:  logger,
		prov:    d.Provenance,
		now:     time.Now,
	}
}

// Attach subscribes to src. Attaching twice is a no-op.
func (h *Handler) Attach(src SaveEventSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsub != nil {
		return
	}
	h.unsub = src.Subscribe(func(ctx context.Context, ev mediator.BeforeImageSavedEvent) {
		h.HandleBeforeImageSaved(ctx, ev)
	})
}

// Close unsubscribes. It is safe to call more than once.
func (h *Handler) Close() error {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	h.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}

// HandleBeforeImageSaved processes one save event. It never fails; the
// outcome is returned for callers that want it.
func (h *Handler) HandleBeforeImageSaved(ctx context.Context, ev mediator.BeforeImageSavedEvent) (outcome Outcome) {
	image := ev.Image
	if image == nil {
		return OutcomeSkipped
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("save handler panicked", "id", image.ID, "panic", r)
			outcome = OutcomeFailed
		}
	}()

	p := h.profiles.ActiveProfile()
	opts := h.options.PluginOptions(p)

	format := image.FileFormat
	if format == imaging.FormatUnknown {
		format = p.ImageFileSettings.FileType
	}
	if !ShouldSolve(opts.PluginEnabled, format, image.ImageType, opts.SnapshotsEnabled) {
		h.metrics.Skip()
		return OutcomeSkipped
	}

	start := h.now()
	req := BuildRequest(image, p.PlateSolve, opts)

	if err := h.invoker.Preflight(p.PlateSolve); err != nil {
		h.metrics.ConfigError()
		h.logger.Warn("solve skipped", "id", image.ID, "error", err)
		return OutcomeConfigError
	}

	finish := h.metrics.Start()
	logging.LogSolveStart(h.logger, image.ImageType, image.ID, string(p.PlateSolve.SolverType), map[string]any{
		"ra":          req.Coordinates.RA,
		"dec":         req.Coordinates.Dec,
		"radius":      req.SearchRadius,
		"focal":       req.FocalLength,
		"down_sample": req.DownSampleFactor,
		"max_objects": req.MaxObjects,
	})

	// the solver gets no cancellation and no deadline
	res, solverName, err := h.invoker.Invoke(context.WithoutCancel(ctx), p.PlateSolve, image, req)

	rec := storage.SolveRecord{
		ID:        uuid.NewString(),
		ProfileID: p.ID.String(),
		ImageID:   image.ID,
		ImageType: image.ImageType,
		FilePath:  image.Path,
		Solver:    solverName,
		CreatedAt: start,
	}

	if err != nil {
		elapsed := h.now().Sub(start)
		if errors.Is(err, platesolve.ErrNoSolution) {
			logging.LogSolveError(h.logger, image.ImageType, image.ID, elapsed, nil)
		} else {
			logging.LogSolveError(h.logger, image.ImageType, image.ID, elapsed, err)
		}
		finish(false, elapsed)
		rec.Outcome = OutcomeFailed.String()
		rec.Error = err.Error()
		rec.Duration = elapsed
		h.record(rec)
		return OutcomeFailed
	}

	prov := h.prov
	prov.SolverName = solverName
	wcs.Apply(image, res, prov)

	elapsed := h.now().Sub(start)
	logging.LogSolveComplete(h.logger, image.ImageType, image.ID, res.Coordinates.RAString(), res.Coordinates.DecString(), elapsed)
	finish(true, elapsed)

	rec.Outcome = OutcomeSolved.String()
	rec.RA = res.Coordinates.RA
	rec.Dec = res.Coordinates.Dec
	rec.Pixscale = res.Pixscale
	rec.PositionAngle = res.PositionAngle
	rec.Flipped = res.Flipped
	rec.Duration = elapsed
	h.record(rec)
	return OutcomeSolved
}

func (h *Handler) record(rec storage.SolveRecord) {
	if h.history == nil {
		return
	}
	if err := h.history.RecordSolve(rec); err != nil {
		h.logger.Warn("failed to record solve", "id", rec.ImageID, "error", err)
	}
}
