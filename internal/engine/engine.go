// Package engine wires the pollers, fusion, the alert state machine and the
// notification log into one running instance and exposes the read facade.
package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/fusion"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
	"github.com/poachwatch/poachwatch/internal/poller"
	"github.com/poachwatch/poachwatch/internal/sources"
)

// Poller source IDs.
const (
	SourceMovement = "movement"
	SourcePrefix   = "positions:"
	SourceImage    = "image"
)

// Config tunes the engine.
type Config struct {
	MovementInterval   time.Duration
	ImageInterval      time.Duration
	PositionInterval   time.Duration
	PositionKinds      []string
	FetchTimeout       time.Duration
	EmitCleared        bool
	HistoryLimit       int
	ValidationDedupTTL time.Duration
}

// ConfigFrom maps application settings onto an engine Config.
func ConfigFrom(s *conf.Settings) Config {
	return Config{
		MovementInterval:   s.Sources.Movement.Interval,
		ImageInterval:      s.Sources.Image.Interval,
		PositionInterval:   s.Sources.Positions.Interval,
		PositionKinds:      slices.Clone(s.Sources.Positions.Kinds),
		FetchTimeout:       s.Sources.Timeout,
		EmitCleared:        s.Alert.EmitCleared,
		HistoryLimit:       s.Alert.HistoryLimit,
		ValidationDedupTTL: s.Alert.ValidationDedupTTL,
	}
}

// TransitionPublisher receives every alert state change in order.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, tr alert.Transition) error
}

// Deps are the engine's collaborators. Source and Notifications are required.
type Deps struct {
	Source        sources.Source
	Notifications *notification.Service
	Fusion        *fusion.Engine
	History       alert.History
	Validations   alert.ValidationLog
	// Validator forwards validation requests; nil records them only.
	Validator     sources.Validator
	Publishers    []TransitionPublisher
	AlertMetrics  *metrics.AlertMetrics
	PollerMetrics *metrics.PollerMetrics
	Logger        logger.Logger
	Now           func() time.Time
}

// Engine is one independent detection pipeline.
type Engine struct {
	cfg         Config
	src         sources.Source
	notes       *notification.Service
	fusion      *fusion.Engine
	machine     *alert.Machine
	history     alert.History
	validations alert.ValidationLog
	validator   sources.Validator
	publishers  []TransitionPublisher
	poller      *poller.Poller
	metrics     *metrics.AlertMetrics
	log         logger.Logger
	now         func() time.Time

	trigger  chan struct{}
	outbound chan alert.Transition
	hub      *transitionHub
	dedupe   *cache.Cache

	// evalMu keeps evaluation single-writer even when Evaluate is called directly.
	evalMu  sync.Mutex
	pending []notification.Notification

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an Engine. It does not start polling.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Notifications == nil {
		return nil, errors.Newf("engine requires a source and a notification service").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = alert.DefaultHistoryLimit
	}
	if cfg.ValidationDedupTTL <= 0 {
		cfg.ValidationDedupTTL = 5 * time.Minute
	}

	log := logger.OrDiscard(deps.Logger).Module("engine")
	e := &Engine{
		cfg:         cfg,
		src:         deps.Source,
		notes:       deps.Notifications,
		fusion:      deps.Fusion,
		machine:     alert.NewMachine(),
		history:     deps.History,
		validations: deps.Validations,
		validator:   deps.Validator,
		publishers:  slices.Clone(deps.Publishers),
		metrics:     deps.AlertMetrics,
		log:         log,
		now:         deps.Now,
		trigger:     make(chan struct{}, 1),
		outbound:    make(chan alert.Transition, 32),
		hub:         newTransitionHub(),
		dedupe:      cache.New(cfg.ValidationDedupTTL, 2*cfg.ValidationDedupTTL),
	}
	if e.fusion == nil {
		e.fusion = fusion.New(fusion.Config{})
	}
	if e.history == nil {
		mem := alert.NewMemoryHistory()
		e.history = mem
		if e.validations == nil {
			e.validations = mem
		}
	}
	if e.validations == nil {
		e.validations = alert.NewMemoryHistory()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.poller = poller.New(
		poller.WithFetchTimeout(cfg.FetchTimeout),
		poller.WithMetrics(deps.PollerMetrics),
		poller.WithLogger(deps.Logger),
		poller.WithOnUpdate(e.onUpdate),
	)
	e.metrics.SetState(string(alert.StateNone), alert.StateNames())
	return e, nil
}

// Start resumes any open incident, schedules the pollers and starts the
// evaluator. It returns once everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.cancel != nil {
		return errors.Newf("engine already started").
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}

	if err := e.restore(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	e.wg.Go(func() { e.evaluateLoop(runCtx) })
	e.wg.Go(func() { e.publishLoop(runCtx) })

	schedule := []scheduled{
		{SourceMovement, e.cfg.MovementInterval, func(ctx context.Context) (any, error) {
			return e.src.FetchMovementPredictions(ctx)
		}},
		{SourceImage, e.cfg.ImageInterval, func(ctx context.Context) (any, error) {
			return e.src.FetchImageClassifications(ctx)
		}},
	}
	for _, kind := range e.cfg.PositionKinds {
		schedule = append(schedule, scheduled{SourcePrefix + kind, e.cfg.PositionInterval, func(ctx context.Context) (any, error) {
			positions, err := e.src.FetchEntityPositions(ctx, kind)
			if err != nil {
				return nil, err
			}
			return e.validPositions(kind, positions), nil
		}})
	}
	for _, s := range schedule {
		if err := e.poller.Schedule(s.id, s.interval, s.fetch); err != nil {
			cancel()
			e.poller.Stop()
			e.wg.Wait()
			e.cancel = nil
			return err
		}
	}

	e.log.Info("engine started",
		logger.Duration("movement_interval", e.cfg.MovementInterval),
		logger.Duration("image_interval", e.cfg.ImageInterval),
		logger.Int("position_kinds", len(e.cfg.PositionKinds)),
		logger.Bool("emit_cleared", e.cfg.EmitCleared))
	return nil
}

// Stop cancels the pollers, discards in-flight results and stops the evaluator.
// The validation dedupe cache's janitor goroutine is not owned by the engine
// and outlives it; it exits once the cache is garbage collected.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.poller.Stop()
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}
	e.hub.close()
	e.log.Info("engine stopped")
}

// validPositions drops entries with missing or out-of-range coordinates.
func (e *Engine) validPositions(kind string, positions []detection.EntityPosition) []detection.EntityPosition {
	valid := positions[:0:0]
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			e.log.Debug("position dropped", logger.String("kind", kind), logger.Error(err))
			continue
		}
		valid = append(valid, p)
	}
	if dropped := len(positions) - len(valid); dropped > 0 {
		e.metrics.RecordDropped("position", dropped)
	}
	return valid
}

type scheduled struct {
	id       string
	interval time.Duration
	fetch    poller.FetchFunc
}

// restore resumes a CONFIRMED episode recorded before a restart so it is not
// entered, and notified, a second time.
func (e *Engine) restore(ctx context.Context) error {
	inc, err := e.history.Current(ctx)
	if err != nil {
		return err
	}
	if inc == nil {
		return nil
	}
	e.machine.Restore(inc.Alert())
	e.metrics.SetState(string(alert.StateConfirmed), alert.StateNames())
	e.log.Info("resumed open incident",
		logger.Uint64("incident_id", inc.ID),
		logger.Time("entered_at", inc.EnteredAt))
	return nil
}

// onUpdate coalesces batch arrivals into at most one pending evaluation.
func (e *Engine) onUpdate(sourceID string) {
	if sourceID != SourceMovement && sourceID != SourceImage {
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) evaluateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			if _, err := e.Evaluate(ctx); err != nil {
				e.log.Warn("evaluation incomplete, will retry on next batch", logger.Error(err))
			}
		}
	}
}

func (e *Engine) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-e.outbound:
			for _, p := range e.publishers {
				if err := p.PublishTransition(ctx, tr); err != nil {
					e.log.Warn("transition publish failed",
						logger.String("to", string(tr.To)),
						logger.Error(err))
				}
			}
		}
	}
}
