// Package poller runs periodic fetches against independent detection sources.
//
// Each scheduled source gets its own goroutine and ticker. A tick that comes
// due while the previous fetch is still running is skipped. A failed fetch
// keeps the previous batch as current. A result that completes after its
// source was cancelled is discarded.
package poller

import (
	"cmp"
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// DefaultFetchTimeout bounds a single fetch when no timeout is configured.
const DefaultFetchTimeout = 10 * time.Second

// FetchFunc fetches one batch from a source.
type FetchFunc func(ctx context.Context) (any, error)

// UpdateFunc is called after a new batch has been applied for sourceID.
type UpdateFunc func(sourceID string)

// Status describes the health of one scheduled source.
type Status struct {
	SourceID            string        `json:"source_id"`
	Interval            time.Duration `json:"interval"`
	LastAttempt         time.Time     `json:"last_attempt"`
	LastSuccess         time.Time     `json:"last_success"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	SkippedTicks        uint64        `json:"skipped_ticks"`
	HasData             bool          `json:"has_data"`
	Cancelled           bool          `json:"cancelled"`
}

// Stale reports whether the current batch is older than the last attempt.
func (s Status) Stale() bool {
	return s.HasData && s.LastAttempt.After(s.LastSuccess)
}

// Option configures a Poller.
type Option func(*Poller)

// WithFetchTimeout sets the per-fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithOnUpdate registers the callback fired after a batch is applied.
func WithOnUpdate(fn UpdateFunc) Option {
	return func(p *Poller) { p.onUpdate = fn }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.PollerMetrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// Poller owns a set of scheduled sources.
type Poller struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	stopped bool
	wg      sync.WaitGroup

	fetchTimeout time.Duration
	onUpdate     UpdateFunc
	log          logger.Logger
	metrics      *metrics.PollerMetrics
}

type job struct {
	id       string
	interval time.Duration
	fetch    FetchFunc
	ctx      context.Context
	cancel   context.CancelFunc
	inFlight atomic.Bool

	mu     sync.RWMutex
	data   any
	status Status
}

// New creates a Poller with no scheduled sources.
func New(opts ...Option) *Poller {
	p := &Poller{
		jobs:         make(map[string]*job),
		fetchTimeout: DefaultFetchTimeout,
		log:          logger.OrDiscard(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Module("poller")
	return p
}

// Schedule starts polling sourceID every interval. The first fetch runs
// immediately. Scheduling an existing sourceID replaces it.
func (p *Poller) Schedule(sourceID string, interval time.Duration, fetch FetchFunc) error {
	switch {
	case sourceID == "":
		return errors.Newf("source id is required").
			Category(errors.CategoryValidation).
			Build()
	case interval <= 0:
		return errors.Newf("poll interval must be positive, got %s", interval).
			Category(errors.CategoryValidation).
			Context("source", sourceID).
			Build()
	case fetch == nil:
		return errors.Newf("fetch function is required").
			Category(errors.CategoryValidation).
			Context("source", sourceID).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:       sourceID,
		interval: interval,
		fetch:    fetch,
		ctx:      ctx,
		cancel:   cancel,
		status:   Status{SourceID: sourceID, Interval: interval},
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		return errors.Newf("poller is stopped").
			Category(errors.CategoryState).
			Context("source", sourceID).
			Build()
	}
	previous := p.jobs[sourceID]
	p.jobs[sourceID] = j
	p.wg.Go(func() { p.run(j) })
	p.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	p.log.Info("source scheduled",
		logger.String("source", sourceID),
		logger.Duration("interval", interval))
	return nil
}

// Cancel stops polling sourceID and forgets its batch. It reports whether
// the source was scheduled.
func (p *Poller) Cancel(sourceID string) bool {
	p.mu.Lock()
	j, ok := p.jobs[sourceID]
	delete(p.jobs, sourceID)
	p.mu.Unlock()
	if !ok {
		return false
	}
	j.stop()
	p.log.Info("source cancelled", logger.String("source", sourceID))
	return true
}

// Stop cancels every source and waits for in-flight fetches to finish.
// Batches remain readable after Stop.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	jobs := make([]*job, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	for _, j := range jobs {
		j.stop()
	}
	p.wg.Wait()
	p.log.Debug("poller stopped", logger.Int("sources", len(jobs)))
}

// Latest returns the last good batch for sourceID and its status.
func (p *Poller) Latest(sourceID string) (any, Status, bool) {
	p.mu.RLock()
	j, ok := p.jobs[sourceID]
	p.mu.RUnlock()
	if !ok {
		return nil, Status{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data, j.status, true
}

// Statuses returns the status of every scheduled source ordered by id.
func (p *Poller) Statuses() []Status {
	p.mu.RLock()
	jobs := make([]*job, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.RUnlock()

	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		j.mu.RLock()
		out = append(out, j.status)
		j.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Status) int {
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return out
}

// Latest returns the last good batch for sourceID as T. The boolean is
// false when the source is unknown, has no batch yet, or holds another type.
func Latest[T any](p *Poller, sourceID string) (T, bool) {
	var zero T
	data, status, ok := p.Latest(sourceID)
	if !ok || !status.HasData {
		return zero, false
	}
	typed, ok := data.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (p *Poller) run(j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	p.tick(j)
	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			p.tick(j)
		}
	}
}

func (p *Poller) tick(j *job) {
	if !j.inFlight.CompareAndSwap(false, true) {
		j.mu.Lock()
		j.status.SkippedTicks++
		j.mu.Unlock()
		p.metrics.RecordSkippedTick(j.id)
		p.log.Debug("tick skipped, fetch still in flight", logger.String("source", j.id))
		return
	}

	p.wg.Go(func() {
		defer j.inFlight.Store(false)
		p.fetch(j)
	})
}

func (p *Poller) fetch(j *job) {
	// In-flight fetches complete after cancellation; apply discards their result.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), p.fetchTimeout)
	defer cancel()

	start := time.Now()
	data, err := j.fetch(ctx)
	elapsed := time.Since(start)
	p.metrics.RecordFetch(j.id, elapsed, err)

	if !j.apply(data, err, start) {
		p.metrics.RecordDiscarded(j.id)
		p.log.Debug("fetch result discarded after cancel", logger.String("source", j.id))
		return
	}

	if err != nil {
		p.log.Warn("fetch failed, keeping previous batch",
			logger.String("source", j.id),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return
	}

	p.metrics.RecordBatch(j.id, batchLen(data))
	p.log.Trace("batch applied",
		logger.String("source", j.id),
		logger.Int("records", batchLen(data)),
		logger.Duration("elapsed", elapsed))
	if p.onUpdate != nil {
		p.onUpdate(j.id)
	}
}

// apply stores a fetch outcome unless the job was cancelled first.
func (j *job) apply(data any, err error, attempted time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Cancelled {
		return false
	}
	j.status.LastAttempt = attempted
	if err != nil {
		j.status.LastError = err.Error()
		j.status.ConsecutiveFailures++
		return true
	}
	j.data = data
	j.status.HasData = true
	j.status.LastSuccess = attempted
	j.status.LastError = ""
	j.status.ConsecutiveFailures = 0
	return true
}

func (j *job) stop() {
	j.mu.Lock()
	j.status.Cancelled = true
	j.mu.Unlock()
	j.cancel()
}

func batchLen(data any) int {
	if data == nil {
		return 0
	}
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Map {
		return v.Len()
	}
	return 1
}
