package notification

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"strings"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// Provider delivers a notification outside the process.
type Provider interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ShoutrrrProvider sends through one shoutrrr router covering several URLs.
type ShoutrrrProvider struct {
	name   string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider builds a sender for urls. Invalid URLs are reported
// with credentials redacted.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "shoutrrr"
	}
	if len(urls) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Category(errors.CategoryConfiguration).
			Context("provider", name).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, errors.New(errors.Sanitize(err)).
			Category(errors.CategoryConfiguration).
			Context("provider", name).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	return &ShoutrrrProvider{name: name, sender: sender}, nil
}

func (s *ShoutrrrProvider) Name() string { return s.name }

func (s *ShoutrrrProvider) Send(_ context.Context, n Notification) error {
	params := stypes.Params{}
	params.SetTitle(pushTitle(n))
	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return errors.New(errors.Sanitize(err)).
				Category(errors.CategoryIntegration).
				Context("provider", s.name).
				Context("notification_id", n.ID).
				Build()
		}
	}
	return nil
}

func pushTitle(n Notification) string {
	switch n.Kind {
	case KindPoacherConfirmed:
		return "Poacher confirmed"
	case KindPoacherCleared:
		return "Poacher alert cleared"
	default:
		return string(n.Kind)
	}
}

// DispatcherConfig tunes push delivery.
type DispatcherConfig struct {
	PerMinute int           // deliveries per provider per minute, 0 for unlimited
	Timeout   time.Duration // per delivery
	QueueSize int
}

type route struct {
	provider Provider
	limiter  *rate.Limiter
}

// Dispatcher queues notifications and delivers them to the providers
// registered for their role.
type Dispatcher struct {
	cfg     DispatcherConfig
	mu      sync.RWMutex
	routes  map[Role][]route
	queue   chan Notification
	metrics *metrics.NotificationMetrics
	log     logger.Logger
}

// NewDispatcher creates a Dispatcher. Call Run to start delivering.
func NewDispatcher(cfg DispatcherConfig, m *metrics.NotificationMetrics, log logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:     cfg,
		routes:  make(map[Role][]route),
		queue:   make(chan Notification, cfg.QueueSize),
		metrics: m,
		log:     logger.OrDiscard(log).Module("push"),
	}
}

// AddProvider routes role's notifications to p.
func (d *Dispatcher) AddProvider(role Role, p Provider) {
	limit := rate.Inf
	burst := 1
	if d.cfg.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(d.cfg.PerMinute))
		burst = d.cfg.PerMinute
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[role] = append(d.routes[role], route{provider: p, limiter: rate.NewLimiter(limit, burst)})
}

// HasProviders reports whether any provider is registered.
func (d *Dispatcher) HasProviders() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.routes) > 0
}

// Dispatch queues n without blocking. It returns false when the queue is full.
func (d *Dispatcher) Dispatch(n Notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		d.metrics.RecordDelivery("queue", string(n.Role), "dropped", 0)
		d.log.Warn("push queue full, notification not pushed",
			logger.String("id", n.ID),
			logger.String("role", string(n.Role)))
		return false
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	d.mu.RLock()
	routes := slices.Clone(d.routes[n.Role])
	d.mu.RUnlock()

	for _, r := range routes {
		name := r.provider.Name()
		if !r.limiter.Allow() {
			d.metrics.RecordDelivery(name, string(n.Role), "rate_limited", 0)
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		start := time.Now()
		err := r.provider.Send(sendCtx, n)
		cancel()

		status := "success"
		if err != nil {
			status = "error"
			d.log.Error("push delivery failed",
				logger.String("provider", name),
				logger.String("role", string(n.Role)),
				logger.String("id", n.ID),
				logger.Error(err))
		} else {
			d.log.Debug("push delivered",
				logger.String("provider", name),
				logger.String("role", string(n.Role)),
				logger.String("id", n.ID))
		}
		d.metrics.RecordDelivery(name, string(n.Role), status, time.Since(start))
	}
}
