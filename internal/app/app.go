// Package app assembles a running Poachwatch instance from Settings.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/api"
	"github.com/poachwatch/poachwatch/internal/buildinfo"
	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/datastore"
	"github.com/poachwatch/poachwatch/internal/engine"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/fusion"
	"github.com/poachwatch/poachwatch/internal/httpclient"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/mqtt"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/observability"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
	"github.com/poachwatch/poachwatch/internal/sources"
)

// App is one assembled service.
type App struct {
	settings   *conf.Settings
	info       buildinfo.Info
	central    *logger.CentralLogger
	log        logger.Logger
	metrics    *observability.Metrics
	db         *datastore.Store
	httpClient *httpclient.Client
	notes      *notification.Service
	dispatcher *notification.Dispatcher
	engine     *engine.Engine
	server     *api.Server
	mqttClient mqtt.Client
}

// NewLogger builds the central logger, lowering the default level when
// settings.Debug is set.
func NewLogger(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = cfg.DefaultLevel
			cfg.Console = &console
		}
	}
	return logger.NewCentralLogger(&cfg)
}

// OpenStore opens the configured durable store. The memory driver returns
// a nil Store.
func OpenStore(settings *conf.Settings, m *metrics.DatastoreMetrics, log logger.Logger) (*datastore.Store, error) {
	if settings.Datastore.Driver == conf.DriverMemory {
		return nil, nil
	}
	return datastore.Open(settings.Datastore, m, log)
}

// New wires every component. Nothing is started.
func New(settings *conf.Settings, info buildinfo.Info) (*App, error) {
	central, err := NewLogger(settings)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a := &App{settings: settings, info: info, central: central, log: central.Module("main")}

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Main.Environment, info.Version); err != nil {
			a.log.Warn("sentry disabled", logger.Error(err))
		}
	}

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	var (
		store       notification.Store
		history     alert.History
		validations alert.ValidationLog
	)
	a.db, err = OpenStore(settings, a.metrics.Datastore, central.Module("datastore"))
	if err != nil {
		return nil, err
	}
	if a.db != nil {
		store, history, validations = a.db.Notifications(), a.db, a.db
	} else {
		a.log.Warn("memory datastore selected, notifications and watermarks are lost on restart")
		store = notification.NewMemoryStore()
	}

	a.dispatcher, err = newDispatcher(settings.Notification, a.metrics, central.Module("push"))
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notes = notification.NewService(store, notification.ServiceOptions{
		Metrics:    a.metrics.Notification,
		Logger:     central.Module("notification"),
		Dispatcher: a.dispatcher,
	})

	a.httpClient = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Sources.Timeout,
		UserAgent:      info.UserAgent(settings.Sources.UserAgent),
	})
	src := sources.NewREST(a.httpClient, settings.Sources.BaseURL, pathsFrom(settings.Sources), central.Module("sources"))

	var publishers []engine.TransitionPublisher
	if settings.MQTT.Enabled {
		cfg := mqtt.ConfigFrom(settings.MQTT)
		a.mqttClient = mqtt.NewClient(cfg, a.metrics.MQTT, central.Module("mqtt"))
		publishers = append(publishers, mqtt.NewPublisher(a.mqttClient, cfg, central.Module("mqtt")))
	}

	a.engine, err = engine.New(engine.ConfigFrom(settings), engine.Deps{
		Source:        src,
		Notifications: a.notes,
		Fusion: fusion.New(fusion.Config{
			CorrelationWindow:   settings.Fusion.CorrelationWindow,
			MinImageProbability: settings.Fusion.MinImageProbability,
		}),
		History:       history,
		Validations:   validations,
		Validator:     src,
		Publishers:    publishers,
		AlertMetrics:  a.metrics.Alert,
		PollerMetrics: a.metrics.Poller,
		Logger:        central.Module("engine"),
	})
	if err != nil {
		a.closeStore()
		return nil, err
	}

	if settings.WebServer.Enabled {
		a.server = api.New(api.Config{
			Listen:      settings.WebServer.Listen,
			MetricsPath: settings.WebServer.MetricsPath,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		}, a.engine,
			api.WithMetricsHandler(a.metrics.Handler()),
			api.WithLogger(central.Module("api")))
	}
	return a, nil
}

func pathsFrom(s conf.SourcesSettings) sources.Paths {
	p := sources.DefaultPaths
	if s.Movement.Path != "" {
		p.Movement = s.Movement.Path
	}
	if s.Image.Path != "" {
		p.Image = s.Image.Path
	}
	if s.Positions.Path != "" {
		p.Positions = s.Positions.Path
	}
	if s.ValidatePath != "" {
		p.Validate = s.ValidatePath
	}
	return p
}

func newDispatcher(s conf.NotificationSettings, m *observability.Metrics, log logger.Logger) (*notification.Dispatcher, error) {
	d := notification.NewDispatcher(notification.DispatcherConfig{
		PerMinute: s.RateLimit,
		Timeout:   s.Timeout,
	}, m.Notification, log)
	for role, push := range map[notification.Role]conf.PushSettings{
		notification.RoleAdmin:  s.Admin,
		notification.RoleRanger: s.Ranger,
	} {
		if !push.Enabled {
			continue
		}
		p, err := notification.NewShoutrrrProvider("shoutrrr-"+string(role), push.URLs, s.Timeout)
		if err != nil {
			return nil, err
		}
		d.AddProvider(role, p)
	}
	if !d.HasProviders() {
		return nil, nil
	}
	return d, nil
}

// Engine returns the assembled engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	a.log.Info("starting poachwatch",
		logger.String("version", a.info.Version),
		logger.String("datastore", a.settings.Datastore.Driver),
		logger.String("source", a.settings.Sources.BaseURL))

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	defer a.engine.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.dispatcher != nil {
		g.Go(func() error { return a.dispatcher.Run(gctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.Start(gctx) })
	}
	if a.mqttClient != nil {
		g.Go(func() error {
			// The broker being down must not stop detection.
			if err := a.mqttClient.Connect(gctx); err != nil {
				a.log.Warn("mqtt connect failed, alerts will not be published", logger.Error(err))
			}
			<-gctx.Done()
			a.mqttClient.Disconnect()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()
	a.log.Info("shutting down")
	return err
}

func (a *App) shutdown() {
	a.notes.Close()
	a.httpClient.Close()
	a.closeStore()
	if err := a.central.Close(); err != nil {
		a.log.Warn("log close failed", logger.Error(err))
	}
}

func (a *App) closeStore() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("datastore close failed", logger.Error(err))
	}
}
