package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"aiscript/internal/api"
	"aiscript/internal/auth"
	"aiscript/internal/config"
	"aiscript/internal/database"
	"aiscript/internal/dispatcher"
	"aiscript/internal/generation"
	"aiscript/internal/hub"
	"aiscript/internal/publisher"
	"aiscript/internal/router"
	"aiscript/internal/telemetry"
	"aiscript/internal/websocket"
	pkgdatabase "aiscript/pkg/database"
	"aiscript/pkg/types"
)

// Version is stamped at build time with -ldflags "-X aiscript/internal/app.Version=...".
var Version = "dev"

// Application owns every component and their start/stop order.
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	dbManager  *database.Manager
	generator  *generation.HTTPGenerator
	dispatcher *dispatcher.Dispatcher
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	publisher  publisher.Publisher
	metrics    *telemetry.Metrics
	apiServer  *api.Server
	httpServer *http.Server

	shutdownTelemetry func(context.Context) error

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication builds all components in dependency order:
// telemetry, database, generation, dispatcher, registry/router/hub, publisher, API and HTTP.
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (app *Application, err error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{config: cfg, logger: logger, serveErr: make(chan error, 1)}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	// STEP 1: Telemetry provider and instruments
	a.shutdownTelemetry, err = telemetry.InitProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		ExportInterval: cfg.Telemetry.ExportInterval.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.metrics, err = telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// STEP 2: Database manager, migrations and schema check
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime.Std()

	a.dbManager, err = database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err = pkgdatabase.NewMigrationManager(a.dbManager.GetDB()).ApplyMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err = pkgdatabase.NewSchemaValidator(a.dbManager.GetDB()).Validate(); err != nil {
		return nil, fmt.Errorf("database schema check failed: %w", err)
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("database ready")

	// STEP 3: Generation backend and billing service
	a.generator, err = generation.NewHTTPGenerator(generation.HTTPGeneratorConfig{
		URL:              cfg.Generator.URL,
		Timeout:          cfg.Generator.Timeout.Std(),
		FailureThreshold: cfg.Generator.FailureThreshold,
		ResetTimeout:     cfg.Generator.ResetTimeout.Std(),
		APIKey:           cfg.Generator.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	service := generation.NewService(a.dbManager, a.generator, cfg.Billing.BookCost, logger)

	// STEP 4: Dispatcher
	a.dispatcher, err = dispatcher.New(service, dispatcher.Config{
		JobTimeout:   cfg.Dispatcher.JobTimeout.Std(),
		IdleInterval: cfg.Dispatcher.IdleInterval.Std(),
	}, a.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	err = a.metrics.ObserveQueueDepth(func() map[string]int {
		depths := make(map[string]int)
		for class, size := range a.dispatcher.Sizes() {
			depths[string(class)] = size
		}
		return depths
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register queue depth gauge: %w", err)
	}

	// STEP 5: Lifecycle publisher
	a.publisher = publisher.Nop{}
	if cfg.MQTT.Enabled {
		mqttPublisher, err := publisher.NewMQTTPublisher(publisher.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            byte(cfg.MQTT.QoS),
			BufferSize:     cfg.MQTT.BufferSize,
			PublishTimeout: cfg.MQTT.PublishTimeout.Std(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect lifecycle publisher: %w", err)
		}
		a.publisher = mqttPublisher
	}

	// STEP 6: Registry, router and hub
	a.registry = websocket.NewRegistry()
	a.router = router.NewRouter(a.registry, logger)
	var limiter *router.RateLimiter
	if cfg.WebSocket.EventsPerSecond > 0 {
		limiter = router.NewRateLimiter(cfg.WebSocket.EventsPerSecond, cfg.WebSocket.EventBurst)
	}
	a.hub = hub.NewHub(a.registry, a.router, a.dispatcher, hub.Config{}, hub.Options{
		Limiter:   limiter,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	a.dispatcher.SetNotifier(a.hub)

	// STEP 7: API server and WebSocket handler on one mux
	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}
	a.apiServer = api.NewServer(a.dbManager, a.registry, a.dispatcher, api.Options{
		Auth:      authenticator,
		Generator: a.generator,
		Logger:    logger,
	})
	wsHandler := websocket.NewHandler(a.hub, authenticator, websocket.HandlerConfig{
		PingInterval:          cfg.WebSocket.PingInterval.Std(),
		ReadTimeout:           cfg.WebSocket.ReadTimeout.Std(),
		WriteTimeout:          cfg.WebSocket.WriteTimeout.Std(),
		BufferSize:            cfg.WebSocket.BufferSize,
		MaxMessageSize:        cfg.WebSocket.MaxMessageSize,
		AllowQueryCredentials: cfg.WebSocket.AllowQueryCredentials,
	}, logger)
	a.apiServer.Handle(cfg.WebSocket.Path, http.HandlerFunc(wsHandler.HandleWebSocket))

	// STEP 8: HTTP server
	a.httpServer = &http.Server{
		Addr:        cfg.HTTP.Addr(),
		Handler:     a.apiServer,
		ReadTimeout: cfg.HTTP.ReadTimeout.Std(),
		// WriteTimeout does not apply to hijacked WebSocket connections.
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	return a, nil
}

// Start runs the hub, then the dispatcher, then the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.httpServer.Addr).Str("version", Version).Msg("starting aiscript")

	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if err := a.dispatcher.Start(ctx); err != nil {
		_ = a.hub.Stop()
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	listener, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.dispatcher.Stop()
		_ = a.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()

	go func() {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	a.logger.Info().Str("addr", listener.Addr().String()).Msg("aiscript started")
	return nil
}

// Errors reports a failure of the HTTP server after Start returned.
func (a *Application) Errors() <-chan error {
	return a.serveErr
}

// Stop shuts down in reverse order: HTTP, dispatcher, hub, then the backing resources.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info().Msg("shutting down aiscript")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	if err := a.dispatcher.Stop(); err != nil && !errors.Is(err, dispatcher.ErrDispatcherNotRunning) {
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}
	if err := a.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	errs = append(errs, a.release(ctx)...)

	a.logger.Info().Msg("aiscript shutdown complete")
	return errors.Join(errs...)
}

// release closes publisher, metrics, telemetry and database, whichever exist.
func (a *Application) release(ctx context.Context) []error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publisher shutdown: %w", err))
		}
	}
	if err := a.metrics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.dbManager != nil {
		if err := a.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database shutdown: %w", err))
		}
	}
	return errs
}

// Addr returns the bound listen address once started, else the configured one.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// QueueSizes exposes the dispatcher's queue sizes.
func (a *Application) QueueSizes() map[types.QueueClass]int {
	return a.dispatcher.Sizes()
}
