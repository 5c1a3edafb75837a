package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aiscript/internal/dispatcher"
	"aiscript/internal/publisher"
	"aiscript/internal/router"
	"aiscript/internal/telemetry"
	"aiscript/internal/websocket"
	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

const (
	defaultEventBuffer     = 1000
	defaultRegisterBuffer  = 100
	defaultSettledBuffer   = 16
	defaultUnregisterWait  = 5 * time.Second
	defaultLimiterSweep    = time.Minute
	defaultLimiterIdleTime = 5 * time.Minute
)

// Admission is the part of the dispatcher the hub drives.
type Admission interface {
	Join(class types.QueueClass, member *types.QueueMember) (dispatcher.JoinResult, error)
	Position(class types.QueueClass, userID string) int
	Leave(class types.QueueClass, userID string) (removed int, size int)
	Size(class types.QueueClass) int
}

// Config tunes channel sizes and limiter housekeeping. Zero values select defaults.
type Config struct {
	EventBuffer     int
	RegisterBuffer  int
	SettledBuffer   int
	UnregisterWait  time.Duration
	LimiterSweep    time.Duration
	LimiterIdleTime time.Duration
}

// Options carries the optional collaborators.
type Options struct {
	Limiter   *router.RateLimiter
	Publisher publisher.Publisher
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
}

// Hub serializes connection lifecycle, client queue events and job outcomes
// through one goroutine, so every size it broadcasts follows the mutation it reports.
type Hub struct {
	eventChannel      chan *InboundEvent
	registerChannel   chan interfaces.Connection
	unregisterChannel chan interfaces.Connection
	settledChannel    chan dispatcher.Outcome
	shutdownChannel   chan struct{}

	registry  *websocket.Registry
	router    interfaces.EventRouter
	admission Admission
	limiter   *router.RateLimiter
	publisher publisher.Publisher
	metrics   *telemetry.Metrics
	cfg       Config
	logger    zerolog.Logger

	running bool
	done    chan struct{}
	mu      sync.RWMutex
}

// InboundEvent is a decoded client frame with its sender.
type InboundEvent struct {
	Conn       interfaces.Connection
	Envelope   types.Envelope
	ReceivedAt time.Time
}

// NewHub creates a hub. The limiter, publisher and metrics in opts may be nil.
func NewHub(registry *websocket.Registry, rt interfaces.EventRouter, admission Admission, cfg Config, opts Options) *Hub {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.RegisterBuffer <= 0 {
		cfg.RegisterBuffer = defaultRegisterBuffer
	}
	if cfg.SettledBuffer <= 0 {
		cfg.SettledBuffer = defaultSettledBuffer
	}
	if cfg.UnregisterWait <= 0 {
		cfg.UnregisterWait = defaultUnregisterWait
	}
	if cfg.LimiterSweep <= 0 {
		cfg.LimiterSweep = defaultLimiterSweep
	}
	if cfg.LimiterIdleTime <= 0 {
		cfg.LimiterIdleTime = defaultLimiterIdleTime
	}
	pub := opts.Publisher
	if pub == nil {
		pub = publisher.Nop{}
	}

	return &Hub{
		eventChannel:      make(chan *InboundEvent, cfg.EventBuffer),
		registerChannel:   make(chan interfaces.Connection, cfg.RegisterBuffer),
		unregisterChannel: make(chan interfaces.Connection, cfg.RegisterBuffer),
		settledChannel:    make(chan dispatcher.Outcome, cfg.SettledBuffer),
		registry:          registry,
		router:            rt,
		admission:         admission,
		limiter:           opts.Limiter,
		publisher:         pub,
		metrics:           opts.Metrics,
		cfg:               cfg,
		logger:            opts.Logger.With().Str("component", "hub").Logger(),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info().Msg("starting hub")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop signals the loop to exit and waits for it.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("hub stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// RegisterConnection queues an authenticated connection for registration.
func (h *Hub) RegisterConnection(conn *websocket.Connection) error {
	if conn == nil {
		return websocket.ErrNilConnection
	}
	return h.enqueue(h.registerChannel, conn, ErrRegisterChannelFull)
}

// UnregisterConnection queues a closed connection for removal, waiting up to
// UnregisterWait for room in the channel.
func (h *Hub) UnregisterConnection(conn *websocket.Connection) error {
	if conn == nil {
		return websocket.ErrNilConnection
	}
	return h.unregister(conn)
}

// unregister falls back to removing conn from the registry directly when the
// loop does not take it in time. The users list then catches up on the next
// broadcast.
func (h *Hub) unregister(conn interfaces.Connection) error {
	h.mu.RLock()
	running, done := h.running, h.done
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	timer := time.NewTimer(h.cfg.UnregisterWait)
	defer timer.Stop()

	select {
	case h.unregisterChannel <- conn:
		return nil
	case <-done:
		return ErrHubNotRunning
	case <-timer.C:
	}

	userID, ok := h.registry.RemoveConnection(conn)
	if ok {
		h.metrics.ConnectionClosed(context.Background())
	}
	h.logger.Warn().
		Str("user_id", userID).
		Str("conn_id", conn.ID()).
		Bool("removed", ok).
		Msg("unregister channel full, removed connection outside the loop")
	return nil
}

func (h *Hub) enqueue(ch chan interfaces.Connection, conn interfaces.Connection, full error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case ch <- conn:
		return nil
	default:
		return full
	}
}

// SubmitEvent queues a client event. It never blocks the read pump.
func (h *Hub) SubmitEvent(conn *websocket.Connection, envelope types.Envelope) error {
	if conn == nil {
		return websocket.ErrNilConnection
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- &InboundEvent{Conn: conn, Envelope: envelope, ReceivedAt: time.Now()}:
		return nil
	default:
		h.metrics.RecordEventRejected(context.Background(), envelope.Event, "backpressure")
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	sweep := time.NewTicker(h.cfg.LimiterSweep)
	defer sweep.Stop()

	for {
		select {
		case conn := <-h.registerChannel:
			h.guard("register", func() { h.handleRegistration(conn) })

		case conn := <-h.unregisterChannel:
			h.guard("unregister", func() { h.handleDeregistration(conn) })

		case event := <-h.eventChannel:
			h.guard("event", func() { h.handleEvent(event) })

		case outcome := <-h.settledChannel:
			h.guard("settled", func() { h.handleSettled(outcome) })

		case <-sweep.C:
			if h.limiter != nil {
				if n := h.limiter.Cleanup(h.cfg.LimiterIdleTime); n > 0 {
					h.logger.Debug().Int("evicted", n).Msg("rate limiter sweep")
				}
			}

		case <-shutdown:
			return

		case <-ctx.Done():
			h.logger.Info().Msg("hub context cancelled")
			return
		}
	}
}

// guard keeps a failing handler from taking the loop down.
func (h *Hub) guard(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("stage", stage).Msg("hub handler panicked")
		}
	}()
	fn()
}

func (h *Hub) handleRegistration(conn interfaces.Connection) {
	if closed, ok := conn.(interface{ Done() <-chan struct{} }); ok {
		select {
		case <-closed.Done():
			h.logger.Debug().Str("conn_id", conn.ID()).Msg("skipping registration of closed connection")
			return
		default:
		}
	}

	userID := conn.GetUserID()
	if _, err := h.registry.AddConnection(conn, userID); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("connection registration failed")
		_ = conn.Close()
		return
	}
	h.metrics.ConnectionOpened(context.Background())
	h.logger.Info().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("connection registered")

	h.router.BroadcastUsers()
	for _, class := range []types.QueueClass{types.QueueShared, types.QueuePriority} {
		h.router.SendToConnection(conn, class.SizeEvent(), types.QueueSizeEvent{Size: h.admission.Size(class)})
	}
}

// handleDeregistration removes conn. Queued jobs of its user stay queued.
func (h *Hub) handleDeregistration(conn interfaces.Connection) {
	userID, ok := h.registry.RemoveConnection(conn)
	if !ok {
		return
	}
	h.metrics.ConnectionClosed(context.Background())
	h.logger.Info().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("connection deregistered")
	h.router.BroadcastUsers()
}

func (h *Hub) handleEvent(event *InboundEvent) {
	conn := event.Conn
	userID := conn.GetUserID()
	name := event.Envelope.Event

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.reject(conn, name, "rate_limited", router.ErrRateLimitExceeded)
		return
	}

	class, action, ok := types.ParseInboundEvent(name)
	if !ok {
		h.reject(conn, name, "unknown_event", ErrUnknownEvent)
		return
	}

	switch action {
	case types.ActionJoin:
		h.handleJoin(conn, userID, class, event.Envelope)
	case types.ActionCheck:
		position := h.admission.Position(class, userID)
		h.sendStatus(userID, class, types.StatusChecked, &position)
	case types.ActionLeave:
		h.handleLeave(userID, class)
	}
}

func (h *Hub) handleJoin(conn interfaces.Connection, userID string, class types.QueueClass, envelope types.Envelope) {
	var request types.BookRequest
	if len(envelope.Data) == 0 {
		h.reject(conn, envelope.Event, "invalid_payload", ErrMissingPayload)
		return
	}
	if err := json.Unmarshal(envelope.Data, &request); err != nil {
		h.reject(conn, envelope.Event, "invalid_payload", ErrInvalidPayload)
		return
	}
	if err := request.Validate(); err != nil {
		h.reject(conn, envelope.Event, "invalid_payload", err)
		return
	}

	result, err := h.admission.Join(class, &types.QueueMember{
		ConnectionID: conn.ID(),
		UserID:       userID,
		Payload:      request,
	})
	if err != nil {
		h.reject(conn, envelope.Event, "join_failed", err)
		return
	}

	position := result.Position
	if result.Status == types.StatusAlreadyInQueue {
		h.sendStatus(userID, class, types.StatusAlreadyInQueue, &position)
		return
	}

	h.router.Broadcast(class.SizeEvent(), types.QueueSizeEvent{Size: result.Size})
	h.sendStatus(userID, class, types.StatusQueued, &position)
	h.publisher.Publish(publisher.LifecycleEvent{
		Type:     publisher.EventQueued,
		Queue:    string(class),
		UserID:   userID,
		Position: position,
		Size:     result.Size,
	})
}

// handleLeave answers left even when the user was not queued.
func (h *Hub) handleLeave(userID string, class types.QueueClass) {
	removed, size := h.admission.Leave(class, userID)

	h.router.Broadcast(class.SizeEvent(), types.QueueSizeEvent{Size: size})
	h.sendStatus(userID, class, types.StatusLeft, nil)
	if removed > 0 {
		h.publisher.Publish(publisher.LifecycleEvent{
			Type:   publisher.EventLeft,
			Queue:  string(class),
			UserID: userID,
			Size:   size,
		})
	}
}

// JobSettled hands a finished job to the hub loop. It runs on the dispatcher
// goroutine and blocks while the settled channel is full.
func (h *Hub) JobSettled(outcome dispatcher.Outcome) {
	h.mu.RLock()
	running, done := h.running, h.done
	h.mu.RUnlock()

	if running {
		select {
		case h.settledChannel <- outcome:
			return
		case <-done:
		}
	}
	h.logger.Warn().
		Str("user_id", outcome.Member.UserID).
		Str("instance_id", outcome.Member.InstanceID).
		Msg("hub stopped, job outcome not delivered")
}

// handleSettled reports the outcome with the queue size read now, not the size
// captured at removal.
func (h *Hub) handleSettled(outcome dispatcher.Outcome) {
	member := outcome.Member
	class := outcome.Class
	size := h.admission.Size(class)

	h.router.Broadcast(class.StatusEvent(), types.QueueStatusEvent{
		Status: types.StatusProcessed,
		UserID: member.UserID,
	})

	lifecycle := publisher.LifecycleEvent{
		Queue:      string(class),
		UserID:     member.UserID,
		InstanceID: member.InstanceID,
		Size:       size,
	}

	if outcome.Err == nil && outcome.Book != nil {
		h.router.SendToUser(member.UserID, types.EventBookCreated, types.BookCreatedEvent{
			BookID:  outcome.Book.ID,
			Title:   outcome.Book.Title,
			Author:  outcome.Book.Author,
			Charged: outcome.Book.CreditsCharged,
		})
		lifecycle.Type = publisher.EventProcessed
		lifecycle.BookID = outcome.Book.ID
	} else {
		err := outcome.Err
		if err == nil {
			err = ErrEmptyResult
		}
		h.reportFailure(member, err)
		lifecycle.Type = publisher.EventFailed
		lifecycle.Reason = err.Error()
	}

	h.router.Broadcast(class.SizeEvent(), types.QueueSizeEvent{Size: size})
	h.publisher.Publish(lifecycle)
}

func (h *Hub) reportFailure(member *types.QueueMember, err error) {
	switch {
	case errors.Is(err, interfaces.ErrWalletNotFound):
		h.router.SendToUser(member.UserID, types.EventWalletError, types.WalletErrorEvent{
			Status: types.WalletStatusNotFound,
			UserID: member.UserID,
			Reason: err.Error(),
		})
	case errors.Is(err, interfaces.ErrInsufficientFunds):
		h.router.SendToUser(member.UserID, types.EventWalletError, types.WalletErrorEvent{
			Status: types.WalletStatusInsufficientFunds,
			UserID: member.UserID,
			Reason: err.Error(),
		})
	default:
		h.router.SendToUser(member.UserID, types.EventBookError, types.BookErrorEvent{
			Title:  member.Payload.Title,
			Reason: err.Error(),
		})
	}
}

func (h *Hub) sendStatus(userID string, class types.QueueClass, status types.QueueStatus, position *int) {
	h.router.SendToUser(userID, class.StatusEvent(), types.QueueStatusEvent{
		Status:   status,
		UserID:   userID,
		Position: position,
	})
}

// reject answers the sending connection only.
func (h *Hub) reject(conn interfaces.Connection, event, reason string, err error) {
	h.metrics.RecordEventRejected(context.Background(), event, reason)
	h.logger.Debug().Err(err).Str("event", event).Str("user_id", conn.GetUserID()).Msg("event rejected")
	h.router.SendToConnection(conn, types.EventError, types.ErrorEvent{Event: event, Message: err.Error()})
}
