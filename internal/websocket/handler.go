package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Handshake field names. The original client sends them in the handshake auth
// object; over plain WebSocket they arrive as headers (or query parameters in dev mode).
const (
	AuthorizationField = "authorization"
	UserIDField        = "userId"
)

// EventSink receives connection lifecycle and inbound events.
// The hub implements it; keeping it an interface avoids an import cycle.
type EventSink interface {
	RegisterConnection(conn *Connection) error
	UnregisterConnection(conn *Connection) error
	SubmitEvent(conn *Connection, envelope types.Envelope) error
}

// HandlerConfig carries the transport settings from the application config.
type HandlerConfig struct {
	PingInterval          time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	BufferSize            int
	MaxMessageSize        int64
	AllowQueryCredentials bool
}

// Handler accepts WebSocket connections, authenticates the handshake and
// pumps inbound frames into the hub.
type Handler struct {
	sink     EventSink
	auth     interfaces.Authenticator
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(sink EventSink, auth interfaces.Authenticator, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	return &Handler{
		sink: sink,
		auth: auth,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the reverse proxy in front of the service.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "ws-handler").Logger(),
	}
}

// HandleWebSocket validates the handshake before upgrading so refused clients get a
// plain HTTP error and never reach the registry.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	authorization, userID := h.credentials(r)

	if err := h.checkHandshake(authorization, userID); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, types.ErrInvalidUserID) {
			status = http.StatusBadRequest
		}
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("handshake refused")
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, ConnectionOptions{
		BufferSize:   h.cfg.BufferSize,
		WriteTimeout: h.cfg.WriteTimeout,
	})

	if err := wsConn.SetCredentials(userID); err != nil {
		h.logger.Error().Err(err).Msg("failed to set credentials")
		_ = wsConn.Close()
		return
	}

	if err := h.sink.RegisterConnection(wsConn); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// credentials reads the handshake fields, falling back to query parameters in dev mode.
func (h *Handler) credentials(r *http.Request) (authorization, userID string) {
	authorization = r.Header.Get(AuthorizationField)
	userID = r.Header.Get(UserIDField)

	if h.cfg.AllowQueryCredentials {
		query := r.URL.Query()
		if authorization == "" {
			authorization = query.Get(AuthorizationField)
		}
		if userID == "" {
			userID = query.Get(UserIDField)
		}
	}
	return authorization, userID
}

func (h *Handler) checkHandshake(authorization, userID string) error {
	if authorization == "" {
		return ErrMissingAuthorization
	}
	if userID == "" {
		return ErrMissingUserID
	}
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidUserID
	}
	if h.auth != nil {
		if err := h.auth.Authenticate(authorization, userID); err != nil {
			return err
		}
	}
	return nil
}

// handleConnection runs the read pump and heartbeat for one connection.
func (h *Handler) handleConnection(conn *Connection) {
	logger := h.logger.With().Str("user_id", conn.GetUserID()).Str("conn_id", conn.ID()).Logger()

	// Close first: the hub drops a pending registration whose connection is already done.
	defer func() {
		_ = conn.Close()
		if err := h.sink.UnregisterConnection(conn); err != nil {
			logger.Warn().Err(err).Msg("failed to unregister connection")
		}
	}()

	conn.conn.SetReadLimit(h.cfg.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		logger.Warn().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			_ = conn.Send(types.EventError, types.ErrorEvent{Message: ErrInvalidEnvelope.Error()})
			continue
		}

		if err := h.sink.SubmitEvent(conn, envelope); err != nil {
			_ = conn.Send(types.EventError, types.ErrorEvent{Event: envelope.Event, Message: err.Error()})
		}
	}
}

// heartbeat pings the peer until the connection is done.
func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
