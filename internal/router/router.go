package router

import (
	"github.com/rs/zerolog"

	"aiscript/internal/websocket"
	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Router delivers outbound events to connections found in the registry.
// It never mutates the registry.
type Router struct {
	registry *websocket.Registry
	logger   zerolog.Logger
}

// NewRouter creates a new event router
func NewRouter(registry *websocket.Registry, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Broadcast sends event to every open connection.
func (r *Router) Broadcast(event string, data interface{}) {
	message := types.OutboundMessage{Event: event, Data: data}
	for _, conn := range r.registry.AllConnections() {
		r.deliver(conn, message)
	}
}

// SendToUser sends event to every connection of userID and returns how many
// connections accepted it. A failed connection does not stop delivery to the rest.
func (r *Router) SendToUser(userID, event string, data interface{}) int {
	message := types.OutboundMessage{Event: event, Data: data}

	delivered := 0
	for _, conn := range r.registry.LookupHandles(userID) {
		if r.deliver(conn, message) {
			delivered++
		}
	}

	if delivered == 0 {
		r.logger.Debug().Str("user_id", userID).Str("event", event).Msg("no connection accepted targeted event")
	}
	return delivered
}

// SendToConnection sends event to a single connection.
func (r *Router) SendToConnection(conn interfaces.Connection, event string, data interface{}) bool {
	return r.deliver(conn, types.OutboundMessage{Event: event, Data: data})
}

// BroadcastUsers sends the current online user list to everyone.
func (r *Router) BroadcastUsers() {
	r.Broadcast(types.EventUsers, r.registry.ListUserIDs())
}

func (r *Router) deliver(conn interfaces.Connection, message types.OutboundMessage) bool {
	if err := conn.WriteJSON(message); err != nil {
		r.logger.Warn().Err(err).
			Str("conn_id", conn.ID()).
			Str("event", message.Event).
			Msg("failed to deliver event")
		return false
	}
	return true
}
