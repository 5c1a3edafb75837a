package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Registry is the read side of the connection registry.
type Registry interface {
	GetStats() map[string]int
	ListUserIDs() []string
}

// Queues is the read side of the dispatcher.
type Queues interface {
	Sizes() map[types.QueueClass]int
	InFlight() (*types.QueueMember, bool)
}

// BreakerState reports the generator circuit breaker state.
type BreakerState interface {
	State() string
}

// Server exposes health and read-only queue state over HTTP. It holds no business logic.
type Server struct {
	dbManager interfaces.DatabaseManager
	registry  Registry
	queues    Queues
	auth      interfaces.Authenticator
	generator BreakerState
	router    *http.ServeMux
	startedAt time.Time
	logger    zerolog.Logger
}

// Options carries optional collaborators.
type Options struct {
	// Auth guards the per-user endpoints. Without it they answer 404.
	Auth      interfaces.Authenticator
	Generator BreakerState
	Logger    zerolog.Logger
}

// NewServer creates the API server and registers its routes.
func NewServer(dbManager interfaces.DatabaseManager, registry Registry, queues Queues, opts Options) *Server {
	s := &Server{
		dbManager: dbManager,
		registry:  registry,
		queues:    queues,
		auth:      opts.Auth,
		generator: opts.Generator,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
		logger:    opts.Logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/queues", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleQueues))))
	s.router.Handle("/api/users", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUsers))))
	if s.auth != nil {
		s.router.Handle("/api/users/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUserByID))))
	}
}

// Handle mounts an extra handler, such as the WebSocket endpoint, on the same mux.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type QueueInfo struct {
	Size int `json:"size"`
}

type QueuesResponse struct {
	Shared   QueueInfo `json:"shared"`
	Priority QueueInfo `json:"priority"`
	InFlight string    `json:"in_flight,omitempty"`
}

type UsersResponse struct {
	Users []string `json:"users"`
}

type BooksResponse struct {
	Books []*types.Book `json:"books"`
}

type WalletResponse struct {
	Wallet  *types.Wallet `json:"wallet"`
	Balance int           `json:"balance"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Generator   string                 `json:"generator,omitempty"`
	Connections map[string]int         `json:"connections"`
	Queues      map[string]int         `json:"queues"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/queues
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sizes := s.queues.Sizes()
	response := QueuesResponse{
		Shared:   QueueInfo{Size: sizes[types.QueueShared]},
		Priority: QueueInfo{Size: sizes[types.QueuePriority]},
	}
	if member, ok := s.queues.InFlight(); ok {
		response.InFlight = member.UserID
	}
	s.sendJSON(w, http.StatusOK, response)
}

// GET /api/users
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	users := s.registry.ListUserIDs()
	if users == nil {
		users = []string{}
	}
	s.sendJSON(w, http.StatusOK, UsersResponse{Users: users})
}

// GET /api/users/{id}/books and GET /api/users/{id}/wallet, authenticated as {id}.
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/"), "/")
	if len(parts) != 2 || !types.IsValidUserID(parts[0]) {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	userID, resource := parts[0], parts[1]

	if err := s.auth.Authenticate(r.Header.Get("Authorization"), userID); err != nil {
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	switch resource {
	case "books":
		s.listBooks(w, r, userID)
	case "wallet":
		s.getWallet(w, r, userID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request, userID string) {
	books, err := s.dbManager.ListBooksByOwner(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list books")
		s.sendError(w, "Failed to list books", http.StatusInternalServerError)
		return
	}
	if books == nil {
		books = []*types.Book{}
	}
	s.sendJSON(w, http.StatusOK, BooksResponse{Books: books})
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request, userID string) {
	wallet, err := s.dbManager.GetWallet(r.Context(), userID)
	if errors.Is(err, interfaces.ErrWalletNotFound) {
		s.sendError(w, "Wallet not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load wallet")
		s.sendError(w, "Failed to load wallet", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, WalletResponse{Wallet: wallet, Balance: wallet.Balance()})
}

// GET /health. Returns 503 when the database check fails.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	queues := make(map[string]int)
	for class, size := range s.queues.Sizes() {
		queues[string(class)] = size
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		Queues:      queues,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}
	if s.generator != nil {
		response.Generator = s.generator.State()
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows any origin; the browser client is served from a different host.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
