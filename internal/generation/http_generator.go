package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"aiscript/pkg/types"
)

// HTTPGeneratorConfig configures the remote generation backend.
type HTTPGeneratorConfig struct {
	URL              string
	Timeout          time.Duration
	FailureThreshold uint32
	ResetTimeout     time.Duration
	APIKey           string
}

// HTTPGenerator POSTs requests to a generation backend behind a circuit breaker.
type HTTPGenerator struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPGenerator creates a generator for cfg.URL.
func NewHTTPGenerator(cfg HTTPGeneratorConfig, logger zerolog.Logger) (*HTTPGenerator, error) {
	if cfg.URL == "" {
		return nil, ErrMissingGenerator
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	logger = logger.With().Str("component", "http-generator").Logger()

	return &HTTPGenerator{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "generator",
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("generator circuit breaker state changed")
			},
		}),
	}, nil
}

// Generate sends request and decodes the generated document.
// While the breaker is open it fails fast with gobreaker.ErrOpenState.
func (g *HTTPGenerator) Generate(ctx context.Context, request types.BookRequest) (*Result, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.send(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}

// State reports the breaker state for health output.
func (g *HTTPGenerator) State() string {
	return g.breaker.State().String()
}

func (g *HTTPGenerator) send(ctx context.Context, request types.BookRequest) (*Result, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrGeneratorStatus, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode generator response: %w", err)
	}
	return &result, nil
}
