package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AISCRIPT_"

// Config is the full runtime configuration.
type Config struct {
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	WebSocket  WebSocketConfig  `json:"websocket" yaml:"websocket"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Dispatcher DispatcherConfig `json:"dispatcher" yaml:"dispatcher"`
	Generator  GeneratorConfig  `json:"generator" yaml:"generator"`
	Billing    BillingConfig    `json:"billing" yaml:"billing"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	MQTT       MQTTConfig       `json:"mqtt" yaml:"mqtt"`
}

type DatabaseConfig struct {
	Path            string   `json:"path" yaml:"path"`
	MaxConnections  int      `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type HTTPConfig struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	Path           string   `json:"path" yaml:"path"`
	PingInterval   Duration `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout    Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout"`
	BufferSize     int      `json:"buffer_size" yaml:"buffer_size"`
	MaxMessageSize int64    `json:"max_message_size" yaml:"max_message_size"`
	// AllowQueryCredentials accepts authorization/userId as query parameters. Dev only.
	AllowQueryCredentials bool    `json:"allow_query_credentials" yaml:"allow_query_credentials"`
	EventsPerSecond       float64 `json:"events_per_second" yaml:"events_per_second"`
	EventBurst            int     `json:"event_burst" yaml:"event_burst"`
}

type AuthConfig struct {
	AccessSecret string `json:"access_secret" yaml:"access_secret"`
}

type DispatcherConfig struct {
	JobTimeout   Duration `json:"job_timeout" yaml:"job_timeout"`
	IdleInterval Duration `json:"idle_interval" yaml:"idle_interval"`
}

type GeneratorConfig struct {
	URL              string   `json:"url" yaml:"url"`
	APIKey           string   `json:"api_key" yaml:"api_key"`
	Timeout          Duration `json:"timeout" yaml:"timeout"`
	FailureThreshold uint32   `json:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

type BillingConfig struct {
	// BookCost is the number of credits one generated book costs.
	BookCost int `json:"book_cost" yaml:"book_cost"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, console
}

type TelemetryConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Endpoint       string   `json:"endpoint" yaml:"endpoint"`
	Insecure       bool     `json:"insecure" yaml:"insecure"`
	ServiceName    string   `json:"service_name" yaml:"service_name"`
	ExportInterval Duration `json:"export_interval" yaml:"export_interval"`
}

type MQTTConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Broker         string   `json:"broker" yaml:"broker"`
	ClientID       string   `json:"client_id" yaml:"client_id"`
	Username       string   `json:"username" yaml:"username"`
	Password       string   `json:"password" yaml:"password"`
	TopicPrefix    string   `json:"topic_prefix" yaml:"topic_prefix"`
	QoS            int      `json:"qos" yaml:"qos"`
	BufferSize     int      `json:"buffer_size" yaml:"buffer_size"`
	PublishTimeout Duration `json:"publish_timeout" yaml:"publish_timeout"`
}

// DefaultConfig returns settings for a single-node deployment.
// Auth.AccessSecret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "./data/aiscript.db",
			MaxConnections:  10,
			ConnMaxLifetime: Duration(time.Hour),
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		WebSocket: WebSocketConfig{
			Path:            "/ws",
			PingInterval:    Duration(30 * time.Second),
			ReadTimeout:     Duration(60 * time.Second),
			WriteTimeout:    Duration(5 * time.Second),
			BufferSize:      100,
			MaxMessageSize:  64 * 1024,
			EventsPerSecond: 5,
			EventBurst:      10,
		},
		Dispatcher: DispatcherConfig{
			JobTimeout:   Duration(10 * time.Minute),
			IdleInterval: Duration(5 * time.Second),
		},
		Generator: GeneratorConfig{
			URL:              "http://localhost:8000/generate",
			Timeout:          Duration(5 * time.Minute),
			FailureThreshold: 5,
			ResetTimeout:     Duration(30 * time.Second),
		},
		Billing: BillingConfig{
			BookCost: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "aiscript",
			ExportInterval: Duration(15 * time.Second),
		},
		MQTT: MQTTConfig{
			ClientID:       "aiscript",
			TopicPrefix:    "aiscript/jobs",
			QoS:            1,
			BufferSize:     256,
			PublishTimeout: Duration(2 * time.Second),
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("WebSocket path must start with /")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.EventsPerSecond > 0 && c.WebSocket.EventBurst <= 0 {
		return fmt.Errorf("WebSocket event burst must be positive when rate limiting is enabled")
	}

	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("auth access secret is required")
	}

	if c.Dispatcher.JobTimeout <= 0 || c.Dispatcher.IdleInterval <= 0 {
		return fmt.Errorf("dispatcher intervals must be positive")
	}

	if c.Generator.URL == "" {
		return fmt.Errorf("generator URL cannot be empty")
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("generator timeout must be positive")
	}
	if c.Generator.FailureThreshold == 0 {
		return fmt.Errorf("generator failure threshold must be positive")
	}

	if c.Billing.BookCost <= 0 {
		return fmt.Errorf("billing book cost must be positive")
	}

	if err := c.Log.validate(); err != nil {
		return err
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT broker is required when MQTT is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("MQTT QoS must be 0, 1 or 2")
		}
	}

	return nil
}

// LoadFromEnv applies AISCRIPT_* overrides on top of the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile overlays a JSON or YAML file on the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Load resolves configuration with precedence file > environment > defaults
// and validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyFile decodes the file onto config; keys absent from the file keep their value.
func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	e := &envReader{}

	e.setString("DATABASE_PATH", &c.Database.Path)
	e.setInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)
	e.setDuration("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime)

	e.setString("HTTP_HOST", &c.HTTP.Host)
	e.setInt("HTTP_PORT", &c.HTTP.Port)
	e.setDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.setDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.setDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	e.setString("WEBSOCKET_PATH", &c.WebSocket.Path)
	e.setDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.setDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	e.setDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.setInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	e.setInt64("WEBSOCKET_MAX_MESSAGE_SIZE", &c.WebSocket.MaxMessageSize)
	e.setBool("WEBSOCKET_ALLOW_QUERY_CREDENTIALS", &c.WebSocket.AllowQueryCredentials)
	e.setFloat("WEBSOCKET_EVENTS_PER_SECOND", &c.WebSocket.EventsPerSecond)
	e.setInt("WEBSOCKET_EVENT_BURST", &c.WebSocket.EventBurst)

	e.setString("AUTH_ACCESS_SECRET", &c.Auth.AccessSecret)

	e.setDuration("DISPATCHER_JOB_TIMEOUT", &c.Dispatcher.JobTimeout)
	e.setDuration("DISPATCHER_IDLE_INTERVAL", &c.Dispatcher.IdleInterval)

	e.setString("GENERATOR_URL", &c.Generator.URL)
	e.setString("GENERATOR_API_KEY", &c.Generator.APIKey)
	e.setDuration("GENERATOR_TIMEOUT", &c.Generator.Timeout)
	e.setUint32("GENERATOR_FAILURE_THRESHOLD", &c.Generator.FailureThreshold)
	e.setDuration("GENERATOR_RESET_TIMEOUT", &c.Generator.ResetTimeout)

	e.setInt("BILLING_BOOK_COST", &c.Billing.BookCost)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)

	e.setBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	e.setString("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	e.setBool("TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	e.setString("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	e.setDuration("TELEMETRY_EXPORT_INTERVAL", &c.Telemetry.ExportInterval)

	e.setBool("MQTT_ENABLED", &c.MQTT.Enabled)
	e.setString("MQTT_BROKER", &c.MQTT.Broker)
	e.setString("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	e.setString("MQTT_USERNAME", &c.MQTT.Username)
	e.setString("MQTT_PASSWORD", &c.MQTT.Password)
	e.setString("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	e.setInt("MQTT_QOS", &c.MQTT.QoS)
	e.setInt("MQTT_BUFFER_SIZE", &c.MQTT.BufferSize)
	e.setDuration("MQTT_PUBLISH_TIMEOUT", &c.MQTT.PublishTimeout)

	return errors.Join(e.errs...)
}

// envReader collects parse failures so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, value, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setUint32(key string, dst *uint32) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = uint32(n)
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = Duration(d)
	}
}
