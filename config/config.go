// Package config provides configuration loading and validation for the chat
// client. Configuration is read from a JSON file, then environment variables
// with the CHAT_ prefix override individual fields.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration with JSON string encoding ("5s", "2m").
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a duration
// string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete chat client configuration
type Config struct {
	Transport TransportConfig `json:"transport"`
	Delivery  DeliveryConfig  `json:"delivery"`
	API       APIConfig       `json:"api"`
	Logging   LoggingConfig   `json:"logging"`
}

// TransportConfig configures the real-time transport connection
type TransportConfig struct {
	URL            string   `json:"url"`             // server URL, e.g. "nats://chat.example.com:4222"
	ClientName     string   `json:"client_name"`     // connection name reported to the server
	ConnectTimeout Duration `json:"connect_timeout"` // bound on the connect handshake
	AckTimeout     Duration `json:"ack_timeout"`     // per-emit acknowledgment wait

	Reconnection  bool     `json:"reconnection"`   // enable automatic reconnection
	MaxReconnects int      `json:"max_reconnects"` // attempts before giving up
	ReconnectWait Duration `json:"reconnect_wait"` // floor between attempts
	ReconnectMax  Duration `json:"reconnect_max"`  // ceiling between attempts
}

// DeliveryConfig configures the outbound queue and retry policy
type DeliveryConfig struct {
	MaxSendRetries int      `json:"max_send_retries"` // attempts per message before terminal failure
	RetryDelay     Duration `json:"retry_delay"`      // fixed delay between resend attempts
	SentRetention  Duration `json:"sent_retention"`   // how long sent ids stay deduplicated
	SweepInterval  Duration `json:"sweep_interval"`   // sent-set housekeeping cadence
	OfflineQueue   bool     `json:"offline_queue"`    // queue messages while disconnected
}

// APIConfig configures the REST backend client
type APIConfig struct {
	BaseURL string   `json:"base_url"`
	Timeout Duration `json:"timeout"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// DefaultConfig returns a configuration with production defaults
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			URL:            "nats://localhost:4222",
			ClientName:     "chat-client",
			ConnectTimeout: Duration(15 * time.Second),
			AckTimeout:     Duration(10 * time.Second),
			Reconnection:   true,
			MaxReconnects:  5,
			ReconnectWait:  Duration(2 * time.Second),
			ReconnectMax:   Duration(30 * time.Second),
		},
		Delivery: DeliveryConfig{
			MaxSendRetries: 3,
			RetryDelay:     Duration(2 * time.Second),
			SentRetention:  Duration(5 * time.Minute),
			SweepInterval:  Duration(time.Minute),
			OfflineQueue:   true,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile reads configuration from a JSON file on top of the defaults and
// applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides individual fields from CHAT_* environment
// variables. Unset variables leave the current value untouched.
func (c *Config) ApplyEnvOverrides() {
	setString(&c.Transport.URL, "CHAT_SERVER_URL")
	setString(&c.Transport.ClientName, "CHAT_CLIENT_NAME")
	setDuration(&c.Transport.ConnectTimeout, "CHAT_CONNECT_TIMEOUT")
	setDuration(&c.Transport.AckTimeout, "CHAT_ACK_TIMEOUT")
	setBool(&c.Transport.Reconnection, "CHAT_RECONNECTION")
	setInt(&c.Transport.MaxReconnects, "CHAT_MAX_RECONNECTS")
	setDuration(&c.Transport.ReconnectWait, "CHAT_RECONNECT_WAIT")
	setDuration(&c.Transport.ReconnectMax, "CHAT_RECONNECT_MAX")

	setInt(&c.Delivery.MaxSendRetries, "CHAT_MAX_SEND_RETRIES")
	setDuration(&c.Delivery.RetryDelay, "CHAT_RETRY_DELAY")
	setDuration(&c.Delivery.SentRetention, "CHAT_SENT_RETENTION")
	setDuration(&c.Delivery.SweepInterval, "CHAT_SWEEP_INTERVAL")
	setBool(&c.Delivery.OfflineQueue, "CHAT_OFFLINE_QUEUE")

	setString(&c.API.BaseURL, "CHAT_API_BASE_URL")
	setDuration(&c.API.Timeout, "CHAT_API_TIMEOUT")

	setString(&c.Logging.Level, "CHAT_LOG_LEVEL")
	setString(&c.Logging.Format, "CHAT_LOG_FORMAT")
}

// Validate checks every field for sane values
func (c *Config) Validate() error {
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url is required")
	}
	if u, err := url.Parse(c.Transport.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("transport.url %q is not a valid URL", c.Transport.URL)
	}
	if c.Transport.ConnectTimeout.Std() <= 0 {
		return fmt.Errorf("transport.connect_timeout must be positive")
	}
	if c.Transport.AckTimeout.Std() <= 0 {
		return fmt.Errorf("transport.ack_timeout must be positive")
	}
	if c.Transport.Reconnection {
		if c.Transport.MaxReconnects <= 0 {
			return fmt.Errorf("transport.max_reconnects must be positive when reconnection is enabled")
		}
		if c.Transport.ReconnectWait.Std() <= 0 {
			return fmt.Errorf("transport.reconnect_wait must be positive")
		}
		if c.Transport.ReconnectMax.Std() < c.Transport.ReconnectWait.Std() {
			return fmt.Errorf("transport.reconnect_max must be >= transport.reconnect_wait")
		}
	}

	if c.Delivery.MaxSendRetries <= 0 {
		return fmt.Errorf("delivery.max_send_retries must be positive")
	}
	if c.Delivery.RetryDelay.Std() <= 0 {
		return fmt.Errorf("delivery.retry_delay must be positive")
	}
	if c.Delivery.SentRetention.Std() <= 0 {
		return fmt.Errorf("delivery.sent_retention must be positive")
	}
	if c.Delivery.SweepInterval.Std() <= 0 {
		return fmt.Errorf("delivery.sweep_interval must be positive")
	}

	if c.API.BaseURL != "" {
		if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("api.base_url %q is not a valid URL", c.API.BaseURL)
		}
	}
	if c.API.Timeout.Std() <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = Duration(parsed)
		}
	}
}
