// Package config provides the configuration system for podsync.
// It defines a single BaseConfig structure shared by every connector so
// that transport, reliability and logging settings are read the same way
// regardless of which record shape (items, members, contacts) is synced.
//
// The configuration is organized into logical sections:
//   - Performance: page size and keyed-read concurrency
//   - Timeouts: HTTP request timeout
//   - Reliability: fail-fast policy and optional request pacing
//   - Security: client credentials
//   - Observability: log level, log file, metrics
//
// Example usage:
//
//	cfg := config.NewBaseConfig("crm", "podio-items")
//	cfg.Performance.BatchSize = 100
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ajitpratap0/podsync/pkg/logger"
)

// BaseConfig is the configuration structure all connectors embed with the
// yaml inline tag.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name" validate:"required"`
	// Type specifies the connector type (e.g., "podio-items", "podio-members")
	Type string `yaml:"type" json:"type" validate:"required"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig controls paging and fan-out.
type PerformanceConfig struct {
	// BatchSize is the page size for list requests and the chunk size for keyed reads
	BatchSize int `yaml:"batch_size" json:"batch_size" validate:"gt=0"`
	// MaxConcurrency bounds the keyed-read worker pool
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=0"`
}

// TimeoutConfig contains timeout settings.
type TimeoutConfig struct {
	// Request timeout for individual HTTP calls (0 = transport default)
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `yaml:"idle" json:"idle"`
}

// ReliabilityConfig contains error handling settings.
type ReliabilityConfig struct {
	// RateLimitPerSec paces outgoing requests (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" validate:"gte=0"`
	// FailFast stops a write batch on the first failed item
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
	// RetryAttempts bounds attempts of idempotent metadata reads (1 = no retry)
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" validate:"gte=0"`
	// RetryDelay is the initial backoff between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// SecurityConfig carries OAuth client credentials and optional secrets.
type SecurityConfig struct {
	// AuthType selects the token lifecycle: "user" or "app"
	AuthType string `yaml:"auth_type" json:"auth_type" validate:"omitempty,oneof=user app"`
	// Credentials stores client_id, client_secret and friends (use ${ENV} in files)
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	EnableMetrics bool              `yaml:"enable_metrics" json:"enable_metrics"`
	LogLevel      string            `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFile       logger.FileConfig `yaml:"log_file" json:"log_file"`
}

// NewBaseConfig creates a new BaseConfig with defaults that match the
// remote API's paging ceiling.
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			BatchSize:      250,
			MaxConcurrency: runtime.NumCPU(),
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Idle:       90 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RateLimitPerSec: 0,
			FailFast:        true,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
		},
		Security: SecurityConfig{
			AuthType:    "user",
			Credentials: make(map[string]string),
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			LogLevel:      "info",
		},
	}
}

// Validate checks required fields and ranges.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Type == "" {
		return fmt.Errorf("type is required")
	}
	if bc.Performance.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if bc.Performance.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative")
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	return nil
}

// GetMaxConcurrency returns the worker bound, at least 1
func (p *PerformanceConfig) GetMaxConcurrency() int {
	if p.MaxConcurrency <= 0 {
		return runtime.NumCPU()
	}
	return p.MaxConcurrency
}

// IsRateLimited returns true if request pacing is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// HasCredentials returns true if credentials are configured
func (s *SecurityConfig) HasCredentials() bool {
	return len(s.Credentials) > 0
}

// Credential returns a credential value or an empty string.
func (s *SecurityConfig) Credential(key string) string {
	if s.Credentials == nil {
		return ""
	}
	return s.Credentials[key]
}
