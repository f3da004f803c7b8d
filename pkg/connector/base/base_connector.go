// Package base provides the BaseConnector that every podsync connector
// embeds. It carries the shared configuration, logger, state, metrics,
// per-item failure policy and progress reporting.
//
// # Usage
//
// Connectors embed BaseConnector and call Initialize from their own
// Initialize before opening a connection:
//
//	type ItemsSource struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func NewItemsSource(cfg *config.PodioConfig) *ItemsSource {
//	    return &ItemsSource{
//	        BaseConnector: base.NewBaseConnector("podio-items", core.ConnectorTypeSource, "1.0.0"),
//	    }
//	}
//
// # Lifecycle
//
// 1. Create with NewBaseConnector
// 2. Initialize with Initialize(ctx, cfg)
// 3. Use throughout connector operations
// 4. Close with Close()
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/logger"
	"github.com/ajitpratap0/podsync/pkg/metrics"
)

// BaseConnector provides common functionality for all connectors.
type BaseConnector struct {
	// Core fields
	name          string
	connectorType core.ConnectorType
	version       string
	config        *config.PodioConfig
	logger        *zap.Logger

	// State management
	state      core.State
	stateMutex sync.RWMutex

	// Resource management
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
	closeMutex sync.Mutex

	metricsCollector *metrics.Collector
	errorHandler     *ErrorHandler
	retryPolicy      *RetryPolicy
	progressReporter *ProgressReporter
}

// NewBaseConnector creates a new base connector with the specified name,
// type, and version.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	return &BaseConnector{
		name:             name,
		connectorType:    connectorType,
		version:          version,
		state:            make(core.State),
		logger:           logger.Get().With(zap.String("connector", name)),
		metricsCollector: metrics.NewCollector(name),
	}
}

// Initialize validates cfg and sets up the failure policy, retry policy and
// progress reporting. It must be called before the connector is used.
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.PodioConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	bc.config = cfg
	bc.ctx, bc.cancel = context.WithCancel(ctx)
	bc.logger = logger.WithContext(ctx).With(zap.String("connector", bc.name))

	bc.errorHandler = NewErrorHandler(bc.logger, cfg.Reliability.FailFast)
	bc.retryPolicy = NewRetryPolicy(cfg.Reliability.RetryAttempts, cfg.Reliability.RetryDelay)
	bc.progressReporter = NewProgressReporter(bc.logger)

	bc.logger.Info("connector initialized",
		zap.String("type", string(bc.connectorType)),
		zap.String("version", bc.version))

	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// GetState returns a copy of the current state
func (bc *BaseConnector) GetState() core.State {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()

	stateCopy := make(core.State, len(bc.state))
	for k, v := range bc.state {
		stateCopy[k] = v
	}
	return stateCopy
}

// SetState updates the connector state
func (bc *BaseConnector) SetState(state core.State) error {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()

	if state == nil {
		state = make(core.State)
	}
	bc.state = state
	bc.logger.Debug("state updated", zap.Any("state", state))
	return nil
}

// Health reports an error once the connector is closed or uninitialized.
func (bc *BaseConnector) Health(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return errors.New(errors.ErrorTypeConnection, "connector is closed")
	}
	if bc.config == nil {
		return errors.New(errors.ErrorTypeConfig, "connector is not initialized")
	}
	return nil
}

// Metrics returns current metrics
func (bc *BaseConnector) Metrics() map[string]interface{} {
	m := bc.metricsCollector.GetAll()

	m["name"] = bc.name
	m["type"] = bc.connectorType
	m["version"] = bc.version
	m["uptime"] = time.Since(bc.metricsCollector.StartTime()).Seconds()

	if bc.errorHandler != nil {
		for k, v := range bc.errorHandler.GetErrorStats() {
			m[k] = v
		}
	}
	if bc.progressReporter != nil {
		processed, total := bc.progressReporter.GetProgress()
		m["progress_processed"] = processed
		m["progress_total"] = total
	}

	return m
}

// Close shuts down the connector
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}

	if bc.cancel != nil {
		bc.cancel()
	}

	bc.closed = true
	bc.logger.Info("connector closed")

	return nil
}

// IsClosed reports whether Close has been called.
func (bc *BaseConnector) IsClosed() bool {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()
	return bc.closed
}

// ExecuteWithRetry runs an idempotent operation under the retry policy.
// Only connection and timeout failures are retried.
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	if bc.retryPolicy == nil {
		return fn()
	}
	return bc.retryPolicy.ExecuteWithCondition(ctx, fn, bc.errorHandler.ShouldRetry)
}

// BatchStatus returns a write status that applies the failure policy and
// reports progress for one batch of op.
func (bc *BaseConnector) BatchStatus(op string) *BatchStatus {
	return newBatchStatus(op, bc.errorHandler, bc.progressReporter)
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// GetConfig returns the connector configuration
func (bc *BaseConnector) GetConfig() *config.PodioConfig {
	return bc.config
}

// GetContext returns the connector context
func (bc *BaseConnector) GetContext() context.Context {
	return bc.ctx
}

// GetErrorHandler returns the error handler
func (bc *BaseConnector) GetErrorHandler() *ErrorHandler {
	return bc.errorHandler
}

// GetProgressReporter returns the progress reporter
func (bc *BaseConnector) GetProgressReporter() *ProgressReporter {
	return bc.progressReporter
}

// GetMetricsCollector returns the metrics collector
func (bc *BaseConnector) GetMetricsCollector() *metrics.Collector {
	return bc.metricsCollector
}
