// Package registry maps connector type names to their factories.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	sources      map[string]core.SourceFactory
	destinations map[string]core.DestinationFactory
	info         map[string]*core.ConnectorMetadata
	mu           sync.RWMutex
	logger       *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]core.SourceFactory),
		destinations: make(map[string]core.DestinationFactory),
		info:         make(map[string]*core.ConnectorMetadata),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

func infoKey(t core.ConnectorType, name string) string {
	return string(t) + "/" + name
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory core.SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}

	r.sources[name] = factory
	r.logger.Debug("source connector registered", zap.String("name", name))
	return nil
}

// RegisterDestination registers a destination connector factory
func (r *Registry) RegisterDestination(name string, factory core.DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
	}

	r.destinations[name] = factory
	r.logger.Debug("destination connector registered", zap.String("name", name))
	return nil
}

// Describe attaches metadata to a registered connector.
func (r *Registry) Describe(meta *core.ConnectorMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info[infoKey(meta.Type, meta.Name)] = meta
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(name string, cfg *config.PodioConfig) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}

	source, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}

	return source, nil
}

// CreateDestination creates a destination connector instance
func (r *Registry) CreateDestination(name string, cfg *config.PodioConfig) (core.Destination, error) {
	r.mu.RLock()
	factory, exists := r.destinations[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", name))
	}

	destination, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", name))
	}

	return destination, nil
}

// ListSources returns the registered source names in sorted order
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// ListDestinations returns the registered destination names in sorted order
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	sort.Strings(destinations)
	return destinations
}

// Info returns the metadata of a connector, if described.
func (r *Registry) Info(t core.ConnectorType, name string) (*core.ConnectorMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.info[infoKey(t, name)]
	return meta, ok
}

// HasSource checks if a source connector is registered
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// HasDestination checks if a destination connector is registered
func (r *Registry) HasDestination(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[name]
	return exists
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]core.SourceFactory)
	r.destinations = make(map[string]core.DestinationFactory)
	r.info = make(map[string]*core.ConnectorMetadata)
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory core.SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterDestination registers a destination connector in the global registry
func RegisterDestination(name string, factory core.DestinationFactory) error {
	return globalRegistry.RegisterDestination(name, factory)
}

// Describe attaches metadata in the global registry
func Describe(meta *core.ConnectorMetadata) {
	globalRegistry.Describe(meta)
}

// CreateSource creates a source connector from the global registry
func CreateSource(name string, cfg *config.PodioConfig) (core.Source, error) {
	return globalRegistry.CreateSource(name, cfg)
}

// CreateDestination creates a destination connector from the global registry
func CreateDestination(name string, cfg *config.PodioConfig) (core.Destination, error) {
	return globalRegistry.CreateDestination(name, cfg)
}

// ListSources returns registered sources from the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListDestinations returns registered destinations from the global registry
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}

// Info returns connector metadata from the global registry
func Info(t core.ConnectorType, name string) (*core.ConnectorMetadata, bool) {
	return globalRegistry.Info(t, name)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
