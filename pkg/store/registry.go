// Package store holds the connection registry: small per-connection string
// settings such as client credentials, tokens and their expiry.
package store

import (
	"sort"
	"sync"
)

// Registry is a get/set-by-key settings store scoped to one connection.
type Registry interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Well-known registry keys.
const (
	KeyClientID        = "client_id"
	KeyClientSecret    = "client_secret"
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyTokenExpires    = "token_expires"
	KeyAppAccessToken  = "app_access_token"
	KeyAppRefreshToken = "app_refresh_token"
	KeyAppTokenExpires = "app_token_expires"
	KeyAppID           = "app_id"
	KeyAppToken        = "app_token"
	KeySpaceID         = "space_id"
	KeyViewID          = "view_id"
	KeyLimit           = "limit"
)

// MemoryRegistry keeps settings in a map. It is safe for concurrent use.
type MemoryRegistry struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

// NewMemoryRegistry returns a registry seeded with initial values.
func NewMemoryRegistry(initial map[string]string) *MemoryRegistry {
	r := &MemoryRegistry{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		r.values[k] = v
	}
	return r
}

// Get returns the value stored under key.
func (r *MemoryRegistry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Set stores value under key.
func (r *MemoryRegistry) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	r.writes++
	return nil
}

// Writes returns the number of Set calls so far.
func (r *MemoryRegistry) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// Keys returns the stored keys in sorted order.
func (r *MemoryRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetAll writes several values, stopping at the first failure.
func SetAll(r Registry, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.Set(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}
