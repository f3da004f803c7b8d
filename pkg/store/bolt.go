package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltRegistry persists settings in a bbolt file, one bucket per connection.
type BoltRegistry struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the registry file at path and scopes it to the
// named connection.
func OpenBolt(path, connection string) (*BoltRegistry, error) {
	if connection == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "registry connection name is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create registry directory")
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open registry").
			WithDetail("path", path)
	}

	bucket := []byte(connection)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create registry bucket")
	}

	return &BoltRegistry{db: db, bucket: bucket}, nil
}

// Get returns the value stored under key. Read failures report a miss.
func (r *BoltRegistry) Get(key string) (string, bool) {
	var (
		val   string
		found bool
	)
	_ = r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val, found = string(v), true
		}
		return nil
	})
	return val, found
}

// Set stores value under key in its own transaction.
func (r *BoltRegistry) Set(key, value string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(r.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write registry").WithDetail("key", key)
	}
	return nil
}

// Close releases the underlying file.
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}
