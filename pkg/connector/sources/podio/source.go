// Package podio provides the podio source connectors: app items, space
// members and space contacts, each streamed as flat records.
package podio

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/base"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

const connectorVersion = "1.0.0"

// backend is the record family a source reads.
type backend interface {
	catalog(ctx context.Context) (*podioapi.SchemaCatalog, error)
	fetchAll(ctx context.Context, catalog *podioapi.SchemaCatalog, columns []*podioapi.ColumnDescriptor, sink podioapi.RowSink) error
}

// recordSource implements the parts of core.Source shared by every podio
// record family.
type recordSource struct {
	*base.BaseConnector

	cfg     *config.PodioConfig
	conn    *podioconn.Connection
	open    func(ctx context.Context, conn *podioconn.Connection) (backend, error)
	backend backend

	mu      sync.Mutex
	running bool
}

func newRecordSource(name string, cfg *config.PodioConfig, open func(context.Context, *podioconn.Connection) (backend, error)) *recordSource {
	return &recordSource{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeSource, connectorVersion),
		cfg:           cfg,
		open:          open,
	}
}

// Initialize validates the configuration and opens the connection. No API
// call is made beyond what resolving the app requires.
func (s *recordSource) Initialize(ctx context.Context) error {
	if err := s.BaseConnector.Initialize(ctx, s.cfg); err != nil {
		return err
	}
	conn, err := podioconn.Open(ctx, s.cfg, s.GetLogger())
	if err != nil {
		return err
	}
	b, err := s.open(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	s.conn, s.backend = conn, b
	return nil
}

func (s *recordSource) ready() error {
	if s.backend == nil {
		return errors.New(errors.ErrorTypeConfig, "source is not initialized")
	}
	if s.IsClosed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	return nil
}

// Connection returns the open connection, nil before Initialize.
func (s *recordSource) Connection() *podioconn.Connection {
	return s.conn
}

// Catalog returns the column catalog, reading the app definition when
// needed.
func (s *recordSource) Catalog(ctx context.Context) (*podioapi.SchemaCatalog, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var catalog *podioapi.SchemaCatalog
	err := s.ExecuteWithRetry(ctx, func() error {
		var err error
		catalog, err = s.backend.catalog(ctx)
		return err
	})
	return catalog, err
}

// Discover returns the flat schema of the record family.
func (s *recordSource) Discover(ctx context.Context) (*core.Schema, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	schema := podioconn.Schema(s.Name(), catalog)
	s.GetLogger().Info("schema discovered", zap.Int("columns", len(schema.Fields)))
	return schema, nil
}

// Read streams every record. columns selects a subset; nil reads all.
func (s *recordSource) Read(ctx context.Context, columns []string) (*core.RecordStream, error) {
	catalog, cols, err := s.selection(ctx, columns)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, func(ctx context.Context, sink podioapi.RowSink) error {
		return s.backend.fetchAll(ctx, catalog, cols, sink)
	})
}

// ReadKeys is not supported by fixed-shape record families.
func (s *recordSource) ReadKeys(context.Context, string, []interface{}, []string) (*core.RecordStream, error) {
	return nil, errors.Newf(errors.ErrorTypeCapability, "%s does not support keyed reads", s.Name())
}

// Changed reports true: fixed-shape families carry no change marker.
func (s *recordSource) Changed(context.Context) (bool, error) {
	return true, nil
}

// SupportsKeyedRead reports false for fixed-shape families.
func (s *recordSource) SupportsKeyedRead() bool { return false }

// SupportsIncremental reports false for fixed-shape families.
func (s *recordSource) SupportsIncremental() bool { return false }

// Close closes the connection.
func (s *recordSource) Close(ctx context.Context) error {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.GetLogger().Warn("failed to close connection", zap.Error(err))
		}
	}
	return s.BaseConnector.Close(ctx)
}

func (s *recordSource) selection(ctx context.Context, columns []string) (*podioapi.SchemaCatalog, []*podioapi.ColumnDescriptor, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(columns) == 0 {
		return catalog, catalog.Columns(), nil
	}
	cols, err := catalog.Select(columns)
	if err != nil {
		return nil, nil, err
	}
	return catalog, cols, nil
}

// stream runs fetch in a goroutine and delivers its rows on a channel. One
// read may run at a time per source.
func (s *recordSource) stream(ctx context.Context, fetch func(context.Context, podioapi.RowSink) error) (*core.RecordStream, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeInternal, "a read is already running")
	}
	s.running = true
	s.mu.Unlock()

	bufSize := s.cfg.Performance.BatchSize
	records := make(chan *core.Record, bufSize)
	errCh := make(chan error, 1)
	progress := s.GetProgressReporter()
	progress.Reset()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			close(records)
			close(errCh)
		}()

		sink := podioapi.SinkFunc(func(id int64, row podioapi.Row) podioapi.SinkResult {
			select {
			case records <- &core.Record{ID: id, Data: row}:
				progress.IncrementProcessed(1)
				return podioapi.Continue
			case <-ctx.Done():
				return podioapi.Stop
			}
		})

		err := fetch(ctx, sink)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			s.GetLogger().Error("read failed", zap.Error(err))
			errCh <- err
			return
		}
		processed, _ := progress.GetProgress()
		s.GetLogger().Info("read completed", zap.Int64("records", processed))
	}()

	return &core.RecordStream{Records: records, Errors: errCh}, nil
}
