// Package podio provides the podio destination connectors. Each applies the
// changes of a sync run as creates, updates and deletes, one record at a
// time.
package podio

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/base"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

const connectorVersion = "1.0.0"

// batchFunc writes one batch of changes.
type batchFunc func(ctx context.Context, changes []podioapi.Change, status podioapi.WriteStatus) error

// target is the record family a destination writes.
type target interface {
	catalog(ctx context.Context) (*podioapi.SchemaCatalog, error)
	create(ctx context.Context) (batchFunc, error)
	update(ctx context.Context) (batchFunc, error)
	delete(ctx context.Context) (batchFunc, error)
}

// recordDestination implements the parts of core.Destination shared by every
// podio record family.
type recordDestination struct {
	*base.BaseConnector

	cfg    *config.PodioConfig
	conn   *podioconn.Connection
	open   func(ctx context.Context, conn *podioconn.Connection) (target, error)
	target target
}

func newRecordDestination(name string, cfg *config.PodioConfig, open func(context.Context, *podioconn.Connection) (target, error)) *recordDestination {
	return &recordDestination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, connectorVersion),
		cfg:           cfg,
		open:          open,
	}
}

// Initialize validates the configuration and opens the connection.
func (d *recordDestination) Initialize(ctx context.Context) error {
	if err := d.BaseConnector.Initialize(ctx, d.cfg); err != nil {
		return err
	}
	conn, err := podioconn.Open(ctx, d.cfg, d.GetLogger())
	if err != nil {
		return err
	}
	t, err := d.open(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	d.conn, d.target = conn, t
	return nil
}

func (d *recordDestination) ready() error {
	if d.target == nil {
		return errors.New(errors.ErrorTypeConfig, "destination is not initialized")
	}
	if d.IsClosed() {
		return errors.New(errors.ErrorTypeConnection, "destination is closed")
	}
	return nil
}

// Connection returns the open connection, nil before Initialize.
func (d *recordDestination) Connection() *podioconn.Connection {
	return d.conn
}

// Discover returns the flat schema the destination accepts.
func (d *recordDestination) Discover(ctx context.Context) (*core.Schema, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	var catalog *podioapi.SchemaCatalog
	err := d.ExecuteWithRetry(ctx, func() error {
		var err error
		catalog, err = d.target.catalog(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return podioconn.Schema(d.Name(), catalog), nil
}

// Apply writes inserts, then updates, then deletes. Failed records are
// counted and logged; in fail-fast mode the first failure ends the run and
// is returned with the partial result.
func (d *recordDestination) Apply(ctx context.Context, changes *core.ChangeSet) (*core.ApplyResult, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	result := &core.ApplyResult{}
	if changes == nil || changes.Len() == 0 {
		return result, nil
	}

	steps := []struct {
		op     string
		events []*core.ChangeEvent
		batch  func(context.Context) (batchFunc, error)
		count  *int
	}{
		{"create", changes.Inserts, d.target.create, &result.Inserted},
		{"update", changes.Updates, d.target.update, &result.Updated},
		{"delete", changes.Deletes, d.target.delete, &result.Deleted},
	}

	logger := d.GetLogger()
	for _, step := range steps {
		if len(step.events) == 0 {
			continue
		}
		write, err := step.batch(ctx)
		if err != nil {
			return result, err
		}

		status := d.BatchStatus(step.op)
		err = write(ctx, podioconn.Changes(step.events), status)

		*step.count += len(status.Succeeded())
		result.Failed += status.Failed()
		result.Errors = append(result.Errors, status.Errors()...)
		if step.op == "create" {
			result.CreatedIDs = status.Positional(len(step.events))
		}
		logger.Info("batch applied",
			zap.String("operation", step.op),
			zap.Int("changes", len(step.events)),
			zap.Int("succeeded", len(status.Succeeded())),
			zap.Int("failed", status.Failed()))
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// SupportsUpdate reports true: every podio record family accepts updates.
func (d *recordDestination) SupportsUpdate() bool { return true }

// Close closes the connection.
func (d *recordDestination) Close(ctx context.Context) error {
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.GetLogger().Warn("failed to close connection", zap.Error(err))
		}
	}
	return d.BaseConnector.Close(ctx)
}
