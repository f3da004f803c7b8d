package podio

import (
	"context"
	"sync"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

// ItemsDestination writes the items of one app.
type ItemsDestination struct {
	*recordDestination
	items *itemsTarget
}

type itemsTarget struct {
	dest   *ItemsDestination
	conn   *podioconn.Connection
	appID  int64
	reader *podioapi.Reader
	cache  podioapi.CatalogCache

	mu     sync.Mutex
	writer *podioapi.Writer
}

func (t *itemsTarget) catalog(ctx context.Context) (*podioapi.SchemaCatalog, error) {
	catalog, _, err := t.cache.Catalog(t.appID, func() (*podioapi.AppDefinition, error) {
		def, err := t.reader.FetchAppDefinition(ctx, t.appID)
		if err != nil {
			return nil, err
		}
		if err := t.conn.LearnApp(def); err != nil {
			return nil, err
		}
		return def, nil
	})
	return catalog, err
}

// itemWriter returns the writer, reading the catalog on first use.
func (t *itemsTarget) itemWriter(ctx context.Context) (*podioapi.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer != nil {
		return t.writer, nil
	}
	var catalog *podioapi.SchemaCatalog
	err := t.dest.ExecuteWithRetry(ctx, func() error {
		var err error
		catalog, err = t.catalog(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.writer = podioapi.NewWriter(t.conn.API, catalog, t.conn.WriterConfig(t.appID), t.dest.GetMetricsCollector(), t.dest.GetLogger())
	return t.writer, nil
}

func (t *itemsTarget) create(ctx context.Context) (batchFunc, error) {
	w, err := t.itemWriter(ctx)
	if err != nil {
		return nil, err
	}
	return w.Create, nil
}

func (t *itemsTarget) update(ctx context.Context) (batchFunc, error) {
	w, err := t.itemWriter(ctx)
	if err != nil {
		return nil, err
	}
	return w.Update, nil
}

func (t *itemsTarget) delete(ctx context.Context) (batchFunc, error) {
	w, err := t.itemWriter(ctx)
	if err != nil {
		return nil, err
	}
	return w.Delete, nil
}

// NewItemsDestination creates an app items destination.
func NewItemsDestination(cfg *config.PodioConfig) (core.Destination, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if cfg.RawJSON {
		return nil, errors.New(errors.ErrorTypeCapability, "raw_json is read-only")
	}
	d := &ItemsDestination{}
	d.recordDestination = newRecordDestination("podio-items", cfg, func(ctx context.Context, conn *podioconn.Connection) (target, error) {
		var appID int64
		err := d.ExecuteWithRetry(ctx, func() error {
			var err error
			appID, err = conn.ResolveApp(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		d.items = &itemsTarget{
			dest:   d,
			conn:   conn,
			appID:  appID,
			reader: podioapi.NewReader(conn.API, conn.ReaderConfig(appID), d.GetMetricsCollector(), d.GetLogger()),
		}
		return d.items, nil
	})
	return d, nil
}

// AppID returns the resolved app id, zero before Initialize.
func (d *ItemsDestination) AppID() int64 {
	if d.items == nil {
		return 0
	}
	return d.items.appID
}
