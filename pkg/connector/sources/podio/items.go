package podio

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	podioapi "github.com/ajitpratap0/podsync/pkg/podio"
)

// ItemsSource reads the items of one app.
type ItemsSource struct {
	*recordSource
	items *itemsBackend
}

type itemsBackend struct {
	conn   *podioconn.Connection
	appID  int64
	reader *podioapi.Reader
	cache  podioapi.CatalogCache
}

func (b *itemsBackend) catalog(ctx context.Context) (*podioapi.SchemaCatalog, error) {
	if b.reader.Config().RawJSON {
		return podioapi.RawJSONCatalog(), nil
	}
	catalog, _, err := b.cache.Catalog(b.appID, func() (*podioapi.AppDefinition, error) {
		def, err := b.reader.FetchAppDefinition(ctx, b.appID)
		if err != nil {
			return nil, err
		}
		if err := b.conn.LearnApp(def); err != nil {
			return nil, err
		}
		return def, nil
	})
	return catalog, err
}

func (b *itemsBackend) fetchAll(ctx context.Context, catalog *podioapi.SchemaCatalog, columns []*podioapi.ColumnDescriptor, sink podioapi.RowSink) error {
	return b.reader.FetchAll(ctx, catalog, columns, sink)
}

// NewItemsSource creates an app items source.
func NewItemsSource(cfg *config.PodioConfig) (core.Source, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	s := &ItemsSource{}
	s.recordSource = newRecordSource("podio-items", cfg, func(ctx context.Context, conn *podioconn.Connection) (backend, error) {
		var appID int64
		err := s.ExecuteWithRetry(ctx, func() error {
			var err error
			appID, err = conn.ResolveApp(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.items = &itemsBackend{
			conn:   conn,
			appID:  appID,
			reader: podioapi.NewReader(conn.API, conn.ReaderConfig(appID), s.GetMetricsCollector(), s.GetLogger()),
		}
		return s.items, nil
	})
	return s, nil
}

// AppID returns the resolved app id, zero before Initialize.
func (s *ItemsSource) AppID() int64 {
	if s.items == nil {
		return 0
	}
	return s.items.appID
}

// ReadKeys streams the items whose keyColumn holds one of keys. Only
// item_id, app_item_id and external_id are accepted as key columns.
func (s *ItemsSource) ReadKeys(ctx context.Context, keyColumn string, keys []interface{}, columns []string) (*core.RecordStream, error) {
	catalog, cols, err := s.selection(ctx, columns)
	if err != nil {
		return nil, err
	}
	set := podioapi.KeySet{Columns: []string{keyColumn}, Values: keys}
	return s.stream(ctx, func(ctx context.Context, sink podioapi.RowSink) error {
		return s.items.reader.FetchByKeys(ctx, catalog, cols, set, sink)
	})
}

// Changed reports whether any item changed since the state's last_changed
// mark and advances the mark. A missing mark always reports a change.
func (s *ItemsSource) Changed(ctx context.Context) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var last *time.Time
	err := s.ExecuteWithRetry(ctx, func() error {
		var err error
		last, err = s.items.reader.AppLastChanged(ctx, s.items.appID)
		return err
	})
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}

	state := s.GetState()
	mark := last.UTC().Format(time.RFC3339)
	prev, _ := state[core.StateLastChanged].(string)
	changed := prev != mark
	if changed {
		state[core.StateLastChanged] = mark
		if err := s.SetState(state); err != nil {
			return false, err
		}
	}
	s.GetLogger().Debug("change check",
		zap.String("last_changed", mark),
		zap.String("previous", prev),
		zap.Bool("changed", changed))
	return changed, nil
}

// SupportsKeyedRead reports whether keyed reads are possible. Raw JSON mode
// cannot filter by key.
func (s *ItemsSource) SupportsKeyedRead() bool { return !s.cfg.RawJSON }

// SupportsIncremental reports true: the app exposes its last change time.
func (s *ItemsSource) SupportsIncremental() bool { return true }
