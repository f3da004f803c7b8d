package podio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/metrics"
)

// Field selectors for the item filter endpoint.
const (
	itemFields    = "items.view(micro).fields(fields,app_item_id_formatted,external_id,created_on,created_by.view(micro),last_event_on)"
	rawItemFields = "items.view(micro).fields(fields.view(micro),title,external_id,created_on,last_event_on)"

	// DefaultPageSize is used when no page size is configured.
	DefaultPageSize = 250
	// MaxKeyedPageSize is the largest chunk a keyed fetch may request.
	MaxKeyedPageSize = 250
)

// keyColumns are the only envelope members the filter endpoint accepts as
// keys, with the type each key value is sent as.
var keyColumns = map[string]DeclaredType{
	"item_id":     TypeInt64,
	"app_item_id": TypeInt32,
	"external_id": TypeString,
}

// Caller issues one authenticated API request. *clients.APIClient satisfies it.
type Caller interface {
	Call(ctx context.Context, method, path string, query url.Values, body *jsonvalue.Value, level clients.Level) (*jsonvalue.Value, error)
}

// ReaderConfig configures an item reader.
type ReaderConfig struct {
	AppID  int64
	ViewID int64
	// PageSize is the page size for full reads and the chunk size for keyed reads.
	PageSize int
	// MaxConcurrency bounds parallel chunk requests in keyed reads.
	MaxConcurrency int
	// Local, when set, returns timed dates in this zone instead of UTC.
	Local *time.Location
	// RawJSON returns whole item documents instead of flattened columns.
	RawJSON bool
}

// KeySet is the set of key values a keyed read fetches.
type KeySet struct {
	Columns []string
	Values  []interface{}
}

// IsComposite reports whether the key spans more than one column.
func (k KeySet) IsComposite() bool {
	return len(k.Columns) != 1
}

// Reader flattens items of one app into rows.
type Reader struct {
	api     Caller
	config  ReaderConfig
	codec   *Codec
	cache   CatalogCache
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewReader creates an item reader.
func NewReader(api Caller, config ReaderConfig, collector *metrics.Collector, logger *zap.Logger) *Reader {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if collector == nil {
		collector = metrics.NewCollector("podio-items")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		api:     api,
		config:  config,
		codec:   NewCodec(time.UTC),
		metrics: collector,
		logger:  logger.With(zap.Int64("app_id", config.AppID)),
	}
}

// Config returns the reader configuration.
func (r *Reader) Config() ReaderConfig { return r.config }

func (r *Reader) extractor() *extractor {
	return &extractor{codec: r.codec, local: r.config.Local}
}

func (r *Reader) requireApp() error {
	if r.config.AppID == 0 {
		return errors.New(errors.ErrorTypeConfig, "no app id configured")
	}
	return nil
}

// FetchAppDefinition reads the app definition including its field list.
func (r *Reader) FetchAppDefinition(ctx context.Context, appID int64) (*AppDefinition, error) {
	doc, err := r.api.Call(ctx, http.MethodGet, fmt.Sprintf("app/%d", appID), nil, nil, clients.LevelMetadata)
	if err != nil {
		return nil, err
	}
	return ParseAppDefinition(doc)
}

// Catalog returns the column catalog of the configured app, building it on
// first use.
func (r *Reader) Catalog(ctx context.Context) (*SchemaCatalog, error) {
	if r.config.RawJSON {
		return RawJSONCatalog(), nil
	}
	if err := r.requireApp(); err != nil {
		return nil, err
	}
	catalog, _, err := r.cache.Catalog(r.config.AppID, func() (*AppDefinition, error) {
		return r.FetchAppDefinition(ctx, r.config.AppID)
	})
	return catalog, err
}

// FetchAll reads every item of the app (or of the configured view) page by
// page. It stops without error when the sink asks it to.
func (r *Reader) FetchAll(ctx context.Context, catalog *SchemaCatalog, columns []*ColumnDescriptor, sink RowSink) error {
	if err := r.requireApp(); err != nil {
		return err
	}
	if len(columns) == 0 {
		columns = catalog.Columns()
	}

	fields, flatten := itemFields, r.flatten
	if r.config.RawJSON {
		fields, flatten = rawItemFields, r.flattenRaw
	}
	path := fmt.Sprintf("item/app/%d/filter/?fields=%s", r.config.AppID, fields)
	totalKey := "total"
	if r.config.ViewID > 0 {
		totalKey = "filtered"
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body := jsonvalue.NewObject().
			Set("limit", jsonvalue.NewInt(int64(r.config.PageSize))).
			Set("offset", jsonvalue.NewInt(int64(offset)))
		if r.config.ViewID > 0 {
			body.Set("view_id", jsonvalue.NewInt(r.config.ViewID)).
				Set("sort_by", jsonvalue.NewString("item_id"))
		}

		page, err := r.api.Call(ctx, http.MethodPost, path, nil, body, clients.LevelItems)
		if err != nil {
			return err
		}
		total, _ := page.Get(totalKey).Int64()
		items := page.Get("items").Items()
		r.logger.Debug("fetched item page",
			zap.Int("offset", offset),
			zap.Int("count", len(items)),
			zap.Int64("total", total))

		for _, item := range items {
			if item.IsNull() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			id, row, err := flatten(item, columns)
			if err != nil {
				return err
			}
			r.metrics.RowRead()
			if sink.Add(id, row) == Stop {
				return nil
			}
		}

		offset += len(items)
		if len(items) == 0 || int64(offset) >= total {
			return nil
		}
	}
}

// FetchByKeys reads the items whose key column holds one of keys. Keys are
// split into chunks fetched in parallel. Each request asks for twice the
// chunk size so duplicate external ids do not push matches off the page;
// heavily duplicated keys can still lose matches.
func (r *Reader) FetchByKeys(ctx context.Context, catalog *SchemaCatalog, columns []*ColumnDescriptor, keys KeySet, sink RowSink) error {
	if err := r.requireApp(); err != nil {
		return err
	}
	if r.config.RawJSON {
		return errors.New(errors.ErrorTypeConfig, "raw JSON mode does not support keyed reads")
	}
	if keys.IsComposite() {
		return errors.New(errors.ErrorTypeConfig, "composite key sets are not supported")
	}
	if r.config.PageSize > MaxKeyedPageSize {
		return errors.Newf(errors.ErrorTypeConfig, "keyed reads return at most %d items per request, page size is %d", MaxKeyedPageSize, r.config.PageSize)
	}

	keyCol, ok := catalog.Column(keys.Columns[0])
	if !ok {
		return errors.Validation(keys.Columns[0], "unknown column '%s'", keys.Columns[0])
	}
	keyType, ok := keyColumns[keyCol.RootFieldName]
	if !ok || !keyCol.IsRoot {
		return errors.Newf(errors.ErrorTypeConfig, "keyed reads only support the item_id, app_item_id and external_id columns, not '%s'", keyCol.Key)
	}
	if len(keys.Values) == 0 {
		return nil
	}
	if len(columns) == 0 {
		columns = catalog.Columns()
	}

	chunks, err := r.chunkKeys(keys.Values, keyType)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid key value").WithDetail(errors.DetailColumn, keyCol.Key)
	}

	path := fmt.Sprintf("item/app/%d/filter/?fields=%s", r.config.AppID, itemFields)
	shared := &lockedSink{sink: sink}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)

	for _, chunk := range chunks {
		chunk := chunk
		if shared.isStopped() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if shared.isStopped() {
				return nil
			}
			body := jsonvalue.NewObject().
				Set("limit", jsonvalue.NewInt(int64(2*chunk.Len()))).
				Set("filters", jsonvalue.NewObject().Set(keyCol.RootFieldName, chunk))

			page, err := r.api.Call(gctx, http.MethodPost, path, nil, body, clients.LevelItems)
			if err != nil {
				return err
			}
			for _, item := range page.Get("items").Items() {
				if item.IsNull() {
					continue
				}
				if shared.isStopped() {
					return nil
				}
				id, row, err := r.flatten(item, columns)
				if err != nil {
					return err
				}
				r.metrics.RowRead()
				if shared.Add(id, row) == Stop {
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Reader) chunkKeys(values []interface{}, keyType DeclaredType) ([]*jsonvalue.Value, error) {
	var (
		chunks  []*jsonvalue.Value
		current = jsonvalue.NewArray()
	)
	for _, v := range values {
		nv, err := r.codec.ToNative(v, NativeString, keyType)
		if err != nil {
			return nil, err
		}
		if nv.IsNull() {
			continue
		}
		current.Append(nv)
		if current.Len() == r.config.PageSize {
			chunks = append(chunks, current)
			current = jsonvalue.NewArray()
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// AppLastChanged returns when any item of appID was last changed, or nil
// when the app has no items.
func (r *Reader) AppLastChanged(ctx context.Context, appID int64) (*time.Time, error) {
	body := jsonvalue.NewObject().
		Set("limit", jsonvalue.NewInt(1)).
		Set("sort_by", jsonvalue.NewString("last_edit_on")).
		Set("sort_desc", jsonvalue.NewBool(true))
	path := fmt.Sprintf("item/app/%d/filter/?fields=items.view(micro).fields(last_event_on)", appID)

	page, err := r.api.Call(ctx, http.MethodPost, path, nil, body, clients.LevelItems)
	if err != nil {
		return nil, err
	}
	for _, item := range page.Get("items").Items() {
		s, ok := item.Get("last_event_on").Str()
		if !ok {
			return nil, nil
		}
		t, err := r.codec.ParseTime(s, time.UTC)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, nil
}

// flatten converts one item document into a row.
func (r *Reader) flatten(item *jsonvalue.Value, columns []*ColumnDescriptor) (int64, Row, error) {
	id, _ := item.Get("item_id").Int64()

	values := make(map[string]*jsonvalue.Value)
	for _, f := range item.Get("fields").Items() {
		if ext, ok := f.Get("external_id").Str(); ok {
			values[ext] = f.Get("values")
		}
	}

	x := r.extractor()
	row := make(Row, len(columns))
	for _, col := range columns {
		var (
			v   interface{}
			err error
		)
		if col.IsRoot {
			v, err = r.codec.ToDeclared(rootValue(item, col), col.NativeType, col.DeclaredType)
		} else if fv := values[col.RootFieldName]; fv.Len() > 0 {
			v, err = kindFor(col).extract(x, col, fv)
		}
		if err != nil {
			return 0, nil, errors.Wrap(err, errors.ErrorTypeData, "cannot read column").
				WithDetail(errors.DetailColumn, col.Key).
				WithDetail("item_id", id)
		}
		row[col.Key] = v
	}
	return id, row, nil
}

// flattenRaw converts one item into the fixed raw JSON row.
func (r *Reader) flattenRaw(item *jsonvalue.Value, columns []*ColumnDescriptor) (int64, Row, error) {
	id, _ := item.Get("item_id").Int64()
	item.RemoveKeyRecursive("last_seen_on")

	row := make(Row, len(columns))
	for _, col := range columns {
		var (
			v   interface{}
			err error
		)
		switch col.Key {
		case "item_id":
			v = id
		case "app_id":
			v = r.config.AppID
		case "created":
			v, err = r.codec.ToDeclared(item.Get("created_on"), NativeDateTime, TypeDateTime)
		case "modified":
			src := item.Get("last_event_on")
			if src.IsNull() {
				src = item.Get("created_on")
			}
			v, err = r.codec.ToDeclared(src, NativeDateTime, TypeDateTime)
		case "json":
			v = item.String()
		default:
			v, err = r.codec.ToDeclared(item.Get(col.RootFieldName), NativeString, col.DeclaredType)
		}
		if err != nil {
			return 0, nil, errors.Wrap(err, errors.ErrorTypeData, "cannot read column").
				WithDetail(errors.DetailColumn, col.Key).
				WithDetail("item_id", id)
		}
		row[col.Key] = v
	}
	return id, row, nil
}

// rootValue locates an envelope column inside a document.
func rootValue(doc *jsonvalue.Value, col *ColumnDescriptor) *jsonvalue.Value {
	src := doc
	if col.Container != "" {
		src = doc.Get(col.Container)
	}
	v := src.Get(col.RootFieldName)
	if col.SubKey != "" {
		v = v.Get(col.SubKey)
	}
	if col.IsIndexedMultiValue {
		v = v.Index(col.Index)
	}
	return v
}
