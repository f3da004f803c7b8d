package podio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/metrics"
)

// Change is one row change handed to a writer.
type Change struct {
	// ID is the target record of an update or delete.
	ID int64
	// Row holds the values to create, or the changed columns of an update.
	Row Row
	// Unchanged holds the target's current values of an update. Composite
	// fields missing a counterpart are completed from it.
	Unchanged Row
}

// WriteStatus receives the outcome of every change of a batch.
type WriteStatus interface {
	Progress(total, done int)
	ItemDone(change Change, id int64)
	ItemFailed(change Change, err error)
}

// NopStatus discards write outcomes.
type NopStatus struct{}

func (NopStatus) Progress(int, int) {}

func (NopStatus) ItemDone(Change, int64) {}

func (NopStatus) ItemFailed(Change, error) {}

// assembly accumulates the native document of one write.
type assembly struct {
	codec   *Codec
	catalog *SchemaCatalog
	doc     *jsonvalue.Value
	fields  *jsonvalue.Value
	// merged is the full row as it will look after the write; sibling
	// gathering reads from it.
	merged Row
	// unchanged is the side not being written, used for dependency backfill.
	unchanged Row
	update    bool
	touched   map[string]bool
}

func newAssembly(codec *Codec, catalog *SchemaCatalog, merged, unchanged Row, update bool) *assembly {
	fields := jsonvalue.NewObject()
	return &assembly{
		codec:     codec,
		catalog:   catalog,
		doc:       jsonvalue.NewObject().Set("fields", fields),
		fields:    fields,
		merged:    merged,
		unchanged: unchanged,
		update:    update,
		touched:   make(map[string]bool),
	}
}

// firstTouch reports whether root is seen for the first time.
func (a *assembly) firstTouch(root string) bool {
	if a.touched[root] {
		return false
	}
	a.touched[root] = true
	return true
}

// object returns the field's sub-object, replacing anything that is not one.
func (a *assembly) object(root string) *jsonvalue.Value {
	if cur := a.fields.Get(root); cur.IsObject() {
		return cur
	}
	obj := jsonvalue.NewObject()
	a.fields.Set(root, obj)
	return obj
}

func (a *assembly) nativeDate(col *ColumnDescriptor, value interface{}) (*jsonvalue.Value, error) {
	x, err := a.codec.Coerce(value, TypeDateTime)
	if err != nil {
		return nil, a.convertError(col, err)
	}
	t, ok := x.(time.Time)
	if !ok {
		return jsonvalue.NewNull(), nil
	}
	if col.TimeDisabled {
		return jsonvalue.NewString(t.Format(DateLayout)), nil
	}
	return jsonvalue.NewString(t.UTC().Format(DateTimeLayout)), nil
}

func (a *assembly) convertError(col *ColumnDescriptor, err error) error {
	return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("cannot convert value of column '%s'", col.Key)).
		WithDetail(errors.DetailColumn, col.Key).
		WithDetail(errors.DetailField, col.RootFieldName)
}

// clear writes a null for col. A composite field is nulled as a whole unless
// the column has a required counterpart, which keeps the partial object.
func (a *assembly) clear(col *ColumnDescriptor) {
	if col.IsSubValue() && col.HasRequiredDependency() {
		a.object(col.RootFieldName).Set(col.SubKey, jsonvalue.NewNull())
		return
	}
	a.fields.Set(col.RootFieldName, jsonvalue.NewNull())
}

func (a *assembly) setRoot(col *ColumnDescriptor, value interface{}) error {
	v, err := a.codec.ToNative(value, col.NativeType, col.DeclaredType)
	if err != nil {
		return a.convertError(col, err)
	}
	a.doc.Set(col.RootFieldName, v)
	return nil
}

// resolveDependencies completes every assembled composite field whose
// columns declare counterparts. An optional counterpart with no value is
// left out of the field.
func (a *assembly) resolveDependencies() error {
	for _, root := range a.fields.Keys() {
		obj := a.fields.Get(root)
		if !obj.IsObject() {
			continue
		}
		for _, col := range a.catalog.Siblings(root) {
			if len(col.Dependencies) == 0 || !obj.Has(col.SubKey) {
				continue
			}
			for _, dep := range col.Dependencies {
				depCol, ok := a.catalog.Column(dep.Key)
				if !ok {
					continue
				}
				if cur := obj.Get(depCol.SubKey); cur != nil && !cur.IsNull() {
					continue
				}
				val := a.unchanged[dep.Key]
				if val == nil {
					if dep.Required {
						return errors.Validation(col.Key, "column '%s' requires a value for '%s'", col.Key, dep.Key).
							WithDetail(errors.DetailField, root)
					}
					continue
				}
				if err := kindFor(depCol).assemble(a, depCol, val); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isBlankString(value interface{}) bool {
	s, ok := value.(string)
	return ok && s == ""
}

func buildPayload(codec *Codec, catalog *SchemaCatalog, side, merged, unchanged Row, update bool) (*jsonvalue.Value, error) {
	for key := range side {
		if _, ok := catalog.Column(key); !ok {
			return nil, errors.Validation(key, "unknown column '%s'", key)
		}
	}

	a := newAssembly(codec, catalog, merged, unchanged, update)
	for _, col := range catalog.Columns() {
		value, ok := side[col.Key]
		if !ok || col.ReadOnly {
			continue
		}
		if !update && (value == nil || (col.DeclaredType == TypeString && isBlankString(value))) {
			continue
		}

		if col.IsRoot {
			if col.Unique {
				continue
			}
			if err := a.setRoot(col, value); err != nil {
				return nil, err
			}
			continue
		}

		kind := kindFor(col)
		if value == nil {
			if g, ok := kind.(gatheringKind); !ok || !g.gathers() {
				a.clear(col)
				continue
			}
		}
		if err := kind.assemble(a, col, value); err != nil {
			return nil, err
		}
	}

	if err := a.resolveDependencies(); err != nil {
		return nil, err
	}
	return a.doc, nil
}

// BuildCreatePayload assembles the native document creating row.
func BuildCreatePayload(catalog *SchemaCatalog, row Row) (*jsonvalue.Value, error) {
	return defaultCodec.buildCreate(catalog, row)
}

// BuildUpdatePayload assembles the native document applying the changed
// columns in after to a record currently holding before.
func BuildUpdatePayload(catalog *SchemaCatalog, before, after Row) (*jsonvalue.Value, error) {
	return defaultCodec.buildUpdate(catalog, before, after)
}

func (c *Codec) buildCreate(catalog *SchemaCatalog, row Row) (*jsonvalue.Value, error) {
	return buildPayload(c, catalog, row, row, row, false)
}

func (c *Codec) buildUpdate(catalog *SchemaCatalog, before, after Row) (*jsonvalue.Value, error) {
	return buildPayload(c, catalog, after, before.Overlay(after), before, true)
}

// WriterConfig configures an item writer.
type WriterConfig struct {
	AppID int64
	// Silent suppresses notifications for the written items.
	Silent bool
	// FailFast stops a batch at the first failed item.
	FailFast bool
	// Local is the zone of date text without an offset; nil means UTC.
	Local *time.Location
}

// Writer submits row changes as item creates, updates and deletes. Items are
// written one at a time in order.
type Writer struct {
	api     Caller
	catalog *SchemaCatalog
	config  WriterConfig
	codec   *Codec
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewWriter creates an item writer for catalog.
func NewWriter(api Caller, catalog *SchemaCatalog, config WriterConfig, collector *metrics.Collector, logger *zap.Logger) *Writer {
	if collector == nil {
		collector = metrics.NewCollector("podio-items")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		api:     api,
		catalog: catalog,
		config:  config,
		codec:   NewCodec(config.Local),
		metrics: collector,
		logger:  logger.With(zap.Int64("app_id", config.AppID)),
	}
}

func silentQuery(silent bool) url.Values {
	if !silent {
		return nil
	}
	return url.Values{"silent": {"1"}}
}

// Create adds every change as a new item and reports the new item ids.
func (w *Writer) Create(ctx context.Context, changes []Change, status WriteStatus) error {
	if w.config.AppID == 0 {
		return errors.New(errors.ErrorTypeConfig, "no app id configured")
	}
	return runBatch(ctx, w.batch("create"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		payload, err := w.codec.buildCreate(w.catalog, ch.Row)
		if err != nil {
			return 0, err
		}
		res, err := w.api.Call(ctx, http.MethodPost, fmt.Sprintf("item/app/%d/", w.config.AppID), silentQuery(w.config.Silent), payload, clients.LevelItems)
		if err != nil {
			return 0, err
		}
		id, _ := res.Get("item_id").Int64()
		return id, nil
	})
}

// Update applies the changed columns of every change to its item.
func (w *Writer) Update(ctx context.Context, changes []Change, status WriteStatus) error {
	return runBatch(ctx, w.batch("update"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		payload, err := w.codec.buildUpdate(w.catalog, ch.Unchanged, ch.Row)
		if err != nil {
			return 0, err
		}
		if _, err := w.api.Call(ctx, http.MethodPut, fmt.Sprintf("item/%d", ch.ID), silentQuery(w.config.Silent), payload, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

// Delete removes the item of every change.
func (w *Writer) Delete(ctx context.Context, changes []Change, status WriteStatus) error {
	return runBatch(ctx, w.batch("delete"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		if _, err := w.api.Call(ctx, http.MethodDelete, fmt.Sprintf("item/%d", ch.ID), nil, nil, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

func (w *Writer) batch(op string) batchOptions {
	return batchOptions{op: op, failFast: w.config.FailFast, metrics: w.metrics, logger: w.logger}
}

type batchOptions struct {
	op       string
	failFast bool
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// runBatch submits changes sequentially. Progress advances after every
// change. A transport failure stops the batch only in fail-fast mode; a
// validation failure always stops it.
func runBatch(ctx context.Context, opts batchOptions, changes []Change, status WriteStatus, submit func(context.Context, Change) (int64, error)) error {
	if status == nil {
		status = NopStatus{}
	}
	total := len(changes)
	for i, ch := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, err := submit(ctx, ch)
		opts.metrics.ItemWritten(opts.op, err == nil)
		if err != nil {
			status.ItemFailed(ch, err)
			if opts.failFast || errors.IsType(err, errors.ErrorTypeValidation) {
				status.Progress(total, i+1)
				return err
			}
			fields := []zap.Field{zap.String("operation", opts.op), zap.Int64("id", ch.ID), zap.Error(err)}
			if payload, ok := errors.GetDetail(err, errors.DetailPayload); ok {
				fields = append(fields, zap.Any("payload", payload))
			}
			opts.logger.Warn("write failed", fields...)
		} else {
			status.ItemDone(ch, id)
		}
		status.Progress(total, i+1)
	}
	return nil
}
