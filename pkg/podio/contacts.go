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

// Contacts reads and writes the contacts of a space.
type Contacts struct {
	api     Caller
	config  SpaceConfig
	catalog *SchemaCatalog
	codec   *Codec
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewContacts creates a contact connector core.
func NewContacts(api Caller, config SpaceConfig, collector *metrics.Collector, logger *zap.Logger) *Contacts {
	if collector == nil {
		collector = metrics.NewCollector("podio-contacts")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contacts{
		api:     api,
		config:  config.withDefaults(),
		catalog: ContactsCatalog(),
		codec:   NewCodec(time.UTC),
		metrics: collector,
		logger:  logger.With(zap.Int64("space_id", config.SpaceID)),
	}
}

// Catalog returns the contact columns.
func (c *Contacts) Catalog() *SchemaCatalog { return c.catalog }

// FetchAll reads every space contact. Rows are keyed by profile id.
func (c *Contacts) FetchAll(ctx context.Context, columns []*ColumnDescriptor, sink RowSink) error {
	if err := c.config.requireSpace(); err != nil {
		return err
	}
	if len(columns) == 0 {
		columns = c.catalog.Columns()
	}
	path := fmt.Sprintf("contact/space/%d/", c.config.SpaceID)
	query := url.Values{"contact_type": {"space"}}
	return pageSpace(ctx, c.api, path, query, c.config.PageSize, c.logger, func(contact *jsonvalue.Value) (bool, error) {
		row, err := flattenFixed(c.codec, contact, columns)
		if err != nil {
			return false, err
		}
		id, _ := contact.Get("profile_id").Int64()
		c.metrics.RowRead()
		return sink.Add(id, row) == Continue, nil
	})
}

// BuildContactPayload assembles a contact document. Indexed columns sharing
// one member (three mails, four phones) are recombined into one array read
// from merged; the other columns come from side.
func (c *Contacts) BuildContactPayload(side, merged Row, update bool) (*jsonvalue.Value, error) {
	doc := jsonvalue.NewObject()
	for _, col := range c.catalog.Columns() {
		value, ok := side[col.Key]
		if !ok || col.ReadOnly || col.Unique {
			continue
		}
		if value == nil && !update {
			continue
		}
		if col.IsIndexedMultiValue {
			if doc.Has(col.RootFieldName) {
				continue
			}
			list := jsonvalue.NewArray()
			for _, sib := range c.indexedSiblings(col.RootFieldName) {
				v, err := c.codec.ToNative(merged[sib.Key], sib.NativeType, sib.DeclaredType)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid contact value").WithDetail(errors.DetailColumn, sib.Key)
				}
				if !v.IsNull() {
					list.Append(v)
				}
			}
			doc.Set(col.RootFieldName, list)
			continue
		}
		v, err := c.codec.ToNative(value, col.NativeType, col.DeclaredType)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid contact value").WithDetail(errors.DetailColumn, col.Key)
		}
		doc.Set(col.RootFieldName, v)
	}
	return doc, nil
}

func (c *Contacts) indexedSiblings(name string) []*ColumnDescriptor {
	var out []*ColumnDescriptor
	for _, col := range c.catalog.Columns() {
		if col.IsIndexedMultiValue && col.RootFieldName == name {
			out = append(out, col)
		}
	}
	return out
}

// Create adds every change as a space contact and reports the profile ids.
func (c *Contacts) Create(ctx context.Context, changes []Change, status WriteStatus) error {
	if err := c.config.requireSpace(); err != nil {
		return err
	}
	path := fmt.Sprintf("contact/space/%d/", c.config.SpaceID)
	return runBatch(ctx, c.batch("create"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		doc, err := c.BuildContactPayload(ch.Row, ch.Row, false)
		if err != nil {
			return 0, err
		}
		res, err := c.api.Call(ctx, http.MethodPost, path, silentQuery(c.config.Silent), doc, clients.LevelItems)
		if err != nil {
			return 0, err
		}
		id, _ := res.Get("profile_id").Int64()
		return id, nil
	})
}

// Update applies the changed columns of every change to its contact.
func (c *Contacts) Update(ctx context.Context, changes []Change, status WriteStatus) error {
	return runBatch(ctx, c.batch("update"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		doc, err := c.BuildContactPayload(ch.Row, ch.Unchanged.Overlay(ch.Row), true)
		if err != nil {
			return 0, err
		}
		path := fmt.Sprintf("contact/%d", ch.ID)
		if _, err := c.api.Call(ctx, http.MethodPut, path, silentQuery(c.config.Silent), doc, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

// Delete removes the contact of every change.
func (c *Contacts) Delete(ctx context.Context, changes []Change, status WriteStatus) error {
	return runBatch(ctx, c.batch("delete"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		if _, err := c.api.Call(ctx, http.MethodDelete, fmt.Sprintf("contact/%d", ch.ID), nil, nil, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

func (c *Contacts) batch(op string) batchOptions {
	return batchOptions{op: op, failFast: c.config.FailFast, metrics: c.metrics, logger: c.logger}
}
