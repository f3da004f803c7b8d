package podio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/metrics"
)

// SpaceConfig configures the member and contact connectors of one space.
type SpaceConfig struct {
	SpaceID  int64
	PageSize int
	Silent   bool
	FailFast bool
	// Role is granted to added members unless a row carries its own.
	Role string
	// Message is sent with member invitations.
	Message string
}

func (c SpaceConfig) withDefaults() SpaceConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Role == "" {
		c.Role = "light"
	}
	c.Role = strings.ToLower(c.Role)
	return c
}

func (c SpaceConfig) requireSpace() error {
	if c.SpaceID == 0 {
		return errors.New(errors.ErrorTypeConfig, "no space id configured")
	}
	return nil
}

// pageSpace walks an offset-paged space listing that reports no total. A
// full page implies at least one more record; an empty page ends the walk.
func pageSpace(ctx context.Context, api Caller, path string, query url.Values, pageSize int, logger *zap.Logger, visit func(*jsonvalue.Value) (bool, error)) error {
	total, offset := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))

		page, err := api.Call(ctx, http.MethodGet, path, q, nil, clients.LevelItems)
		if err != nil {
			return err
		}
		records := page.Items()
		count := len(records)
		logger.Debug("fetched space page", zap.String("path", path), zap.Int("offset", offset), zap.Int("count", count))
		if count == 0 {
			return nil
		}
		total += count
		if count == pageSize {
			total++
		}

		for _, rec := range records {
			if rec.IsNull() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := visit(rec)
			if err != nil || !more {
				return err
			}
		}

		offset += count
		if offset >= total {
			return nil
		}
	}
}

// flattenFixed reads the columns of a fixed-shape catalog from doc.
func flattenFixed(codec *Codec, doc *jsonvalue.Value, columns []*ColumnDescriptor) (Row, error) {
	row := make(Row, len(columns))
	for _, col := range columns {
		v, err := codec.ToDeclared(rootValue(doc, col), col.NativeType, col.DeclaredType)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot read column").WithDetail(errors.DetailColumn, col.Key)
		}
		row[col.Key] = v
	}
	return row, nil
}

// Members reads and writes the members of a space.
type Members struct {
	api     Caller
	config  SpaceConfig
	catalog *SchemaCatalog
	codec   *Codec
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewMembers creates a member connector core.
func NewMembers(api Caller, config SpaceConfig, collector *metrics.Collector, logger *zap.Logger) *Members {
	if collector == nil {
		collector = metrics.NewCollector("podio-members")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Members{
		api:     api,
		config:  config.withDefaults(),
		catalog: MembersCatalog(),
		codec:   NewCodec(time.UTC),
		metrics: collector,
		logger:  logger.With(zap.Int64("space_id", config.SpaceID)),
	}
}

// Catalog returns the member columns.
func (m *Members) Catalog() *SchemaCatalog { return m.catalog }

// FetchAll reads every member of the space. Rows are keyed by user id.
func (m *Members) FetchAll(ctx context.Context, columns []*ColumnDescriptor, sink RowSink) error {
	if err := m.config.requireSpace(); err != nil {
		return err
	}
	if len(columns) == 0 {
		columns = m.catalog.Columns()
	}
	path := fmt.Sprintf("space/%d/member/v2", m.config.SpaceID)
	return pageSpace(ctx, m.api, path, nil, m.config.PageSize, m.logger, func(member *jsonvalue.Value) (bool, error) {
		row, err := flattenFixed(m.codec, member, columns)
		if err != nil {
			return false, err
		}
		id, _ := member.Path("profile", "user_id").Int64()
		m.metrics.RowRead()
		return sink.Add(id, row) == Continue, nil
	})
}

func (m *Members) text(row Row, key string) (string, bool) {
	v, err := m.codec.Coerce(row[key], TypeString)
	if err != nil || v == nil {
		return "", false
	}
	s := v.(string)
	return s, s != ""
}

// invitation builds the body adding one member.
func (m *Members) invitation(row Row) (*jsonvalue.Value, error) {
	body := jsonvalue.NewObject().Set("role", jsonvalue.NewString(m.config.Role))
	if m.config.Message != "" {
		body.Set("message", jsonvalue.NewString(m.config.Message))
	}
	if role, ok := m.text(row, "role"); ok {
		body.Set("role", jsonvalue.NewString(strings.ToLower(role)))
	}
	if v := row["user_id"]; v != nil {
		id, err := m.codec.Coerce(v, TypeInt64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid user_id").WithDetail(errors.DetailColumn, "user_id")
		}
		if n, ok := id.(int64); ok {
			body.Set("users", jsonvalue.NewArray(jsonvalue.NewInt(n)))
		}
	}
	for _, key := range []string{"emailaddress1", "emailaddress2", "emailaddress3"} {
		if mail, ok := m.text(row, key); ok {
			body.Set("mails", jsonvalue.NewArray(jsonvalue.NewString(mail)))
			break
		}
	}
	if !body.Has("users") && !body.Has("mails") {
		return nil, errors.Validation("user_id", "adding a member needs a user_id or an email address")
	}
	return body, nil
}

// Add invites every change as a member and reports the new user ids.
func (m *Members) Add(ctx context.Context, changes []Change, status WriteStatus) error {
	if err := m.config.requireSpace(); err != nil {
		return err
	}
	path := fmt.Sprintf("space/%d/member/", m.config.SpaceID)
	return runBatch(ctx, m.batch("create"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		body, err := m.invitation(ch.Row)
		if err != nil {
			return 0, err
		}
		res, err := m.api.Call(ctx, http.MethodPost, path, nil, body, clients.LevelItems)
		if err != nil {
			return 0, err
		}
		id, _ := res.Index(0).Path("profile", "user_id").Int64()
		return id, nil
	})
}

// Update changes the role of every member in changes.
func (m *Members) Update(ctx context.Context, changes []Change, status WriteStatus) error {
	if err := m.config.requireSpace(); err != nil {
		return err
	}
	return runBatch(ctx, m.batch("update"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		role := m.config.Role
		if r, ok := m.text(ch.Row, "role"); ok {
			role = strings.ToLower(r)
		}
		body := jsonvalue.NewObject().Set("role", jsonvalue.NewString(role))
		path := fmt.Sprintf("space/%d/member/%d", m.config.SpaceID, ch.ID)
		if _, err := m.api.Call(ctx, http.MethodPut, path, nil, body, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

// Delete ends the membership of every member in changes.
func (m *Members) Delete(ctx context.Context, changes []Change, status WriteStatus) error {
	if err := m.config.requireSpace(); err != nil {
		return err
	}
	return runBatch(ctx, m.batch("delete"), changes, status, func(ctx context.Context, ch Change) (int64, error) {
		path := fmt.Sprintf("space/%d/member/%d", m.config.SpaceID, ch.ID)
		if _, err := m.api.Call(ctx, http.MethodDelete, path, nil, nil, clients.LevelItems); err != nil {
			return 0, err
		}
		return ch.ID, nil
	})
}

func (m *Members) batch(op string) batchOptions {
	return batchOptions{op: op, failFast: m.config.FailFast, metrics: m.metrics, logger: m.logger}
}
