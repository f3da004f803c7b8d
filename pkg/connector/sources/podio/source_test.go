package podio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/registry"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/store"
)

const testAppJSON = `{
  "app_id": 42, "space_id": 7, "token": "app-secret",
  "config": {"name": "Deals", "item_name": "Deal"},
  "fields": [
    {"field_id": 1, "external_id": "title", "type": "text", "status": "active", "config": {"label": "Title"}}
  ]
}`

const testItemsJSON = `{"total": 2, "filtered": 2, "items": [
  {"item_id": 1, "app_item_id": 1, "external_id": "a", "created_on": "2024-03-01 09:00:00", "last_event_on": "2024-03-02 10:00:00",
   "fields": [{"external_id": "title", "values": [{"value": "One"}]}]},
  {"item_id": 2, "app_item_id": 2, "external_id": "b", "created_on": "2024-03-01 09:00:00", "last_event_on": "2024-03-02 11:00:00",
   "fields": [{"external_id": "title", "values": [{"value": "Two"}]}]}
]}`

type request struct {
	route string
	query string
	auth  string
	body  *jsonvalue.Value
}

// fakePodio answers API requests per "METHOD /path" from a handler table.
type fakePodio struct {
	*httptest.Server
	mu       sync.Mutex
	requests []request
	handlers map[string]func(r request) (int, string)
}

func newFakePodio(t *testing.T, handlers map[string]func(r request) (int, string)) *fakePodio {
	t.Helper()
	f := &fakePodio{handlers: handlers}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		req := request{route: r.Method + " " + r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if len(data) > 0 {
			req.body, _ = jsonvalue.Parse(data)
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		h, ok := f.handlers[req.route]
		if !ok {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		code, body := h(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakePodio) routes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.route
	}
	return out
}

func (f *fakePodio) last(route string) (request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].route == route {
			return f.requests[i], true
		}
	}
	return request{}, false
}

func fixed(body string) func(request) (int, string) {
	return func(request) (int, string) { return http.StatusOK, body }
}

func testConfig(srv *fakePodio, connectorType string) *config.PodioConfig {
	cfg := config.NewPodioConfig("test", connectorType)
	cfg.APIBaseURL = srv.URL + "/"
	cfg.Performance.MaxConcurrency = 2
	cfg.Reliability.RetryAttempts = 1
	cfg.Security.Credentials = map[string]string{
		store.KeyAccessToken: "user-token",
		store.KeyTokenExpires: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}
	return cfg
}

func drain(t *testing.T, stream *core.RecordStream) ([]*core.Record, error) {
	t.Helper()
	var records []*core.Record
	for rec := range stream.Records {
		records = append(records, rec)
	}
	return records, <-stream.Errors
}

func itemsServer(t *testing.T) *fakePodio {
	return newFakePodio(t, map[string]func(request) (int, string){
		"GET /app/42":               fixed(testAppJSON),
		"POST /item/app/42/filter/": fixed(testItemsJSON),
	})
}

func openItems(t *testing.T, srv *fakePodio, tweak func(*config.PodioConfig)) *ItemsSource {
	t.Helper()
	cfg := testConfig(srv, "podio-items")
	cfg.AppID = 42
	if tweak != nil {
		tweak(cfg)
	}
	src, err := NewItemsSource(cfg)
	require.NoError(t, err)
	require.NoError(t, src.Initialize(context.Background()))
	t.Cleanup(func() { _ = src.Close(context.Background()) })
	return src.(*ItemsSource)
}

func TestItemsSource_Discover(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, nil)

	schema, err := src.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "podio-items", schema.Name)
	assert.Equal(t, "item_id", schema.PrimaryKey())
	title, ok := schema.Field("title")
	require.True(t, ok)
	assert.Equal(t, "Title", title.DisplayName)
	assert.Equal(t, core.FieldTypeString, title.Type)
	assert.Equal(t, "string", title.NativeType)

	created, ok := schema.Field("created_on")
	require.True(t, ok)
	assert.True(t, created.ReadOnly)
	assert.Equal(t, core.FieldTypeTimestamp, created.Type)

	// the definition is cached across calls
	_, err = src.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /app/42"}, srv.routes())

	req, _ := srv.last("GET /app/42")
	assert.Equal(t, "OAuth2 user-token", req.auth)

	// the app token is remembered for app authentication
	tok, ok := src.Connection().Registry.Get(store.KeyAppToken)
	require.True(t, ok)
	assert.Equal(t, "app-secret", tok)
}

func TestItemsSource_Read(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, nil)

	stream, err := src.Read(context.Background(), []string{"item_id", "title"})
	require.NoError(t, err)
	records, err := drain(t, stream)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, map[string]interface{}{"item_id": int64(1), "title": "One"}, records[0].Data)
	assert.Equal(t, "Two", records[1].Data["title"])

	req, ok := srv.last("POST /item/app/42/filter/")
	require.True(t, ok)
	assert.JSONEq(t, `{"limit": 250, "offset": 0}`, req.body.String())

	m := src.Metrics()
	assert.Equal(t, int64(2), m["progress_processed"])
}

func TestItemsSource_ReadUnknownColumn(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, nil)

	_, err := src.Read(context.Background(), []string{"nope"})
	require.Error(t, err)
}

func TestItemsSource_ReadError(t *testing.T) {
	srv := newFakePodio(t, map[string]func(request) (int, string){
		"GET /app/42": fixed(testAppJSON),
		"POST /item/app/42/filter/": func(request) (int, string) {
			return http.StatusBadRequest, `{"error_description": "bad filter"}`
		},
	})
	src := openItems(t, srv, nil)

	stream, err := src.Read(context.Background(), nil)
	require.NoError(t, err)
	records, err := drain(t, stream)
	assert.Empty(t, records)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
}

func TestItemsSource_ReadKeys(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, nil)
	require.True(t, src.SupportsKeyedRead())

	stream, err := src.ReadKeys(context.Background(), "external_id", []interface{}{"a", "b"}, []string{"external_id"})
	require.NoError(t, err)
	records, err := drain(t, stream)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	req, ok := srv.last("POST /item/app/42/filter/")
	require.True(t, ok)
	assert.JSONEq(t, `{"limit": 4, "filters": {"external_id": ["a", "b"]}}`, req.body.String())

	// only envelope ids can be keys
	stream, err = src.ReadKeys(context.Background(), "title", []interface{}{"x"}, nil)
	require.NoError(t, err)
	_, err = drain(t, stream)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestItemsSource_RawJSON(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, func(cfg *config.PodioConfig) { cfg.RawJSON = true })
	assert.False(t, src.SupportsKeyedRead())

	schema, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 7)
	_, ok := schema.Field("json")
	assert.True(t, ok)
	assert.NotContains(t, srv.routes(), "GET /app/42")
}

func TestItemsSource_Changed(t *testing.T) {
	var last atomic.Value
	last.Store("2024-03-02 10:00:00")
	srv := newFakePodio(t, map[string]func(request) (int, string){
		"POST /item/app/42/filter/": func(request) (int, string) {
			return http.StatusOK, `{"total": 1, "items": [{"last_event_on": "` + last.Load().(string) + `"}]}`
		},
	})
	src := openItems(t, srv, nil)
	require.True(t, src.SupportsIncremental())

	changed, err := src.Changed(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "2024-03-02T10:00:00Z", src.GetState()[core.StateLastChanged])

	changed, err = src.Changed(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	last.Store("2024-03-03 08:30:00")
	changed, err = src.Changed(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	req, _ := srv.last("POST /item/app/42/filter/")
	assert.JSONEq(t, `{"limit": 1, "sort_by": "last_edit_on", "sort_desc": true}`, req.body.String())
}

func TestItemsSource_ResolvesAppPath(t *testing.T) {
	srv := newFakePodio(t, map[string]func(request) (int, string){
		"GET /app/space/7/": fixed(`[{"app_id": 42, "config": {"name": "Deals"}}, {"app_id": 43, "config": {"name": "Leads"}}]`),
	})
	cfg := testConfig(srv, "podio-items")
	cfg.SpaceID = 7
	cfg.App = "Leads"

	src, err := NewItemsSource(cfg)
	require.NoError(t, err)
	require.NoError(t, src.Initialize(context.Background()))
	defer src.Close(context.Background())

	assert.Equal(t, int64(43), src.(*ItemsSource).AppID())
}

func TestItemsSource_NotInitialized(t *testing.T) {
	src, err := NewItemsSource(config.NewPodioConfig("test", "podio-items"))
	require.NoError(t, err)

	_, err = src.Discover(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewItemsSource(nil)
	assert.Error(t, err)
}

func TestSpaceSources(t *testing.T) {
	srv := newFakePodio(t, map[string]func(request) (int, string){
		"GET /space/7/member/v2": func(r request) (int, string) {
			if r.query == "limit=250&offset=0" {
				return http.StatusOK, `[{"profile": {"user_id": 11, "name": "Ada", "mail": ["ada@example.com"]}, "role": "admin", "employee": true}]`
			}
			return http.StatusOK, `[]`
		},
		"GET /contact/space/7/": func(r request) (int, string) {
			if r.query == "contact_type=space&limit=250&offset=0" {
				return http.StatusOK, `[{"profile_id": 90, "name": "Bob", "phone": ["1", "2"]}]`
			}
			return http.StatusOK, `[]`
		},
	})

	tests := []struct {
		name    string
		factory core.SourceFactory
		id      int64
		check   func(t *testing.T, data map[string]interface{})
	}{
		{"members", NewMembersSource, 11, func(t *testing.T, data map[string]interface{}) {
			assert.Equal(t, "Ada", data["name"])
			assert.Equal(t, "ada@example.com", data["emailaddress1"])
			assert.Nil(t, data["emailaddress2"])
			assert.Equal(t, "admin", data["role"])
			assert.Equal(t, true, data["employee"])
		}},
		{"contacts", NewContactsSource, 90, func(t *testing.T, data map[string]interface{}) {
			assert.Equal(t, "Bob", data["name"])
			assert.Equal(t, "1", data["phone1"])
			assert.Equal(t, "2", data["phone2"])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(srv, "podio-"+tt.name)
			cfg.SpaceID = 7
			src, err := tt.factory(cfg)
			require.NoError(t, err)
			require.NoError(t, src.Initialize(context.Background()))
			defer src.Close(context.Background())

			assert.False(t, src.SupportsKeyedRead())
			_, err = src.ReadKeys(context.Background(), "name", []interface{}{"x"}, nil)
			assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

			changed, err := src.Changed(context.Background())
			require.NoError(t, err)
			assert.True(t, changed)

			schema, err := src.Discover(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, schema.PrimaryKey())

			stream, err := src.Read(context.Background(), nil)
			require.NoError(t, err)
			records, err := drain(t, stream)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.id, records[0].ID)
			tt.check(t, records[0].Data)
		})
	}

	_, err := NewMembersSource(config.NewPodioConfig("test", "podio-members"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistration(t *testing.T) {
	for _, name := range []string{"podio-items", "podio-members", "podio-contacts"} {
		assert.True(t, registry.GetRegistry().HasSource(name), name)
		meta, ok := registry.Info(core.ConnectorTypeSource, name)
		require.True(t, ok, name)
		assert.Contains(t, meta.Capabilities, "read")
	}
}

func TestRead_Cancelled(t *testing.T) {
	srv := itemsServer(t)
	src := openItems(t, srv, nil)
	_, err := src.Discover(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := src.Read(ctx, nil)
	require.NoError(t, err)
	cancel()

	// the stream always terminates and reports the cancellation
	for range stream.Records {
	}
	err = <-stream.Errors
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
