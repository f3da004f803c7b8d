package podio

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

func singleItemAPI() *fakeAPI {
	return &fakeAPI{handler: routes(map[string]string{
		"GET app/42":               appDefinitionJSON,
		"POST item/app/42/filter/": `{"total": 1, "filtered": 1, "items": [` + itemJSON + `]}`,
	})}
}

func readOne(t *testing.T, r *Reader) Row {
	t.Helper()
	catalog, err := r.Catalog(context.Background())
	require.NoError(t, err)
	sink := &MemorySink{}
	require.NoError(t, r.FetchAll(context.Background(), catalog, nil, sink))
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, []int64{1001}, sink.IDs())
	return sink.Rows()[0]
}

func TestReader_Flatten(t *testing.T) {
	api := singleItemAPI()
	row := readOne(t, NewReader(api, ReaderConfig{AppID: 42}, nil, nil))

	assert.Equal(t, "ext-1", row["external_id"])
	assert.Equal(t, int64(1001), row["item_id"])
	assert.Equal(t, int32(5), row["app_item_id"])
	assert.Equal(t, "D-5", row["app_item_id_formatted"])
	assert.Equal(t, int32(77), row["created_by|user_id"])
	assert.Equal(t, "Ada", row["created_by|name"])
	assert.True(t, utc(2024, 3, 1, 9, 0).Equal(row["created_on"].(time.Time)))

	assert.Equal(t, "Big deal", row["title"])
	assert.True(t, utc(2024, 3, 1, 10, 0).Equal(row["when|startdate"].(time.Time)))
	assert.True(t, utc(2024, 3, 1, 12, 0).Equal(row["when|enddate"].(time.Time)))
	assert.True(t, utc(2024, 4, 1, 0, 0).Equal(row["due|startdate"].(time.Time)))
	assert.Equal(t, 1250.5, row["price|amount"])
	assert.Equal(t, "EUR", row["price|currency"])
	assert.Equal(t, int32(2), row["stage|id"])
	assert.Equal(t, "Won", row["stage|text"])
	assert.Equal(t, []int32{7, 8}, row["tags|id"])
	assert.Equal(t, []string{"Hot", "Cold"}, row["tags|text"])
	assert.Equal(t, []int64{77}, row["owner|user_id"])
	assert.Equal(t, []int64{501, 502}, row["owner|profile_id"])
	assert.Equal(t, []string{"Ada", "Bob"}, row["owner|name"])
	assert.Nil(t, row["owner|connection_id"])
	assert.Equal(t, "111;333", row["phone|mobile"])
	assert.Equal(t, "222", row["phone|work"])
	assert.Nil(t, row["phone|home"])
	assert.Equal(t, []int64{9}, row["company"])
	assert.Equal(t, []string{"Acme"}, row["company|title"])
	assert.Equal(t, 12.5, row["amount"])
	assert.Nil(t, row["rating"])
	assert.Nil(t, row["office"])

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, clients.LevelMetadata, calls[0].level)
	assert.Equal(t, clients.LevelItems, calls[1].level)
	assert.Contains(t, calls[1].path, "?fields=items.view(micro).fields(fields,app_item_id_formatted")
	assert.JSONEq(t, `{"limit": 250, "offset": 0}`, calls[1].body.String())
}

func TestReader_FlattenMediaFields(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{
		"GET app/43":               mediaAppJSON,
		"POST item/app/43/filter/": `{"total": 1, "items": [` + mediaItemJSON + `]}`,
	})}
	r := NewReader(api, ReaderConfig{AppID: 43}, nil, nil)
	catalog, err := r.Catalog(context.Background())
	require.NoError(t, err)
	sink := &MemorySink{}
	require.NoError(t, r.FetchAll(context.Background(), catalog, nil, sink))
	require.Equal(t, 1, sink.Len())
	row := sink.Rows()[0]

	tests := []struct {
		column string
		want   interface{}
	}{
		{"mail|work", "a@x.test;c@x.test"},
		{"mail|other", "b@x.test"},
		{"mail|home", nil},
		{"pic|id", int32(5)},
		{"pic|name", "logo.png"},
		{"pic|description", "Company logo"},
		{"pic|mimetype", "image/png"},
		{"pic|size", int32(2048)},
		{"pic|link", "https://files.test/5"},
		{"pic|perma_link", "https://files.test/p/5"},
		{"pic|thumbnail_link", "https://files.test/5/tiny"},
		{"site|id", int32(3)},
		{"site|original_url", "https://example.test"},
		{"site|resolved_url", "https://www.example.test/"},
		{"site|title", "Example"},
		{"site|description", "An example"},
		{"site|type", "link"},
		{"approved|id", int32(1)},
		{"approved|text", "Yes"},
		{"spent", int32(3600)},
		{"done", int32(40)},
		{"office", "Main St 1, Oslo"},
		{"office|formatted", "Main St 1, 0150 Oslo"},
		{"office|street_number", "1"},
		{"office|street_name", "Main St"},
		{"office|city", "Oslo"},
		{"office|state", nil},
		{"office|postal_code", "0150"},
		{"office|country", "Norway"},
		{"office|lat", 59.91},
		{"office|lng", 10.75},
		{"office|map_in_sync", true},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, row[tt.column])
		})
	}
}

func TestReader_LocalTime(t *testing.T) {
	zone := time.FixedZone("X", 3600)
	row := readOne(t, NewReader(singleItemAPI(), ReaderConfig{AppID: 42, Local: zone}, nil, nil))

	start := row["when|startdate"].(time.Time)
	assert.Equal(t, "2024-03-01 11:00:00", start.Format(DateTimeLayout))
	assert.Equal(t, zone, start.Location())

	due := row["due|startdate"].(time.Time)
	assert.Equal(t, "2024-04-01 00:00:00", due.Format(DateTimeLayout))
	assert.Equal(t, zone, due.Location())
}

func TestReader_RequiresApp(t *testing.T) {
	r := NewReader(&fakeAPI{}, ReaderConfig{}, nil, nil)
	err := r.FetchAll(context.Background(), RawJSONCatalog(), nil, &MemorySink{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = r.Catalog(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestReader_CatalogIsCached(t *testing.T) {
	api := singleItemAPI()
	r := NewReader(api, ReaderConfig{AppID: 42}, nil, nil)

	first, err := r.Catalog(context.Background())
	require.NoError(t, err)
	second, err := r.Catalog(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, api.Calls(), 1)
}

// pagedAPI serves total items in pages, optionally returning an empty page
// once offset reaches emptyFrom.
func pagedAPI(total, emptyFrom int) *fakeAPI {
	return &fakeAPI{handler: func(c apiCall) (*jsonvalue.Value, error) {
		limit, _ := c.body.Get("limit").Int64()
		offset, _ := c.body.Get("offset").Int64()
		items := jsonvalue.NewArray()
		if emptyFrom <= 0 || int(offset) < emptyFrom {
			for i := offset; i < offset+limit && i < int64(total); i++ {
				items.Append(jsonvalue.NewObject().
					Set("item_id", jsonvalue.NewInt(i+1)).
					Set("fields", jsonvalue.NewArray()))
			}
		}
		return jsonvalue.NewObject().
			Set("total", jsonvalue.NewInt(int64(total))).
			Set("filtered", jsonvalue.NewInt(int64(total))).
			Set("items", items), nil
	}}
}

func offsets(calls []apiCall) []int64 {
	var out []int64
	for _, c := range calls {
		o, _ := c.body.Get("offset").Int64()
		out = append(out, o)
	}
	return out
}

func TestReader_FetchAllPagination(t *testing.T) {
	catalog := testCatalog(t)
	cols, err := catalog.Select([]string{"item_id"})
	require.NoError(t, err)

	tests := []struct {
		name        string
		emptyFrom   int
		wantOffsets []int64
		wantRows    int
	}{
		{"walks every page", 0, []int64{0, 250, 500}, 600},
		{"stops on an empty page", 250, []int64{0, 250}, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := pagedAPI(600, tt.emptyFrom)
			r := NewReader(api, ReaderConfig{AppID: 42, PageSize: 250}, nil, nil)
			sink := &MemorySink{}

			require.NoError(t, r.FetchAll(context.Background(), catalog, cols, sink))
			assert.Equal(t, tt.wantOffsets, offsets(api.Calls()))
			assert.Equal(t, tt.wantRows, sink.Len())
		})
	}
}

func TestReader_FetchAllStopsOnSink(t *testing.T) {
	api := pagedAPI(600, 0)
	r := NewReader(api, ReaderConfig{AppID: 42, PageSize: 250}, nil, nil)
	sink := &MemorySink{Limit: 3}

	require.NoError(t, r.FetchAll(context.Background(), testCatalog(t), nil, sink))
	assert.Equal(t, 3, sink.Len())
	assert.Len(t, api.Calls(), 1)
}

func TestReader_FetchAllView(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{
		"POST item/app/42/filter/": `{"total": 900, "filtered": 1, "items": [{"item_id": 1, "fields": []}]}`,
	})}
	r := NewReader(api, ReaderConfig{AppID: 42, ViewID: 9}, nil, nil)

	sink := &MemorySink{}
	require.NoError(t, r.FetchAll(context.Background(), testCatalog(t), nil, sink))
	calls := api.Calls()
	require.Len(t, calls, 1, "the filtered count ends the walk")
	assert.JSONEq(t, `{"limit": 250, "offset": 0, "view_id": 9, "sort_by": "item_id"}`, calls[0].body.String())
}

func TestReader_FetchAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(pagedAPI(10, 0), ReaderConfig{AppID: 42}, nil, nil)
	err := r.FetchAll(ctx, testCatalog(t), nil, &MemorySink{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_FetchAllSkipsNullItems(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{
		"POST item/app/42/filter/": `{"total": 2, "items": [null, {"item_id": 2, "fields": []}]}`,
	})}
	sink := &MemorySink{}
	require.NoError(t, NewReader(api, ReaderConfig{AppID: 42}, nil, nil).FetchAll(context.Background(), testCatalog(t), nil, sink))
	assert.Equal(t, []int64{2}, sink.IDs())
}

func TestReader_FetchAllError(t *testing.T) {
	api := &fakeAPI{handler: func(apiCall) (*jsonvalue.Value, error) {
		return nil, errors.New(errors.ErrorTypeAPI, "boom")
	}}
	err := NewReader(api, ReaderConfig{AppID: 42}, nil, nil).FetchAll(context.Background(), testCatalog(t), nil, &MemorySink{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
}

func TestReader_RawJSON(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{
		"POST item/app/42/filter/": `{"total": 1, "items": [{"item_id": 5, "title": "Hello", "external_id": "e5",
			"created_on": "2024-01-02 03:04:05", "last_event_on": null,
			"created_by": {"name": "Ada", "last_seen_on": "x"}, "last_seen_on": "y", "fields": []}]}`,
	})}
	r := NewReader(api, ReaderConfig{AppID: 42, RawJSON: true}, nil, nil)

	catalog, err := r.Catalog(context.Background())
	require.NoError(t, err)
	sink := &MemorySink{}
	require.NoError(t, r.FetchAll(context.Background(), catalog, nil, sink))

	row := sink.Rows()[0]
	assert.Equal(t, int64(5), row["item_id"])
	assert.Equal(t, int64(42), row["app_id"])
	assert.Equal(t, "Hello", row["title"])
	assert.Equal(t, "e5", row["external_id"])
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Equal(row["modified"].(time.Time)))
	assert.NotContains(t, row["json"], "last_seen_on")
	assert.Contains(t, api.Calls()[0].path, "fields.view(micro),title")

	err = r.FetchByKeys(context.Background(), catalog, nil, KeySet{Columns: []string{"item_id"}, Values: []interface{}{1}}, &MemorySink{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

// keyedAPI answers filter requests with one item per requested external id.
func keyedAPI(inFlight, peak *int32) *fakeAPI {
	return &fakeAPI{handler: func(c apiCall) (*jsonvalue.Value, error) {
		if inFlight != nil {
			n := atomic.AddInt32(inFlight, 1)
			defer atomic.AddInt32(inFlight, -1)
			for {
				p := atomic.LoadInt32(peak)
				if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		items := jsonvalue.NewArray()
		for _, k := range c.body.Path("filters", "external_id").Items() {
			s, _ := k.Str()
			id, _ := strconv.ParseInt(strings.TrimPrefix(s, "k-"), 10, 64)
			items.Append(jsonvalue.MustParse(fmt.Sprintf(`{"item_id": %d, "external_id": %q, "fields": []}`, id, s)))
		}
		return jsonvalue.NewObject().Set("items", items), nil
	}}
}

func externalKeys(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = fmt.Sprintf("k-%d", i+1)
	}
	return out
}

func TestReader_FetchByKeys(t *testing.T) {
	var inFlight, peak int32
	api := keyedAPI(&inFlight, &peak)
	r := NewReader(api, ReaderConfig{AppID: 42, PageSize: 250, MaxConcurrency: 2}, nil, nil)
	sink := &MemorySink{}

	err := r.FetchByKeys(context.Background(), testCatalog(t), nil, KeySet{Columns: []string{"external_id"}, Values: externalKeys(600)}, sink)
	require.NoError(t, err)
	assert.Equal(t, 600, sink.Len())

	var limits []int64
	for _, c := range api.Calls() {
		assert.Equal(t, http.MethodPost, c.method)
		l, _ := c.body.Get("limit").Int64()
		limits = append(limits, l)
	}
	assert.ElementsMatch(t, []int64{500, 500, 200}, limits, "each chunk asks for twice its size")
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))

	row, ok := sink.Get(600)
	require.True(t, ok)
	assert.Equal(t, "k-600", row["external_id"])
}

func TestReader_FetchByKeysStops(t *testing.T) {
	api := keyedAPI(nil, nil)
	r := NewReader(api, ReaderConfig{AppID: 42, PageSize: 100, MaxConcurrency: 1}, nil, nil)
	sink := &MemorySink{Limit: 10}

	err := r.FetchByKeys(context.Background(), testCatalog(t), nil, KeySet{Columns: []string{"external_id"}, Values: externalKeys(500)}, sink)
	require.NoError(t, err)
	assert.Equal(t, 10, sink.Len())
	assert.Len(t, api.Calls(), 1, "no chunk is requested after a stop")
}

func TestReader_FetchByKeysRejects(t *testing.T) {
	catalog := testCatalog(t)
	tests := []struct {
		name     string
		config   ReaderConfig
		keys     KeySet
		wantType errors.ErrorType
	}{
		{"composite", ReaderConfig{AppID: 42}, KeySet{Columns: []string{"item_id", "external_id"}}, errors.ErrorTypeConfig},
		{"page size", ReaderConfig{AppID: 42, PageSize: 300}, KeySet{Columns: []string{"item_id"}}, errors.ErrorTypeConfig},
		{"column not allowed", ReaderConfig{AppID: 42}, KeySet{Columns: []string{"title"}}, errors.ErrorTypeConfig},
		{"unknown column", ReaderConfig{AppID: 42}, KeySet{Columns: []string{"nope"}}, errors.ErrorTypeValidation},
		{"no app", ReaderConfig{}, KeySet{Columns: []string{"item_id"}}, errors.ErrorTypeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := keyedAPI(nil, nil)
			err := NewReader(api, tt.config, nil, nil).FetchByKeys(context.Background(), catalog, nil, tt.keys, &MemorySink{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType), err.Error())
			assert.Empty(t, api.Calls())
		})
	}
}

func TestReader_FetchByKeysTypesValues(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{"POST item/app/42/filter/": `{"items": []}`})}
	r := NewReader(api, ReaderConfig{AppID: 42}, nil, nil)

	err := r.FetchByKeys(context.Background(), testCatalog(t), nil, KeySet{Columns: []string{"item_id"}, Values: []interface{}{"12", int32(13), nil}}, &MemorySink{})
	require.NoError(t, err)
	require.Len(t, api.Calls(), 1)
	assert.JSONEq(t, `{"limit": 4, "filters": {"item_id": [12, 13]}}`, api.Calls()[0].body.String())
}

func TestReader_AppLastChanged(t *testing.T) {
	api := &fakeAPI{handler: routes(map[string]string{
		"POST item/app/42/filter/": `{"items": [{"last_event_on": "2024-05-06 07:08:09"}]}`,
		"POST item/app/43/filter/": `{"items": []}`,
	})}
	r := NewReader(api, ReaderConfig{}, nil, nil)

	got, err := r.AppLastChanged(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC).Equal(*got))
	assert.JSONEq(t, `{"limit": 1, "sort_by": "last_edit_on", "sort_desc": true}`, api.Calls()[0].body.String())

	none, err := r.AppLastChanged(context.Background(), 43)
	require.NoError(t, err)
	assert.Nil(t, none)
}
