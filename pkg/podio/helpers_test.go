package podio

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

const appDefinitionJSON = `{
  "app_id": 42, "space_id": 7, "token": "app-secret",
  "config": {"name": "Deals", "item_name": "Deal"},
  "fields": [
    {"field_id": 1, "external_id": "title", "type": "text", "status": "active", "config": {"label": "Title"}},
    {"field_id": 2, "external_id": "when", "type": "date", "status": "active", "config": {"label": "When", "settings": {"time": "enabled"}}},
    {"field_id": 3, "external_id": "due", "type": "date", "status": "active", "config": {"label": "Due", "settings": {"time": "disabled"}}},
    {"field_id": 4, "external_id": "price", "type": "money", "status": "active", "config": {"label": "Price"}},
    {"field_id": 5, "external_id": "stage", "type": "category", "status": "active", "config": {"label": "Stage", "settings": {"multiple": false, "options": [
      {"id": 1, "text": "Open", "status": "active"},
      {"id": 2, "text": "Won", "status": "active"},
      {"id": 3, "text": "Old", "status": "deleted"}
    ]}}},
    {"field_id": 6, "external_id": "owner", "type": "contact", "status": "active", "config": {"label": "Owner"}},
    {"field_id": 7, "external_id": "phone", "type": "phone", "status": "active", "config": {"label": "Phone"}},
    {"field_id": 8, "external_id": "gone", "type": "text", "status": "deleted", "config": {"label": "Gone"}},
    {"field_id": 9, "external_id": "rating", "type": "tag-cloud", "status": "active", "config": {"label": "Rating"}},
    {"field_id": 10, "external_id": "company", "type": "app", "status": "active", "config": {"label": "Company"}},
    {"field_id": 11, "external_id": "amount", "type": "number", "status": "active", "config": {"label": "Amount"}},
    {"field_id": 12, "external_id": "office", "type": "location", "status": "active", "config": {"label": "Office"}},
    {"field_id": 13, "external_id": "tags", "type": "category", "status": "active", "config": {"label": "Tags", "settings": {"multiple": true, "options": [
      {"id": 7, "text": "Hot", "status": "active"},
      {"id": 8, "text": "Cold", "status": "active"}
    ]}}}
  ]
}`

const itemJSON = `{
  "item_id": 1001, "app_item_id": 5, "app_item_id_formatted": "D-5", "external_id": "ext-1",
  "created_on": "2024-03-01 09:00:00", "last_event_on": "2024-03-02 10:00:00",
  "created_by": {"user_id": 77, "name": "Ada"},
  "fields": [
    {"external_id": "title", "values": [{"value": "<p>Big deal</p>"}]},
    {"external_id": "when", "values": [{"start_utc": "2024-03-01 10:00:00", "start_time_utc": "10:00:00", "end_utc": "2024-03-01 12:00:00", "end_time_utc": "12:00:00"}]},
    {"external_id": "due", "values": [{"start_date": "2024-04-01", "start_time_utc": null, "end_date": "2024-04-02", "end_time_utc": null}]},
    {"external_id": "price", "values": [{"value": "1250.5000", "currency": "EUR"}]},
    {"external_id": "stage", "values": [{"value": {"id": 2, "text": "Won", "status": "active"}}]},
    {"external_id": "owner", "values": [{"value": {"user_id": 77, "profile_id": 501, "name": "Ada"}}, {"value": {"profile_id": 502, "name": "Bob"}}]},
    {"external_id": "phone", "values": [{"type": "mobile", "value": "111"}, {"type": "work", "value": "222"}, {"type": "mobile", "value": "333"}]},
    {"external_id": "company", "values": [{"value": {"item_id": 9, "title": "Acme"}}]},
    {"external_id": "amount", "values": [{"value": "12.5000"}]},
    {"external_id": "tags", "values": [{"value": {"id": 7, "text": "Hot"}}, {"value": {"id": 8, "text": "Cold"}}]}
  ]
}`

// mediaAppJSON covers the field types the deals app does not use.
const mediaAppJSON = `{
  "app_id": 43, "space_id": 7,
  "config": {"name": "Vendors", "item_name": "Vendor"},
  "fields": [
    {"field_id": 21, "external_id": "mail", "type": "email", "status": "active", "config": {"label": "Mail"}},
    {"field_id": 22, "external_id": "pic", "type": "image", "status": "active", "config": {"label": "Picture"}},
    {"field_id": 23, "external_id": "site", "type": "embed", "status": "active", "config": {"label": "Site"}},
    {"field_id": 24, "external_id": "approved", "type": "question", "status": "active", "config": {"label": "Approved", "settings": {"multiple": false, "options": [
      {"id": 1, "text": "Yes", "status": "active"},
      {"id": 2, "text": "No", "status": "active"}
    ]}}},
    {"field_id": 25, "external_id": "spent", "type": "duration", "status": "active", "config": {"label": "Spent"}},
    {"field_id": 26, "external_id": "done", "type": "progress", "status": "active", "config": {"label": "Done"}},
    {"field_id": 27, "external_id": "office", "type": "location", "status": "active", "config": {"label": "Office"}}
  ]
}`

const mediaItemJSON = `{
  "item_id": 2002, "app_item_id": 1, "app_item_id_formatted": "V-1",
  "created_on": "2024-03-01 09:00:00", "last_event_on": "2024-03-01 09:00:00",
  "created_by": {"user_id": 77, "name": "Ada"},
  "fields": [
    {"external_id": "mail", "values": [{"type": "work", "value": "a@x.test"}, {"type": "other", "value": "b@x.test"}, {"type": "work", "value": "c@x.test"}]},
    {"external_id": "pic", "values": [{"value": {"file_id": 5, "name": "logo.png", "description": "Company logo", "mimetype": "image/png", "size": 2048,
      "link": "https://files.test/5", "perma_link": "https://files.test/p/5", "thumbnail_link": "https://files.test/5/tiny"}}]},
    {"external_id": "site", "values": [{"embed": {"embed_id": 3, "original_url": "https://example.test", "resolved_url": "https://www.example.test/",
      "title": "Example", "description": "An example", "type": "link"}, "file": null}]},
    {"external_id": "approved", "values": [{"value": {"id": 1, "text": "Yes", "status": "active"}}]},
    {"external_id": "spent", "values": [{"value": 3600}]},
    {"external_id": "done", "values": [{"value": 40}]},
    {"external_id": "office", "values": [{"value": "Main St 1, Oslo", "formatted": "Main St 1, 0150 Oslo", "street_number": "1", "street_name": "Main St",
      "city": "Oslo", "postal_code": "0150", "country": "Norway", "lat": 59.91, "lng": 10.75, "map_in_sync": true}]}
  ]
}`

func mediaCatalog(t *testing.T) *SchemaCatalog {
	t.Helper()
	def, err := ParseAppDefinition(jsonvalue.MustParse(mediaAppJSON))
	require.NoError(t, err)
	return BuildItemCatalog(def)
}

func testAppDefinition(t *testing.T) *AppDefinition {
	t.Helper()
	def, err := ParseAppDefinition(jsonvalue.MustParse(appDefinitionJSON))
	require.NoError(t, err)
	return def
}

func testCatalog(t *testing.T) *SchemaCatalog {
	t.Helper()
	return BuildItemCatalog(testAppDefinition(t))
}

type apiCall struct {
	method string
	path   string
	query  url.Values
	body   *jsonvalue.Value
	level  clients.Level
}

// route strips the raw query from the path.
func (c apiCall) route() string {
	p := c.path
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return c.method + " " + p
}

// fakeAPI answers calls from a handler and records them.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	handler func(c apiCall) (*jsonvalue.Value, error)
}

func (f *fakeAPI) Call(ctx context.Context, method, path string, query url.Values, body *jsonvalue.Value, level clients.Level) (*jsonvalue.Value, error) {
	c := apiCall{method: method, path: path, query: query, body: body.Clone(), level: level}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.handler(c)
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apiCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// routes builds a handler answering fixed JSON documents per "METHOD path".
func routes(docs map[string]string) func(apiCall) (*jsonvalue.Value, error) {
	return func(c apiCall) (*jsonvalue.Value, error) {
		doc, ok := docs[c.route()]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "no route for %s", c.route())
		}
		if doc == "" {
			return nil, nil
		}
		return jsonvalue.MustParse(doc), nil
	}
}

type recordingStatus struct {
	progress [][2]int
	done     []int64
	failed   []error
}

func (s *recordingStatus) Progress(total, done int) {
	s.progress = append(s.progress, [2]int{total, done})
}

func (s *recordingStatus) ItemDone(_ Change, id int64) { s.done = append(s.done, id) }

func (s *recordingStatus) ItemFailed(_ Change, err error) { s.failed = append(s.failed, err) }

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}
