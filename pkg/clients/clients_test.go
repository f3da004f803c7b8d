package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/metrics"
	"github.com/ajitpratap0/podsync/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

// countingRegistry records how many times each key was written.
type countingRegistry struct {
	*store.MemoryRegistry
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRegistry(initial map[string]string) *countingRegistry {
	return &countingRegistry{MemoryRegistry: store.NewMemoryRegistry(initial), counts: map[string]int{}}
}

func (r *countingRegistry) Set(key, value string) error {
	r.mu.Lock()
	r.counts[key]++
	r.mu.Unlock()
	return r.MemoryRegistry.Set(key, value)
}

func (r *countingRegistry) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func newAPIClient(t *testing.T, srv *httptest.Server, connection string) *APIClient {
	t.Helper()
	httpClient := NewHTTPClient(&HTTPConfig{EnableHTTP2: false}, nil)
	c, err := NewAPIClient(srv.URL, httpClient, staticToken("tok"), NewRateLimitTracker(connection), UserAgent("1.2.3"), nil)
	require.NoError(t, err)
	return c
}

func TestRateLimitTracker_Observe(t *testing.T) {
	tracker := NewRateLimitTracker("tracker-test")
	assert.Equal(t, "", tracker.String(LevelItems))

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set(HeaderRateLimit, "5000")
	resp.Header.Set(HeaderRateRemaining, "4990")
	tracker.Observe(resp, LevelItems)

	assert.Equal(t, "4990:5000", tracker.String(LevelItems))
	assert.Equal(t, "", tracker.String(LevelMetadata))
	assert.Equal(t, 5000.0, testutil.ToFloat64(metrics.RateLimit.WithLabelValues("tracker-test", "2")))
	assert.Equal(t, 4990.0, testutil.ToFloat64(metrics.RateRemaining.WithLabelValues("tracker-test", "2")))

	// malformed headers keep the previous reading
	bad := &http.Response{Header: http.Header{}}
	bad.Header.Set(HeaderRateLimit, "n/a")
	tracker.Observe(bad, LevelItems)
	assert.Equal(t, "4990:5000", tracker.String(LevelItems))

	var nilTracker *RateLimitTracker
	nilTracker.Observe(resp, LevelItems)
	assert.Equal(t, "", nilTracker.String(LevelItems))
}

func TestNewPacer(t *testing.T) {
	assert.Nil(t, NewPacer(0, 5))
	p := NewPacer(10, 0)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Burst())
}

func TestAPIClient_Call(t *testing.T) {
	var gotAuth, gotUA, gotBody, gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set(HeaderRateLimit, "1000")
		w.Header().Set(HeaderRateRemaining, "999")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"item_id": 12, "title": "x"}`))
	}))
	defer srv.Close()

	c := newAPIClient(t, srv, "call-test")
	body := jsonvalue.NewObject().Set("limit", jsonvalue.NewInt(5))
	v, err := c.Post(context.Background(), "item/app/7/filter/", url.Values{"silent": {"1"}}, body, LevelItems)
	require.NoError(t, err)

	id, ok := v.Get("item_id").Int64()
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
	assert.Equal(t, "OAuth2 tok", gotAuth)
	assert.Contains(t, gotUA, "podsync/1.2.3 (compatible; podsync 1.2.3;")
	assert.Equal(t, "/item/app/7/filter/", gotPath)
	assert.Equal(t, "silent=1", gotQuery)
	assert.Equal(t, `{"limit":5}`, gotBody)
	assert.Equal(t, "999:1000", c.Rates().String(LevelItems))
}

func TestAPIClient_CallEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newAPIClient(t, srv, "empty-test")
	v, err := c.Delete(context.Background(), "item/5", LevelItems)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAPIClient_CallErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errors.ErrorType
	}{
		{"not found", http.StatusNotFound, errors.ErrorTypeNotFound},
		{"unauthorized", http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{"rate limited", 420, errors.ErrorTypeRateLimit},
		{"bad request", http.StatusBadRequest, errors.ErrorTypeAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"x","error_description":"went wrong"}`))
			}))
			defer srv.Close()

			c := newAPIClient(t, srv, "error-test")
			body := jsonvalue.NewObject().Set("title", jsonvalue.NewString("t"))
			_, err := c.Put(context.Background(), "item/1", nil, body, LevelItems)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Error(), "went wrong")

			payload, ok := errors.GetDetail(err, errors.DetailPayload)
			require.True(t, ok)
			assert.Equal(t, `{"title":"t"}`, payload)
		})
	}
}

func TestAPIClient_ResolveKeepsRawQuery(t *testing.T) {
	c, err := NewAPIClient("https://api.example.test", nil, nil, nil, "", nil)
	require.NoError(t, err)

	got := c.resolve("/item/app/1/filter/?fields=items.view(micro)", nil)
	assert.Equal(t, "https://api.example.test/item/app/1/filter/?fields=items.view(micro)", got)

	got = c.resolve("space/3/member/v2", url.Values{"limit": {"10"}, "offset": {"0"}})
	assert.Equal(t, "https://api.example.test/space/3/member/v2?limit=10&offset=0", got)
}

// tokenServer answers token grants and counts them by grant type.
type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	expiresIn int
	delay     time.Duration
	status    int
	lastForm  url.Values
	mu        sync.Mutex
}

func newTokenServer(expiresIn int) *tokenServer {
	ts := &tokenServer{expiresIn: expiresIn, status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		n := ts.calls.Add(1)
		ts.mu.Lock()
		ts.lastForm = r.PostForm
		ts.mu.Unlock()
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad token"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"bearer","expires_in":%d}`, n, n, ts.expiresIn)
	}))
	return ts
}

func (ts *tokenServer) form() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm
}

func TestTokenManager_UserRefreshWindow(t *testing.T) {
	ts := newTokenServer(3600)
	defer ts.Close()

	reg := newCountingRegistry(map[string]string{
		store.KeyClientID:     "cid",
		store.KeyClientSecret: "secret",
		store.KeyRefreshToken: "refresh-0",
	})
	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL}, reg, ts.Client(), nil)

	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, "refresh_token", ts.form().Get("grant_type"))
	assert.Equal(t, "refresh-0", ts.form().Get("refresh_token"))
	assert.Equal(t, "cid", ts.form().Get("client_id"))
	assert.Equal(t, StateValid, tm.State(ModeUser))

	// 3600s of validity against a one hour window: the next use refreshes.
	tok, err = tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, int32(2), ts.calls.Load())
	assert.Equal(t, "refresh-1", ts.form().Get("refresh_token"))

	// one write per key per refresh
	assert.Equal(t, 2, reg.count(store.KeyAccessToken))
	assert.Equal(t, 2, reg.count(store.KeyRefreshToken))
	assert.Equal(t, 2, reg.count(store.KeyTokenExpires))
	stored, _ := reg.Get(store.KeyAccessToken)
	assert.Equal(t, "access-2", stored)
}

func TestTokenManager_AppRefreshWindow(t *testing.T) {
	ts := newTokenServer(3600)
	defer ts.Close()

	reg := newCountingRegistry(map[string]string{store.KeyClientID: "cid", store.KeyClientSecret: "secret"})
	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL, Mode: ModeApp}, reg, ts.Client(), nil)
	assert.Equal(t, StateUnset, tm.State(ModeApp))

	require.NoError(t, tm.SetAppCredentials(42, "app-secret"))

	for i := 0; i < 3; i++ {
		tok, err := tm.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", tok)
	}
	assert.Equal(t, int32(1), ts.calls.Load())

	form := ts.form()
	assert.Equal(t, "app", form.Get("grant_type"))
	assert.Equal(t, "42", form.Get("app_id"))
	assert.Equal(t, "app-secret", form.Get("app_token"))
	assert.True(t, form.Has("redirect_uri"))
	assert.Equal(t, 1, reg.count(store.KeyAppAccessToken))
}

func TestTokenManager_AppShortLivedToken(t *testing.T) {
	ts := newTokenServer(20)
	defer ts.Close()

	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL, Mode: ModeApp}, nil, ts.Client(), nil)
	require.NoError(t, tm.SetAppCredentials(1, "x"))

	_, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestTokenManager_Unset(t *testing.T) {
	tm := NewTokenManager(OAuth2Config{TokenURL: "http://127.0.0.1:1"}, nil, nil, nil)

	_, err := tm.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, StateUnset, tm.State(ModeUser))
}

func TestTokenManager_RefreshFailure(t *testing.T) {
	ts := newTokenServer(3600)
	ts.status = http.StatusBadRequest
	defer ts.Close()

	reg := store.NewMemoryRegistry(map[string]string{store.KeyRefreshToken: "r"})
	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL}, reg, ts.Client(), nil)

	_, err := tm.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, StateFailed, tm.State(ModeUser))
	assert.Equal(t, 0, reg.Writes())
}

func TestTokenManager_SingleFlight(t *testing.T) {
	ts := newTokenServer(7200)
	ts.delay = 50 * time.Millisecond
	defer ts.Close()

	reg := store.NewMemoryRegistry(map[string]string{store.KeyRefreshToken: "r"})
	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL}, reg, ts.Client(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tm.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "access-1", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestTokenManager_ExchangeCode(t *testing.T) {
	ts := newTokenServer(28800)
	defer ts.Close()

	reg := store.NewMemoryRegistry(map[string]string{store.KeyClientID: "cid", store.KeyClientSecret: "s"})
	tm := NewTokenManager(OAuth2Config{TokenURL: ts.URL}, reg, ts.Client(), nil)

	require.NoError(t, tm.ExchangeCode(context.Background(), "the-code", "http://localhost/cb"))
	form := ts.form()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "http://localhost/cb", form.Get("redirect_uri"))

	refresh, _ := reg.Get(store.KeyRefreshToken)
	assert.Equal(t, "refresh-1", refresh)

	tok, err := tm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeApp, ParseMode("APP"))
	assert.Equal(t, ModeUser, ParseMode("user"))
	assert.Equal(t, ModeUser, ParseMode(""))
	assert.Equal(t, "app", ModeApp.String())
}
