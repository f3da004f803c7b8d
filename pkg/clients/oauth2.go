package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/podsync/pkg/json"
	"github.com/ajitpratap0/podsync/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Mode selects one of the two token lifecycles.
type Mode int

const (
	// ModeUser uses a user-delegated token refreshed with a refresh token.
	ModeUser Mode = iota
	// ModeApp uses an app-scoped token refreshed with the app id and app token.
	ModeApp
)

func (m Mode) String() string {
	if m == ModeApp {
		return "app"
	}
	return "user"
}

// ParseMode maps "user" and "app" to a Mode. Anything else is user mode.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "app") {
		return ModeApp
	}
	return ModeUser
}

// TokenState is the lifecycle state of one token.
type TokenState int

const (
	// StateUnset means no refresh credential exists for the mode.
	StateUnset TokenState = iota
	StateValid
	StateRefreshing
	StateFailed
)

func (s TokenState) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unset"
	}
}

// Proactive refresh windows before the stated expiry.
const (
	UserRefreshWindow = time.Hour
	AppRefreshWindow  = 30 * time.Second
)

// OAuth2Config configures the token endpoint and client credentials. Empty
// credentials are read from the registry.
type OAuth2Config struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Mode         Mode   `json:"mode"`
}

type registryKeys struct {
	access, refresh, expires string
}

var slotKeys = map[Mode]registryKeys{
	ModeUser: {store.KeyAccessToken, store.KeyRefreshToken, store.KeyTokenExpires},
	ModeApp:  {store.KeyAppAccessToken, store.KeyAppRefreshToken, store.KeyAppTokenExpires},
}

type tokenSlot struct {
	token  *oauth2.Token
	state  TokenState
	window time.Duration
}

func (s *tokenSlot) usable(now time.Time) bool {
	if s.token == nil || s.token.AccessToken == "" {
		return false
	}
	return now.Before(s.token.Expiry.Add(-s.window))
}

// TokenManager owns both token lifecycles of a connection. Refreshes are
// single-flight per mode and every successful refresh is written to the
// registry once.
type TokenManager struct {
	config     OAuth2Config
	registry   store.Registry
	httpClient *http.Client
	logger     *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	slots    map[Mode]*tokenSlot
	appID    int64
	appToken string
}

// NewTokenManager creates a manager seeded from the registry.
func NewTokenManager(config OAuth2Config, registry store.Registry, httpClient *http.Client, logger *zap.Logger) *TokenManager {
	if registry == nil {
		registry = store.NewMemoryRegistry(nil)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ClientID == "" {
		config.ClientID, _ = registry.Get(store.KeyClientID)
	}
	if config.ClientSecret == "" {
		config.ClientSecret, _ = registry.Get(store.KeyClientSecret)
	}

	tm := &TokenManager{
		config:     config,
		registry:   registry,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "token_manager")),
		slots: map[Mode]*tokenSlot{
			ModeUser: {window: UserRefreshWindow},
			ModeApp:  {window: AppRefreshWindow},
		},
	}
	if v, ok := registry.Get(store.KeyAppID); ok {
		tm.appID, _ = strconv.ParseInt(v, 10, 64)
	}
	tm.appToken, _ = registry.Get(store.KeyAppToken)

	for mode, keys := range slotKeys {
		tok := loadToken(registry, keys)
		slot := tm.slots[mode]
		slot.token = tok
		if tm.canRefresh(mode) || (tok != nil && tok.AccessToken != "") {
			slot.state = StateValid
		}
	}
	return tm
}

func loadToken(r store.Registry, keys registryKeys) *oauth2.Token {
	access, _ := r.Get(keys.access)
	refresh, _ := r.Get(keys.refresh)
	if access == "" && refresh == "" {
		return nil
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if exp, ok := r.Get(keys.expires); ok {
		tok.Expiry, _ = time.Parse(time.RFC3339, exp)
	}
	return tok
}

// Mode returns the configured lifecycle.
func (tm *TokenManager) Mode() Mode {
	return tm.config.Mode
}

// State returns the lifecycle state of mode.
func (tm *TokenManager) State(mode Mode) TokenState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.canRefresh(mode) && !tm.slots[mode].usable(time.Now()) {
		return StateUnset
	}
	return tm.slots[mode].state
}

// AccessToken returns a token for the configured mode, refreshing first when
// it is inside the proactive window.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	return tm.Token(ctx, tm.config.Mode)
}

// Token returns a valid access token for mode.
func (tm *TokenManager) Token(ctx context.Context, mode Mode) (string, error) {
	tm.mu.Lock()
	slot := tm.slots[mode]
	if slot.usable(time.Now()) {
		token := slot.token.AccessToken
		tm.mu.Unlock()
		return token, nil
	}
	if !tm.canRefresh(mode) {
		slot.state = StateUnset
		tm.mu.Unlock()
		return "", errors.Newf(errors.ErrorTypeAuthentication, "no %s token available, authorize the connection first", mode)
	}
	tm.mu.Unlock()

	v, err, _ := tm.group.Do(mode.String(), func() (interface{}, error) {
		return tm.refresh(ctx, mode)
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

// canRefresh must be called with mu held.
func (tm *TokenManager) canRefresh(mode Mode) bool {
	if mode == ModeApp {
		return tm.appID != 0 && tm.appToken != ""
	}
	tok := tm.slots[ModeUser].token
	return tok != nil && tok.RefreshToken != ""
}

func (tm *TokenManager) refresh(ctx context.Context, mode Mode) (*oauth2.Token, error) {
	tm.mu.Lock()
	slot := tm.slots[mode]
	if slot.usable(time.Now()) {
		tok := slot.token
		tm.mu.Unlock()
		return tok, nil
	}
	slot.state = StateRefreshing
	var current oauth2.Token
	if slot.token != nil {
		current = *slot.token
	}
	appID, appToken := tm.appID, tm.appToken
	tm.mu.Unlock()

	var (
		tok *oauth2.Token
		err error
	)
	if mode == ModeApp {
		tok, err = tm.appGrant(ctx, appID, appToken)
	} else {
		tok, err = tm.refreshGrant(ctx, current.RefreshToken)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if err != nil {
		slot.state = StateFailed
		tm.logger.Warn("token refresh failed", zap.Stringer("mode", mode), zap.Error(err))
		return nil, err
	}
	slot.token = tok
	slot.state = StateValid
	tm.logger.Debug("token refreshed", zap.Stringer("mode", mode), zap.Time("expires", tok.Expiry))

	if err := tm.persist(mode, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (tm *TokenManager) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     tm.config.ClientID,
		ClientSecret: tm.config.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tm.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (tm *TokenManager) refreshGrant(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)
	src := tm.oauthConfig(tm.config.RedirectURL).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "refresh token grant failed")
	}
	return tok, nil
}

type appTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// appGrant posts the app grant, which the oauth2 package does not model.
func (tm *TokenManager) appGrant(ctx context.Context, appID int64, appToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"app"},
		"app_id":        {strconv.FormatInt(appID, 10)},
		"app_token":     {appToken},
		"client_id":     {tm.config.ClientID},
		"redirect_uri":  {""},
		"client_secret": {tm.config.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "app token request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body map[string]interface{}
		_ = jsonpool.Decode(resp.Body, &body)
		return nil, errors.Newf(errors.ErrorTypeAuthentication, "app token grant failed with status %d", resp.StatusCode).
			WithDetail(errors.DetailStatus, resp.StatusCode).
			WithDetail("error", body["error_description"])
	}

	var tr appTokenResponse
	if err := jsonpool.Decode(resp.Body, &tr); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode token response")
	}
	if tr.AccessToken == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "token response carried no access token")
	}
	tok := &oauth2.Token{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, TokenType: tr.TokenType}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// ExchangeCode trades an authorization code for a user token and stores it.
func (tm *TokenManager) ExchangeCode(ctx context.Context, code, redirectURI string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)
	tok, err := tm.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "authorization code exchange failed")
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	slot := tm.slots[ModeUser]
	slot.token = tok
	slot.state = StateValid
	return tm.persist(ModeUser, tok)
}

// SetAppCredentials installs the app id and app token used for app grants and
// drops any cached app token so the next call refreshes.
func (tm *TokenManager) SetAppCredentials(appID int64, appToken string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.appID == appID && tm.appToken == appToken {
		return nil
	}
	tm.appID, tm.appToken = appID, appToken
	tm.slots[ModeApp].token = nil
	tm.slots[ModeApp].state = StateValid
	return store.SetAll(tm.registry, map[string]string{
		store.KeyAppID:    strconv.FormatInt(appID, 10),
		store.KeyAppToken: appToken,
	})
}

// persist must be called with mu held.
func (tm *TokenManager) persist(mode Mode, tok *oauth2.Token) error {
	keys := slotKeys[mode]
	values := map[string]string{
		keys.access:  tok.AccessToken,
		keys.refresh: tok.RefreshToken,
		keys.expires: tok.Expiry.UTC().Format(time.RFC3339),
	}
	if err := store.SetAll(tm.registry, values); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to persist token")
	}
	return nil
}
