// Package podioconn opens the authenticated API connection shared by the
// podio source and destination connectors.
package podioconn

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/podio"
	"github.com/ajitpratap0/podsync/pkg/store"
)

// Version is reported in the User-Agent header. The CLI overrides it at
// startup.
var Version = "dev"

// Connection bundles the clients of one configured connection.
type Connection struct {
	Config    *config.PodioConfig
	HTTP      *clients.HTTPClient
	API       *clients.APIClient
	Tokens    *clients.TokenManager
	Rates     *clients.RateLimitTracker
	Registry  store.Registry
	Directory *podio.Directory

	closer io.Closer
	logger *zap.Logger
}

// HTTPConfig derives the transport settings from cfg.
func HTTPConfig(cfg *config.PodioConfig) *clients.HTTPConfig {
	hc := clients.DefaultHTTPConfig()
	hc.RequestTimeout = cfg.Timeouts.Request
	if cfg.Timeouts.Connection > 0 {
		hc.DialTimeout = cfg.Timeouts.Connection
	}
	if cfg.Timeouts.Idle > 0 {
		hc.IdleConnTimeout = cfg.Timeouts.Idle
	}
	if cfg.Reliability.IsRateLimited() {
		hc.RateLimit = float64(cfg.Reliability.RateLimitPerSec)
		hc.RateBurst = cfg.Reliability.RateLimitPerSec
	}
	return hc
}

// OpenRegistry opens the bbolt registry at cfg.RegistryPath, or an in-memory
// one when no path is set. Configured credentials are written into it so
// that they take precedence over stored values.
func OpenRegistry(cfg *config.PodioConfig) (store.Registry, io.Closer, error) {
	var (
		reg    store.Registry
		closer io.Closer
	)
	if cfg.RegistryPath != "" {
		bolt, err := store.OpenBolt(cfg.RegistryPath, cfg.RegistryKey)
		if err != nil {
			return nil, nil, err
		}
		reg, closer = bolt, bolt
	} else {
		reg = store.NewMemoryRegistry(nil)
	}

	seed := make(map[string]string, len(cfg.Security.Credentials))
	for k, v := range cfg.Security.Credentials {
		if v != "" {
			seed[k] = v
		}
	}
	if err := store.SetAll(reg, seed); err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to seed registry")
	}
	return reg, closer, nil
}

// Open builds the registry, token manager and API client described by cfg.
// No request is sent.
func Open(ctx context.Context, cfg *config.PodioConfig, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, closer, err := OpenRegistry(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewHTTPClient(HTTPConfig(cfg), logger)
	tokens := clients.NewTokenManager(clients.OAuth2Config{
		ClientID:     cfg.Security.Credential(store.KeyClientID),
		ClientSecret: cfg.Security.Credential(store.KeyClientSecret),
		TokenURL:     cfg.TokenURL,
		Mode:         clients.ParseMode(cfg.Security.AuthType),
	}, reg, httpClient.Client(), logger)

	rates := clients.NewRateLimitTracker(cfg.RegistryKey)
	api, err := clients.NewAPIClient(cfg.APIBaseURL, httpClient, tokens, rates, clients.UserAgent(Version), logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	c := &Connection{
		Config:    cfg,
		HTTP:      httpClient,
		API:       api,
		Tokens:    tokens,
		Rates:     rates,
		Registry:  reg,
		Directory: podio.NewDirectory(api, logger),
		closer:    closer,
		logger:    logger,
	}

	if tokens.Mode() == clients.ModeApp && cfg.AppID > 0 {
		if appToken := cfg.Security.Credential(store.KeyAppToken); appToken != "" {
			if err := tokens.SetAppCredentials(int64(cfg.AppID), appToken); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
	}

	logger.Debug("connection opened",
		zap.String("api", cfg.APIBaseURL),
		zap.String("mode", tokens.Mode().String()),
		zap.Bool("persistent_registry", closer != nil))
	return c, nil
}

// ResolveApp returns the configured app id. When only an app path is
// configured it is resolved through the directory.
func (c *Connection) ResolveApp(ctx context.Context) (int64, error) {
	if c.Config.AppID > 0 {
		return int64(c.Config.AppID), nil
	}
	if c.Config.App == "" {
		return 0, errors.New(errors.ErrorTypeConfig, "no app configured: set app_id or app")
	}
	id, err := c.Directory.ResolveAppID(ctx, int64(c.Config.SpaceID), c.Config.App)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("app resolved", zap.String("app", c.Config.App), zap.Int64("app_id", id))
	return id, nil
}

// LearnApp records the app token of a fetched definition so that later
// app-mode runs can authenticate as the app.
func (c *Connection) LearnApp(def *podio.AppDefinition) error {
	if def == nil || def.AppToken == "" {
		return nil
	}
	if cur, ok := c.Registry.Get(store.KeyAppID); ok && cur == strconv.FormatInt(def.AppID, 10) {
		if tok, _ := c.Registry.Get(store.KeyAppToken); tok == def.AppToken {
			return nil
		}
	}
	return c.Tokens.SetAppCredentials(def.AppID, def.AppToken)
}

// SpaceConfig derives the member and contact settings from the connection.
func (c *Connection) SpaceConfig() podio.SpaceConfig {
	return podio.SpaceConfig{
		SpaceID:  int64(c.Config.SpaceID),
		PageSize: c.Config.Performance.BatchSize,
		Silent:   c.Config.Silent,
		FailFast: c.Config.Reliability.FailFast,
		Role:     c.Config.MemberRole,
		Message:  c.Config.MemberMessage,
	}
}

// ReaderConfig derives the item reader settings for appID.
func (c *Connection) ReaderConfig(appID int64) podio.ReaderConfig {
	rc := podio.ReaderConfig{
		AppID:          appID,
		ViewID:         int64(c.Config.ViewID),
		PageSize:       c.Config.Performance.BatchSize,
		MaxConcurrency: c.Config.Performance.GetMaxConcurrency(),
		RawJSON:        c.Config.RawJSON,
	}
	if c.Config.LocalTime() {
		rc.Local = time.Local
	}
	return rc
}

// WriterConfig derives the item writer settings for appID.
func (c *Connection) WriterConfig(appID int64) podio.WriterConfig {
	wc := podio.WriterConfig{
		AppID:    appID,
		Silent:   c.Config.Silent,
		FailFast: c.Config.Reliability.FailFast,
	}
	if c.Config.LocalTime() {
		wc.Local = time.Local
	}
	return wc
}

// Close releases the transport and the registry file.
func (c *Connection) Close() error {
	if c.HTTP != nil {
		_ = c.HTTP.Close()
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Schema converts a column catalog into the connector schema.
func Schema(name string, catalog *podio.SchemaCatalog) *core.Schema {
	s := &core.Schema{
		Name:        name,
		Description: catalog.Identity(),
		Version:     1,
		CreatedAt:   time.Now(),
		Fields:      make([]core.Field, 0, catalog.Len()),
	}
	for _, col := range catalog.Columns() {
		s.Fields = append(s.Fields, core.Field{
			Name:        col.Key,
			DisplayName: col.DisplayName,
			Type:        core.FieldType(col.DeclaredType.String()),
			NativeType:  strings.ToLower(col.NativeType.String()),
			Nullable:    col.Nullable,
			Primary:     col.IsRoot && col.Unique,
			Unique:      col.Unique,
			ReadOnly:    col.ReadOnly,
			Multi:       col.IsMultiValue,
		})
	}
	return s
}

// Changes converts change events into podio changes.
func Changes(events []*core.ChangeEvent) []podio.Change {
	out := make([]podio.Change, len(events))
	for i, ev := range events {
		out[i] = podio.Change{ID: ev.ID, Row: podio.Row(ev.After), Unchanged: podio.Row(ev.Before)}
	}
	return out
}
