package main

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/config"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/logger"
	"github.com/ajitpratap0/podsync/pkg/observability"
	"github.com/ajitpratap0/podsync/pkg/store"
)

// cli holds the settings shared by every command.
type cli struct {
	v     *viper.Viper
	runID string
	log   *zap.Logger

	stopTracing func(context.Context) error
}

func newCLI() *cli {
	v := viper.New()
	v.SetEnvPrefix("PODSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &cli{v: v}
}

func (c *cli) bindPersistentFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.String("config", "", "Path to a YAML connection file")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-file", "", "Also write JSON logs to this rotating file")
	f.String("trace", "", `Write API call spans to this file ("-" for stderr)`)
	f.String("registry", "", "bbolt file holding tokens between runs (default: in memory)")
	f.String("auth-type", "", "Token lifecycle: user or app")
	f.String("client-id", "", "OAuth client id")
	f.String("client-secret", "", "OAuth client secret")
	f.String("access-token", "", "User access token")
	f.String("refresh-token", "", "User refresh token")
	f.String("app-token", "", "App token for app authentication")
	f.String("app", "", `App path ("org/space/app", "name" or "name|id")`)
	f.Int("app-id", 0, "App id")
	f.Int("space-id", 0, "Space id")
	f.Int("view-id", 0, "View id filtering item reads")
	f.Int("batch-size", 0, "Page size for list requests")
	f.Bool("raw-json", false, "Read whole item documents instead of columns")
	f.Bool("silent", false, "Suppress notifications on writes")
	f.Bool("fail-fast", true, "Stop a write batch at the first failed record")
	f.String("time-handling", "", "Timed dates in utc or local time")
	_ = c.v.BindPFlags(f)
}

// setup initializes logging and the run id before any command runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg := logger.Config{Level: "info", Encoding: "console"}
	if lvl := c.v.GetString("log-level"); lvl != "" {
		cfg.Level = lvl
	}
	if file := c.v.GetString("log-file"); file != "" {
		cfg.File = logger.FileConfig{Filename: file, MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28, Compress: true}
	}
	if err := logger.Init(cfg); err != nil {
		return err
	}

	if dst := c.v.GetString("trace"); dst != "" {
		if err := c.startTracing(dst); err != nil {
			return err
		}
	}

	c.runID = uuid.NewString()
	ctx := logger.ContextWithRunID(cmd.Context(), c.runID)
	cmd.SetContext(ctx)
	c.log = logger.WithContext(ctx).With(zap.String("command", cmd.Name()))
	return nil
}

func (c *cli) startTracing(dst string) error {
	cfg := observability.DefaultTracingConfig()
	cfg.ServiceVersion = version
	if dst != "-" {
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to open trace file")
		}
		cfg.Output = f
	}
	shutdown, err := observability.InitTracing(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to start tracing")
	}
	c.stopTracing = shutdown
	return nil
}

// teardown flushes pending spans.
func (c *cli) teardown(cmd *cobra.Command, _ []string) error {
	if c.stopTracing == nil {
		return nil
	}
	stop := c.stopTracing
	c.stopTracing = nil
	return stop(context.WithoutCancel(cmd.Context()))
}

// config builds the connector configuration for connectorType from the
// config file, then environment and flags.
func (c *cli) config(connectorType string) (*config.PodioConfig, error) {
	var (
		cfg *config.PodioConfig
		err error
	)
	if path := c.v.GetString("config"); path != "" {
		cfg, err = config.LoadPodio(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewPodioConfig("podsync", connectorType)
	}
	cfg.Type = connectorType

	v := c.v
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) != 0 {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("registry", &cfg.RegistryPath)
	setString("auth-type", &cfg.Security.AuthType)
	setString("app", &cfg.App)
	setString("time-handling", &cfg.TimeHandling)
	setString("log-level", &cfg.Observability.LogLevel)
	setInt("app-id", &cfg.AppID)
	setInt("space-id", &cfg.SpaceID)
	setInt("view-id", &cfg.ViewID)
	setInt("batch-size", &cfg.Performance.BatchSize)
	setBool("raw-json", &cfg.RawJSON)
	setBool("silent", &cfg.Silent)
	setBool("fail-fast", &cfg.Reliability.FailFast)

	if cfg.Security.Credentials == nil {
		cfg.Security.Credentials = make(map[string]string)
	}
	for flag, key := range map[string]string{
		"client-id":     store.KeyClientID,
		"client-secret": store.KeyClientSecret,
		"access-token":  store.KeyAccessToken,
		"refresh-token": store.KeyRefreshToken,
		"app-token":     store.KeyAppToken,
	} {
		if s := v.GetString(flag); s != "" {
			cfg.Security.Credentials[key] = s
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connect opens a bare API connection for directory commands.
func (c *cli) connect(ctx context.Context) (*podioconn.Connection, error) {
	cfg, err := c.config("podio-items")
	if err != nil {
		return nil, err
	}
	return podioconn.Open(ctx, cfg, c.log)
}

func requireFlag(name string, value int64) error {
	if value == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "--%s is required", name)
	}
	return nil
}
