package config

import (
	"strings"

	"github.com/ajitpratap0/podsync/pkg/errors"
)

// Default remote endpoints.
const (
	DefaultAPIBaseURL = "https://api.podio.com/"
	DefaultTokenURL   = "https://podio.com/oauth/token"

	// MaxPageSize is the largest page the item filter endpoint accepts.
	MaxPageSize = 500
)

// Time handling modes for date columns.
const (
	TimeHandlingUTC   = "utc"
	TimeHandlingLocal = "local"
)

// PodioConfig configures every podio connector. Item connectors need an app,
// member and contact connectors need a space.
type PodioConfig struct {
	BaseConfig `yaml:",inline" json:",inline"`

	APIBaseURL string `yaml:"api_base_url" json:"api_base_url" validate:"omitempty,url"`
	TokenURL   string `yaml:"token_url" json:"token_url" validate:"omitempty,url"`

	// App is a path ("org/space/app"), a bare app name in SpaceID, or "name|id".
	App     string `yaml:"app" json:"app"`
	AppID   int    `yaml:"app_id" json:"app_id" validate:"gte=0"`
	SpaceID int    `yaml:"space_id" json:"space_id" validate:"gte=0"`
	ViewID  int    `yaml:"view_id" json:"view_id" validate:"gte=0"`

	// Silent suppresses notifications and activity stream entries on writes.
	Silent bool `yaml:"silent" json:"silent"`
	// TimeHandling selects whether timed dates are returned in UTC or local time.
	TimeHandling string `yaml:"time_handling" json:"time_handling" validate:"omitempty,oneof=utc local"`
	// RawJSON reads whole item documents instead of flattened columns.
	RawJSON bool `yaml:"raw_json" json:"raw_json"`

	MemberRole    string `yaml:"member_role" json:"member_role" validate:"omitempty,oneof=light regular admin"`
	MemberMessage string `yaml:"member_message" json:"member_message"`

	// RegistryPath points at the bbolt file holding tokens; empty keeps them in memory.
	RegistryPath string `yaml:"registry_path" json:"registry_path"`
	// RegistryKey names the connection inside the registry.
	RegistryKey string `yaml:"registry_key" json:"registry_key"`
}

// NewPodioConfig returns a PodioConfig with defaults applied.
func NewPodioConfig(name, connectorType string) *PodioConfig {
	return &PodioConfig{
		BaseConfig:   *NewBaseConfig(name, connectorType),
		APIBaseURL:   DefaultAPIBaseURL,
		TokenURL:     DefaultTokenURL,
		TimeHandling: TimeHandlingUTC,
		MemberRole:   "light",
		RegistryKey:  "default",
	}
}

// ApplyDefaults fills empty settings after a file load.
func (c *PodioConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "podio"
	}
	if c.Type == "" {
		c.Type = "podio-items"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if !strings.HasSuffix(c.APIBaseURL, "/") {
		c.APIBaseURL += "/"
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.TimeHandling == "" {
		c.TimeHandling = TimeHandlingUTC
	}
	if c.MemberRole == "" {
		c.MemberRole = "light"
	}
	c.MemberRole = strings.ToLower(c.MemberRole)
	if c.RegistryKey == "" {
		c.RegistryKey = "default"
	}
	if c.Performance.BatchSize == 0 {
		c.Performance.BatchSize = 250
	}
	if c.Security.AuthType == "" {
		c.Security.AuthType = "user"
	}
	if c.Security.Credentials == nil {
		c.Security.Credentials = make(map[string]string)
	}
}

// Validate runs the struct tag rules and the cross-field checks.
func (c *PodioConfig) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return err
	}
	if err := c.BaseConfig.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid base configuration")
	}
	if c.Performance.BatchSize > MaxPageSize {
		return errors.Newf(errors.ErrorTypeConfig, "batch_size %d exceeds the server limit of %d", c.Performance.BatchSize, MaxPageSize)
	}
	if c.Security.AuthType == "app" && c.AppID == 0 && c.App == "" {
		return errors.New(errors.ErrorTypeConfig, "app authentication requires app_id or app")
	}
	return nil
}

// LocalTime reports whether timed dates should be converted to local time.
func (c *PodioConfig) LocalTime() bool {
	return strings.EqualFold(c.TimeHandling, TimeHandlingLocal)
}
