package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/bartermate/internal/localstore"
	"github.com/starford/bartermate/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Realtime drivers.
const (
	RealtimeChangeStream = "changestream"
	RealtimeNATS         = "nats"
	RealtimeDisabled     = "disabled"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Auth     AuthConfig        `yaml:"auth"`
	Local    LocalConfig       `yaml:"local"`
	Remote   RemoteConfig      `yaml:"remote"`
	Realtime RealtimeConfig    `yaml:"realtime"`
	Blob     BlobConfig        `yaml:"blob"`
	Cache    CacheConfig       `yaml:"cache"`
	Network  NetworkConfig     `yaml:"network"`
	Sync     SyncConfig        `yaml:"sync"`
	Session  SessionConfig     `yaml:"session"`
	Geo      GeoConfig         `yaml:"geo"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"auth", &c.Auth},
		{"local", &c.Local},
		{"remote", &c.Remote},
		{"realtime", &c.Realtime},
		{"blob", &c.Blob},
		{"cache", &c.Cache},
		{"network", &c.Network},
		{"sync", &c.Sync},
		{"geo", &c.Geo},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration for the local API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// LocalConfig selects the on-device key-value store.
type LocalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// DataDir holds images attached through the API before they are uploaded.
	DataDir string `yaml:"data_dir"`
}

// Validate validates the local store configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(localstore.DriverSQLite, localstore.DriverFS)),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.DataDir, validation.Required),
	)
}

// RemoteConfig points at the MongoDB deployment holding listings and users.
type RemoteConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URI, validation.Required),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.ConnectTimeout, validation.Required),
	)
}

// RealtimeConfig selects the source of inserted-listing events.
type RealtimeConfig struct {
	Driver  string `yaml:"driver"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Validate validates the realtime configuration.
func (c *RealtimeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(RealtimeChangeStream, RealtimeNATS, RealtimeDisabled)),
		validation.Field(&c.NATSURL, validation.When(c.Driver == RealtimeNATS, validation.Required)),
		validation.Field(&c.Subject, validation.When(c.Driver == RealtimeNATS, validation.Required)),
	)
}

// BlobConfig configures image storage. An empty endpoint disables uploads;
// listings are then submitted without their local image.
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	PublicURL string `yaml:"public_url"`
}

// Enabled reports whether an endpoint is configured.
func (c *BlobConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AccessKey, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.SecretKey, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.Bucket, validation.When(c.Enabled(), validation.Required, validation.Length(3, 63))),
		validation.Field(&c.PublicURL, is.URL),
	)
}

// CacheConfig configures the Redis owner-summary cache. An empty address
// disables it.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	OwnerTTL time.Duration `yaml:"owner_ttl"`
}

// Enabled reports whether an address is configured.
func (c *CacheConfig) Enabled() bool {
	return c.Addr != ""
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.OwnerTTL, validation.When(c.Enabled(), validation.Required)),
	)
}

// NetworkConfig configures connectivity probing.
type NetworkConfig struct {
	ProbeURL     string        `yaml:"probe_url"`
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	WatchPaths   []string      `yaml:"watch_paths"`
}

// Validate validates the network configuration.
func (c *NetworkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ProbeURL, validation.Required, is.URL),
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ProbeTimeout, validation.Required),
	)
}

// SyncConfig configures draft persistence and reconciliation.
type SyncConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// SessionConfig provides the startup identity. Token wins over TokenFile.
// Both may be empty; the user then signs in through the API.
type SessionConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// GeoConfig is the device position used for distance ordering. Enabled
// false means the position is unknown.
type GeoConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Validate validates the geo configuration.
func (c *GeoConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.Coordinate().Validate()
}

// Coordinate returns the configured position, or nil when disabled.
func (c *GeoConfig) Coordinate() *models.Coordinate {
	if !c.Enabled {
		return nil
	}
	return &models.Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Local: LocalConfig{
			Driver:  localstore.DriverSQLite,
			Path:    "./bartermate.db",
			DataDir: "./data",
		},
		Remote: RemoteConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "bartermate",
			ConnectTimeout: 10 * time.Second,
		},
		Realtime: RealtimeConfig{
			Driver:  RealtimeChangeStream,
			Subject: "bartermate.listings.changes",
		},
		Blob: BlobConfig{
			Bucket: "listing-images",
		},
		Cache: CacheConfig{
			OwnerTTL: 10 * time.Minute,
		},
		Network: NetworkConfig{
			ProbeURL:     "https://clients3.google.com/generate_204",
			Interval:     5 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Sync: SyncConfig{
			Timeout:  30 * time.Second,
			Debounce: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
