package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// envPrefix is prepended to every environment override.
const envPrefix = "ONAIR_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Feed        FeedConfig        `toml:"feed"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Engine      EngineConfig      `toml:"engine"`
	Schedule    ScheduleConfig    `toml:"schedule"`
	Storage     StorageConfig     `toml:"storage"`
	Export      ExportConfig      `toml:"export"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and where the OAuth token is kept.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	TokenPath    string `toml:"token_path"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings for the admin and status surface.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	AdminRateLimit int    `toml:"admin_rate_limit"` // requests per minute per client
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// FeedConfig describes the now-playing metadata source.
type FeedConfig struct {
	Station          string   `toml:"station"`
	ServiceID        string   `toml:"service_id"` // skips the brand lookup when set
	BrandsURL        string   `toml:"brands_url"`
	URL              string   `toml:"url"`
	ReadTimeout      Duration `toml:"read_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	MaxReads         int      `toml:"max_reads"`
}

// CatalogConfig describes the catalog client and the managed playlist.
type CatalogConfig struct {
	BaseURL           string   `toml:"base_url"`
	PlaylistID        string   `toml:"playlist_id"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	RetryAttempts     int      `toml:"retry_attempts"`
	RetryBase         Duration `toml:"retry_base"`
	RetryFactor       float64  `toml:"retry_factor"`
	MaxRateLimitWaits int      `toml:"max_rate_limit_waits"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerTimeout    Duration `toml:"breaker_timeout"`
	MinConfidence     float64  `toml:"min_confidence"`
}

// EngineConfig holds the bounds of the playlist window and retry queue.
type EngineConfig struct {
	MaxPlaylistSize int      `toml:"max_playlist_size"`
	MaxQueueSize    int      `toml:"max_queue_size"`
	MaxAttempts     int      `toml:"max_attempts"`
	RecentCapacity  int      `toml:"recent_capacity"`
	RetryEvery      int      `toml:"retry_every"`
	AuditPageSize   int      `toml:"audit_page_size"`
	ReaddDelay      Duration `toml:"readd_delay"`
	BatchDelay      Duration `toml:"batch_delay"`
}

// ScheduleConfig holds the active window and loop cadence.
type ScheduleConfig struct {
	Timezone        string   `toml:"timezone"`
	ActiveStartHour int      `toml:"active_start_hour"`
	ActiveEndHour   int      `toml:"active_end_hour"`
	ResetHour       int      `toml:"reset_hour"`
	CheckInterval   Duration `toml:"check_interval"`
	AuditInterval   Duration `toml:"audit_interval"`
	PausedBackoff   Duration `toml:"paused_backoff"`
	ErrorBackoff    Duration `toml:"error_backoff"`
}

// Location loads the configured timezone, falling back to local time when empty.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, s.Timezone, err)
	}
	return loc, nil
}

// StorageConfig points at the snapshot directory.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// ExportConfig controls daily exports.
type ExportConfig struct {
	Dir        string   `toml:"dir"`
	Formats    []string `toml:"formats"`
	OnRollover bool     `toml:"on_rollover"`
}

// Duration is a [time.Duration] that reads from TOML strings such as "90s".
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFiles loads .env style files into the process environment. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values with ONAIR_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"SPOTIFY_REDIRECT_URI":  &c.Credentials.Spotify.RedirectURI,
		"SPOTIFY_TOKEN_PATH":    &c.Credentials.Spotify.TokenPath,
		"PLAYLIST_ID":           &c.Catalog.PlaylistID,
		"STATION":               &c.Feed.Station,
		"FEED_SERVICE_ID":       &c.Feed.ServiceID,
		"LOG_LEVEL":             &c.Log.Level,
		"TIMEZONE":              &c.Schedule.Timezone,
		"STORAGE_DIR":           &c.Storage.Dir,
		"DATABASE_PATH":         &c.Database.Path,
		"SERVER_HOST":           &c.Server.Host,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":       &c.Server.Port,
		"MAX_PLAYLIST_SIZE": &c.Engine.MaxPlaylistSize,
		"ACTIVE_START_HOUR": &c.Schedule.ActiveStartHour,
		"ACTIVE_END_HOUR":   &c.Schedule.ActiveEndHour,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalidConfig, envPrefix, key, v)
		}
		*dst = n
	}
	return nil
}

// Validate reports the first configuration problem that would stop the engine.
func (c *Config) Validate() error {
	var problems []string

	if c.Catalog.PlaylistID == "" {
		problems = append(problems, "catalog.playlist_id is required")
	}
	if c.Feed.Station == "" && c.Feed.ServiceID == "" {
		problems = append(problems, "feed.station or feed.service_id is required")
	}
	if c.Engine.MaxPlaylistSize <= 0 {
		problems = append(problems, "engine.max_playlist_size must be positive")
	}
	if c.Engine.MaxQueueSize <= 0 {
		problems = append(problems, "engine.max_queue_size must be positive")
	}
	if c.Engine.MaxAttempts <= 0 {
		problems = append(problems, "engine.max_attempts must be positive")
	}
	if c.Engine.RecentCapacity <= 0 {
		problems = append(problems, "engine.recent_capacity must be positive")
	}
	for _, h := range []struct {
		name string
		v    int
	}{
		{"active_start_hour", c.Schedule.ActiveStartHour},
		{"active_end_hour", c.Schedule.ActiveEndHour},
		{"reset_hour", c.Schedule.ResetHour},
	} {
		if h.v < 0 || h.v > 23 {
			problems = append(problems, fmt.Sprintf("schedule.%s must be within 0..23", h.name))
		}
	}
	if c.Schedule.CheckInterval.Duration <= 0 {
		problems = append(problems, "schedule.check_interval must be positive")
	}
	if _, err := c.Schedule.Location(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
