// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

func init() {
	// Report validation failures with the TOML key names users actually write.
	validation.ErrorTag = "toml"
}

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tote/config.toml",
	"configs/config.toml",
}

// routedPrefixes are claimed by the relay routers; the metrics path may not shadow them.
var routedPrefixes = []string{
	"/healthz", "/statusz",
	"/stocks", "/proxy",
	"/test", "/get_all_stocks", "/get_stock", "/archive",
}

// Archive drivers.
const (
	ArchiveMemory   = "memory"
	ArchivePostgres = "postgres"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	ArchiveDSN string `kong:"name='archive-dsn',help='Postgres DSN for the stock archive; selects the postgres driver.',env='ARCHIVE_DSN'"`
}

// Config is the top-level application configuration. It is built once at
// startup and treated as read-only afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Exchange ExchangeConfig `toml:"exchange"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	CORS     CORSConfig     `toml:"cors"`
	Stocks   StocksConfig   `toml:"stocks"`
	Archive  ArchiveConfig  `toml:"archive"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8787)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// ExchangeConfig describes the fixed upstream of the stock relay.
type ExchangeConfig struct {
	BaseURL     string `toml:"base_url"`
	SpoofOrigin string `toml:"spoof_origin"` // sent as both Origin and Referer
}

// UpstreamConfig holds outbound connection settings shared by every relay.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// RelayConfig restricts the caller-directed relay. An empty host list allows any host.
type RelayConfig struct {
	AllowedHosts []string `toml:"allowed_hosts"`
}

// CORSConfig is the header table used for preflight answers.
type CORSConfig struct {
	AllowOrigin   string `toml:"allow_origin"`
	AllowMethods  string `toml:"allow_methods"`
	MaxAgeSeconds int    `toml:"max_age_seconds"`
	Allow         string `toml:"allow"`
}

// StocksConfig configures the operations behind the worker's dispatcher.
type StocksConfig struct {
	TestURL string `toml:"test_url"`
}

// ArchiveConfig selects where archived stock snapshots are kept.
type ArchiveConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoadDotenv exports variables from .env.local and .env in the working
// directory, if present. Variables already set in the environment win, so it
// must run before the CLI is parsed for its env fallbacks to see them.
func LoadDotenv() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tote/config.toml then configs/config.toml. Finding neither is not an
// error: every setting has a built-in default.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.ArchiveDSN != "" {
		c.Archive.Driver = ArchivePostgres
		c.Archive.DSN = cli.ArchiveDSN
	}
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Archive.Driver = strings.ToLower(c.Archive.Driver)
}

// Validate checks every section. Zero values are accepted because they are
// replaced by defaults afterwards.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Exchange),
		validation.Field(&c.Upstream),
		validation.Field(&c.Relay),
		validation.Field(&c.CORS),
		validation.Field(&c.Stocks),
		validation.Field(&c.Archive),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics),
	)
}

// Validate checks the port range and body limit.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.BodyMaxBytes, validation.Min(int64(0))),
	)
}

// Validate requires absolute http(s) URLs when set.
func (e ExchangeConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.BaseURL, validation.By(httpURL)),
		validation.Field(&e.SpoofOrigin, validation.By(httpURL)),
	)
}

// Validate rejects negative timeouts and pool sizes.
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.TimeoutSeconds, validation.Min(0)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// Validate requires every allowed host to be a valid host name or IP.
func (r RelayConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AllowedHosts, validation.Each(validation.Required, is.Host)),
	)
}

// Validate rejects a negative max age.
func (c CORSConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxAgeSeconds, validation.Min(0)),
	)
}

// Validate requires an absolute http(s) test URL when set.
func (s StocksConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TestURL, validation.By(httpURL)),
	)
}

// Validate checks the driver and requires a DSN for postgres.
func (a ArchiveConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Driver, validation.In(ArchiveMemory, ArchivePostgres)),
		validation.Field(&a.DSN, validation.When(a.Driver == ArchivePostgres, validation.Required)),
	)
}

// Validate checks level and format names.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "text")),
	)
}

var absolutePath = regexp.MustCompile(`^/`)

// Validate checks the path only when metrics are enabled.
func (m MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path,
			validation.Match(absolutePath).Error("must start with '/'"),
			validation.By(unroutedPath),
		),
	)
}

// httpURL accepts an empty string or an absolute http(s) URL.
func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http or https URL")
	}
	return nil
}

// unroutedPath rejects paths that a relay router would also claim.
func unroutedPath(value interface{}) error {
	p, _ := value.(string)
	for _, prefix := range routedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return fmt.Errorf("conflicts with routed prefix %q", prefix)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with the relays' fixed constants.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://www.pse.com.ph/stockMarket/"
	}
	if c.Exchange.SpoofOrigin == "" {
		c.Exchange.SpoofOrigin = "http://www.pse.com.ph/stockMarket/home.html"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = "*"
	}
	if c.CORS.AllowMethods == "" {
		c.CORS.AllowMethods = "GET,HEAD,POST,OPTIONS"
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 86400
	}
	if c.CORS.Allow == "" {
		c.CORS.Allow = "GET, HEAD, POST, OPTIONS"
	}
	if c.Stocks.TestURL == "" {
		c.Stocks.TestURL = "https://httpbin.org/get"
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = ArchiveMemory
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The archive DSN may carry database credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && c.Archive.DSN != "" {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
