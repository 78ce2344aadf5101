// Package config loads datagrid settings from defaults, an optional config
// file and DATAGRID_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides: DATAGRID_SERVER_ADDR sets server.addr.
const EnvPrefix = "DATAGRID"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Parse   ParseConfig   `mapstructure:"parse"`
	Source  SourceConfig  `mapstructure:"source"`
	Query   QueryConfig   `mapstructure:"query"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Export  ExportConfig  `mapstructure:"export"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ParseConfig struct {
	RecordPath      string `mapstructure:"record_path"`
	CollectRepeated bool   `mapstructure:"collect_repeated"`
	JSONLines       bool   `mapstructure:"json_lines"`
	MaxDepth        int    `mapstructure:"max_depth"`
}

type SourceConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HTMLSelector string        `mapstructure:"html_selector"`
	InsecureTLS  bool          `mapstructure:"insecure_tls"`
	S3           S3Config      `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

type QueryConfig struct {
	Locale string `mapstructure:"locale"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Burst         int           `mapstructure:"burst"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	AllowSources  bool          `mapstructure:"allow_sources"`
}

type MetricsConfig struct {
	Backend    string        `mapstructure:"backend"`
	Tags       string        `mapstructure:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

type ExportConfig struct {
	Backend   string `mapstructure:"backend"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`

	// KeepDuplicates disables row_hash dedupe; every export appends all rows.
	KeepDuplicates bool `mapstructure:"keep_duplicates"`
}

// defaults are registered on every load; registering a key is also what lets
// an environment variable override it during Unmarshal.
var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"parse.record_path":      "",
	"parse.collect_repeated": true,
	"parse.json_lines":       false,
	"parse.max_depth":        512,

	"source.max_bytes":     int64(32 << 20),
	"source.timeout":       30 * time.Second,
	"source.html_selector": `script[type="application/json"], script[type="application/ld+json"], pre`,
	"source.insecure_tls":  false,
	"source.s3.endpoint":   "",
	"source.s3.access_key": "",
	"source.s3.secret_key": "",
	"source.s3.use_ssl":    true,
	"source.s3.region":     "",

	"query.locale": "",

	"server.addr":            ":8080",
	"server.rate_per_minute": 120,
	"server.burst":           20,
	"server.read_timeout":    15 * time.Second,
	"server.max_body_bytes":  int64(32 << 20),
	"server.allow_sources":   false,

	"metrics.backend":     "none",
	"metrics.tags":        "",
	"metrics.flush_every": 60 * time.Second,

	"export.backend":         "sqlite",
	"export.dsn":             "",
	"export.table":           "datagrid_rows",
	"export.batch_size":      512,
	"export.keep_duplicates": false,
}

// Default returns the configuration with no file and no environment applied.
func Default() Config {
	var c Config
	if err := decode(viper.New(), &c); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(err)
	}
	return c
}

// Load reads path (yaml, json or toml by extension; empty means none) and
// the environment on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) {
				return Config{}, fmt.Errorf("config file %q not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var c Config
	if err := decode(v, &c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func decode(v *viper.Viper, target *Config) error {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Source.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("source.max_bytes must be > 0"))
	}
	if c.Parse.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("parse.max_depth must be >= 0"))
	}
	switch strings.ToLower(c.Metrics.Backend) {
	case "", "none", "datadog":
	default:
		errs = append(errs, fmt.Errorf("metrics.backend %q: want none or datadog", c.Metrics.Backend))
	}
	if c.Server.RatePerMinute < 0 || c.Server.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_per_minute and server.burst must be >= 0"))
	}
	if c.Export.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("export.batch_size must be > 0"))
	}
	return errors.Join(errs...)
}
