// Package config loads cratescope's process configuration via viper,
// layering flags over environment variables (prefix CRATESCOPE_) over an
// optional config file, the same precedence pattern the teacher's pack
// siblings use around their own config loaders (spec SPEC_FULL.md §6a).
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is cratescope's full process configuration.
type Config struct {
	Cache   CacheConfig
	Archive ArchiveConfig
	Origin  OriginConfig
	HTTP    HTTPConfig
	Indexer IndexerConfig
	Log     LogConfig
}

type CacheConfig struct {
	CapacityBytes int64
	MaxEntries    int
}

type ArchiveConfig struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
}

// OriginConfig selects where tarballs are fetched from. S3ForcePathStyle
// is loaded but not passed to the S3 backend; the backend uses path-style
// addressing exactly when S3Endpoint is set.
type OriginConfig struct {
	Kind             string // "http" | "s3"
	URLTemplate      string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3ForcePathStyle bool
}

type HTTPConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

type IndexerConfig struct {
	Concurrency int
}

type LogConfig struct {
	Level string
}

const envPrefix = "CRATESCOPE"

// Defaults, per SPEC_FULL.md §6a.
const (
	defaultCacheCapacityBytes = 512 << 20 // 512 MiB
	defaultCacheMaxEntries    = 128
	defaultMaxEntryBytes      = 64 << 20  // 64 MiB
	defaultMaxTotalBytes      = 256 << 20 // 256 MiB
	defaultOriginURLTemplate  = "https://static.crates.io/crates/{name}/{name}-{version}.crate"
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPMaxRetries     = 3
	defaultLogLevel           = "info"
)

// Load builds a Config from flags (if provided), environment variables
// prefixed CRATESCOPE_, and an optional config file at configFile (empty
// skips file loading). flags may be nil, in which case only env/defaults
// apply -- useful for tests and library embedding.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("cache.capacity_bytes", defaultCacheCapacityBytes)
	v.SetDefault("cache.max_entries", defaultCacheMaxEntries)
	v.SetDefault("archive.max_entry_bytes", defaultMaxEntryBytes)
	v.SetDefault("archive.max_total_bytes", defaultMaxTotalBytes)
	v.SetDefault("origin.kind", "http")
	v.SetDefault("origin.url_template", defaultOriginURLTemplate)
	v.SetDefault("origin.s3_force_path_style", false)
	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.max_retries", defaultHTTPMaxRetries)
	v.SetDefault("indexer.concurrency", runtime.GOMAXPROCS(0))
	v.SetDefault("log.level", defaultLogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Cache: CacheConfig{
			CapacityBytes: v.GetInt64("cache.capacity_bytes"),
			MaxEntries:    v.GetInt("cache.max_entries"),
		},
		Archive: ArchiveConfig{
			MaxEntryBytes: v.GetInt64("archive.max_entry_bytes"),
			MaxTotalBytes: v.GetInt64("archive.max_total_bytes"),
		},
		Origin: OriginConfig{
			Kind:             v.GetString("origin.kind"),
			URLTemplate:      v.GetString("origin.url_template"),
			S3Bucket:         v.GetString("origin.s3_bucket"),
			S3Region:         v.GetString("origin.s3_region"),
			S3Endpoint:       v.GetString("origin.s3_endpoint"),
			S3ForcePathStyle: v.GetBool("origin.s3_force_path_style"),
		},
		HTTP: HTTPConfig{
			Timeout:    v.GetDuration("http.timeout"),
			MaxRetries: v.GetInt("http.max_retries"),
		},
		Indexer: IndexerConfig{
			Concurrency: v.GetInt("indexer.concurrency"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Origin.Kind != "http" && c.Origin.Kind != "s3" {
		return fmt.Errorf("origin.kind must be \"http\" or \"s3\", got %q", c.Origin.Kind)
	}
	if c.Origin.Kind == "s3" && c.Origin.S3Bucket == "" {
		return fmt.Errorf("origin.s3_bucket is required when origin.kind is \"s3\"")
	}
	if c.Cache.CapacityBytes <= 0 {
		return fmt.Errorf("cache.capacity_bytes must be positive")
	}
	return nil
}
