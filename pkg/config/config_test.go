package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Equal(t, int64(defaultCacheCapacityBytes), cfg.Cache.CapacityBytes)
	require.Equal(t, defaultCacheMaxEntries, cfg.Cache.MaxEntries)
	require.Equal(t, "http", cfg.Origin.Kind)
	require.Equal(t, defaultOriginURLTemplate, cfg.Origin.URLTemplate)
	require.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CRATESCOPE_CACHE_CAPACITY_BYTES", "1024")
	t.Setenv("CRATESCOPE_LOG_LEVEL", "debug")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1024), cfg.Cache.CapacityBytes)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsUnknownOriginKind(t *testing.T) {
	t.Setenv("CRATESCOPE_ORIGIN_KIND", "ftp")
	_, err := Load("", nil)
	require.Error(t, err)
}

func TestLoad_S3OriginRequiresBucket(t *testing.T) {
	t.Setenv("CRATESCOPE_ORIGIN_KIND", "s3")
	_, err := Load("", nil)
	require.Error(t, err)
}

func TestLoad_S3RegionEnvOverride(t *testing.T) {
	t.Setenv("CRATESCOPE_ORIGIN_KIND", "s3")
	t.Setenv("CRATESCOPE_ORIGIN_S3_BUCKET", "crate-mirror")
	t.Setenv("CRATESCOPE_ORIGIN_S3_REGION", "us-west-2")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "us-west-2", cfg.Origin.S3Region)
}
