// Package commands implements cratescopectl's cobra subcommands. Each
// subcommand builds its own Facade from the shared configuration and
// cache, exercising the same call surface the (out-of-scope) HTTP
// collaborator would.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/cache"
	"github.com/cratescope/cratescope/pkg/config"
	"github.com/cratescope/cratescope/pkg/facade"
	"github.com/cratescope/cratescope/pkg/registry"
)

// GlobalFlags are bound to the root command and shared by every subcommand.
type GlobalFlags struct {
	ConfigFile string
	Name       string
	Version    string
}

var Flags = &GlobalFlags{}

// RootCmd is the cratescopectl entry point.
var RootCmd = &cobra.Command{
	Use:   "cratescopectl",
	Short: "Operator CLI for exploring a cached crate's decompressed source tree",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&Flags.ConfigFile, "config", "c", "", "path to a YAML/TOML config file")
	RootCmd.PersistentFlags().StringVarP(&Flags.Name, "name", "n", "", "crate name")
	RootCmd.PersistentFlags().StringVarP(&Flags.Version, "crate-version", "V", "", "crate semver version")
	RootCmd.MarkPersistentFlagRequired("name")
	RootCmd.MarkPersistentFlagRequired("crate-version")
}

// buildFacade loads configuration and wires a Facade backed by a fresh
// in-process cache -- each CLI invocation is its own short-lived process,
// so there is no warm cache to reuse across calls.
func buildFacade() (*facade.Facade, error) {
	cfg, err := config.Load(Flags.ConfigFile, nil)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	var backend registry.Backend
	switch cfg.Origin.Kind {
	case "s3":
		backend, err = registry.NewS3Backend(context.Background(), registry.S3Options{
			Bucket:   cfg.Origin.S3Bucket,
			Region:   cfg.Origin.S3Region,
			Endpoint: cfg.Origin.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("building s3 backend: %w", err)
		}
	default:
		backend = registry.NewHTTPBackend(cfg.Origin.URLTemplate, cfg.HTTP.Timeout, cfg.HTTP.MaxRetries)
	}

	loader := registry.NewLoader(registry.Options{
		Backend:       backend,
		MaxEntryBytes: cfg.Archive.MaxEntryBytes,
		MaxTotalBytes: cfg.Archive.MaxTotalBytes,
	})
	c := cache.New(loader, cfg.Cache.CapacityBytes, cfg.Cache.MaxEntries)
	return facade.New(c, cfg.Indexer.Concurrency), nil
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("cratescopectl: unknown log level, defaulting to info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}
