package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/common"
)

var FetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and decompress a crate's tarball and list its root entries",
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	f, err := buildFacade()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	key := common.CrateKey{Name: Flags.Name, Version: Flags.Version}
	entries, err := f.Directory(ctx, key, "")
	if err != nil {
		color.Red("fetch failed: %v", err)
		return err
	}

	color.Green("fetched %s: %d root entries", key.String(), len(entries))
	for _, e := range entries {
		fmt.Printf("  %-6s %s\n", e.Kind, e.Name)
	}
	return nil
}
