package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/common"
)

var lsPath string

var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List a directory within a crate's source tree",
	RunE:  runLs,
}

func init() {
	LsCmd.Flags().StringVarP(&lsPath, "path", "p", "", "crate-relative directory (empty = root)")
}

func runLs(cmd *cobra.Command, args []string) error {
	f, err := buildFacade()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	key := common.CrateKey{Name: Flags.Name, Version: Flags.Version}
	entries, err := f.Directory(ctx, key, lsPath)
	if err != nil {
		color.Red("ls failed: %v", err)
		return err
	}

	for _, e := range entries {
		fmt.Printf("%-6s %s\n", e.Kind, e.Name)
	}
	return nil
}
