package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/common"
)

var (
	catPath  string
	catStart int
	catEnd   int
)

var CatCmd = &cobra.Command{
	Use:   "cat",
	Short: "Print a ranged line window of a file within a crate's source tree",
	RunE:  runCat,
}

func init() {
	CatCmd.Flags().StringVarP(&catPath, "path", "p", "", "crate-relative file path")
	CatCmd.Flags().IntVar(&catStart, "start", 0, "first line, 1-based inclusive (0 = beginning)")
	CatCmd.Flags().IntVar(&catEnd, "end", 0, "last line, 1-based inclusive (0 = end of file)")
	CatCmd.MarkFlagRequired("path")
}

func runCat(cmd *cobra.Command, args []string) error {
	f, err := buildFacade()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	key := common.CrateKey{Name: Flags.Name, Version: Flags.Version}
	text, err := f.File(ctx, key, catPath, catStart, catEnd)
	if err != nil {
		color.Red("cat failed: %v", err)
		return err
	}

	fmt.Println(text)
	return nil
}
