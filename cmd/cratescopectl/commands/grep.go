package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/search"
)

var (
	grepMode          string
	grepCaseSensitive bool
	grepWholeWord     bool
	grepMaxResults    int
	grepFileExt       string
	grepPath          string
)

var GrepCmd = &cobra.Command{
	Use:   "grep [query]",
	Short: "Full-text search (plain or regex) over a crate's source tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrep,
}

func init() {
	GrepCmd.Flags().StringVar(&grepMode, "mode", "plain_text", "plain_text | regex")
	GrepCmd.Flags().BoolVar(&grepCaseSensitive, "case-sensitive", false, "case-sensitive match")
	GrepCmd.Flags().BoolVar(&grepWholeWord, "whole-word", false, "require whole-word boundaries")
	GrepCmd.Flags().IntVar(&grepMaxResults, "max-results", 0, "cap on returned matches (0 = unbounded)")
	GrepCmd.Flags().StringVar(&grepFileExt, "file-ext", "", "comma-separated extension filter")
	GrepCmd.Flags().StringVar(&grepPath, "path", "", "crate-relative path prefix filter")
}

func runGrep(cmd *cobra.Command, args []string) error {
	f, err := buildFacade()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	key := common.CrateKey{Name: Flags.Name, Version: Flags.Version}
	matches, err := f.Lines(ctx, key, search.Request{
		Query:         args[0],
		Mode:          search.Mode(grepMode),
		CaseSensitive: grepCaseSensitive,
		WholeWord:     grepWholeWord,
		MaxResults:    grepMaxResults,
		FileExt:       grepFileExt,
		Path:          grepPath,
	})
	if err != nil {
		color.Red("grep failed: %v", err)
		return err
	}

	for _, m := range matches {
		fmt.Printf("%s:%d:%d: %s\n", m.Path, m.LineNumber, m.ColumnStart, m.LineText)
	}
	color.Cyan("%d matches", len(matches))
	return nil
}
