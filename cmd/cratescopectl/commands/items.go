package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/items"
)

var (
	itemsCategory   string
	itemsQuery      string
	itemsPathPrefix string
)

var ItemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Structural declaration search (struct/enum/trait/fn/impl/...) over a crate",
	RunE:  runItems,
}

func init() {
	ItemsCmd.Flags().StringVar(&itemsCategory, "category", "all", "Struct|Enum|Trait|Function|TypeAlias|Macro|AttributeMacro|ImplType|ImplTraitForType|all")
	ItemsCmd.Flags().StringVar(&itemsQuery, "query", "", "case-insensitive substring match against the declaration name")
	ItemsCmd.Flags().StringVar(&itemsPathPrefix, "path", "", "crate-relative path prefix filter")
}

func runItems(cmd *cobra.Command, args []string) error {
	f, err := buildFacade()
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	key := common.CrateKey{Name: Flags.Name, Version: Flags.Version}
	records, err := f.Items(ctx, key, items.Query{
		Category:   items.Category(itemsCategory),
		Name:       itemsQuery,
		PathPrefix: itemsPathPrefix,
	})
	if err != nil {
		color.Red("items failed: %v", err)
		return err
	}

	for _, r := range records {
		fmt.Printf("%-18s %-30s %s:%d-%d\n", r.Category, r.DeclarationName, r.Path, r.LineStart, r.LineEnd)
	}
	color.Cyan("%d items", len(records))
	return nil
}
