package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:     "diff <old.json> <new.json>",
	GroupID: "inspect",
	Short:   "Print the change records between two item files",
	Long: `Compare two item snapshots and print the change records a run would
produce for them. Pass "-" as the old file to diff against no previous
snapshot, which yields the single add:item record of a new item.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		var prev *schema.Item
		if args[0] != "-" {
			item, err := schema.ReadItemFile(args[0])
			if err != nil {
				return err
			}
			prev = item
		}
		next, err := schema.ReadItemFile(args[1])
		if err != nil {
			return err
		}

		changes := diff.Stamp(diff.Diff(prev, next), next.LastModifiedDate)
		if jsonOutput {
			if changes == nil {
				changes = []diff.Change{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(changes)
		}

		if len(changes) == 0 {
			fmt.Printf("%s No changes\n", ui.RenderPass("✓"))
			return nil
		}
		for _, c := range changes {
			fmt.Printf("%s %s\n", renderOp(c), describe(c))
		}
		return nil
	},
}

func renderOp(c diff.Change) string {
	switch c.Op() {
	case diff.OpAdd:
		return ui.RenderPass("+")
	case diff.OpRemove:
		return ui.RenderFail("-")
	default:
		return ui.RenderWarn("~")
	}
}

func describe(c diff.Change) string {
	from, _ := json.Marshal(c.From)
	to, _ := json.Marshal(c.To)
	switch c.Op() {
	case diff.OpAdd:
		return fmt.Sprintf("%s %s", c.Type, to)
	case diff.OpRemove:
		return fmt.Sprintf("%s %s", c.Type, from)
	default:
		return fmt.Sprintf("%s %s → %s", c.Type, from, to)
	}
}

func init() {
	diffCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(diffCmd)
}
