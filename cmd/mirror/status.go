package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/pipeline"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "inspect",
	Short:   "Show the state of the store, the queue and the SQLite mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		s := openStore()
		files, err := s.ItemFiles()
		if err != nil {
			return err
		}

		stats, err := pipeline.ReadStats(s)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		q, err := newQueue()
		if err != nil {
			return err
		}
		queued, err := q.Peek()
		if err != nil {
			return err
		}

		report := map[string]interface{}{
			"store":  s.Root(),
			"items":  len(files),
			"queued": queued,
			"last":   stats,
		}

		database, err := openDB(ctx)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
			if n, err := database.GetItemCountContext(ctx); err == nil {
				report["dbItems"] = n
			}
			if n, err := database.GetChangeCountContext(ctx); err == nil {
				report["dbChanges"] = n
			}
			if top, err := database.NamespaceCounts(ctx, 5); err == nil {
				report["topNamespaces"] = top
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("\n%s\n\n", ui.RenderHeader("Catalog Mirror Status"))
		fmt.Printf("Store: %s\n", s.Root())
		fmt.Printf("Items: %d\n", len(files))
		fmt.Printf("Queued namespaces: %d\n", queued)

		if stats == nil {
			fmt.Printf("\n%s No run has been published yet\n", ui.RenderWarn("⚠"))
		} else {
			last := time.UnixMilli(stats.LastUpdate)
			fmt.Printf("\nLast run: %s (%s ago)\n", stats.LastUpdateString, time.Since(last).Round(time.Second))
			fmt.Printf("   Namespaces: %d  Items: %d  Changes: %d\n", stats.Namespaces, stats.Items, stats.Changes)
			fmt.Printf("   Fetch: %dms  Index: %dms\n", stats.FetchItemsTime, stats.IndexTime)
			if len(stats.FailedNamespaces) > 0 {
				fmt.Printf("   %s Failed: %v\n", ui.RenderFail("✗"), stats.FailedNamespaces)
			}
		}

		if database != nil {
			fmt.Printf("\nSQLite mirror: %s\n", database.Path())
			fmt.Printf("   Items: %v  Changes: %v\n", report["dbItems"], report["dbChanges"])
			if top, ok := report["topNamespaces"]; ok {
				b, _ := json.Marshal(top)
				fmt.Printf("   %s\n", ui.RenderMuted("Largest namespaces: "+string(b)))
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}
