package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/index"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	GroupID: "mirror",
	Short:   "Rebuild titles.json and list.json from the item store",
	Long: `Rebuild the title indices from database/items without fetching anything.

Every items/*.json file is read in file-name order. Files that fail to parse
are reported and skipped. When the SQLite mirror is enabled it is refreshed
in the same pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database, err := openDB(ctx)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
		}

		s := openStore()
		fmt.Printf("%s Indexing %s...\n", ui.RenderAccent("●"), s.ItemsDir())

		res, err := index.New(s, database, logs.For("index")).Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Indexed %d items across %d namespaces in %v\n",
			ui.RenderPass("✓"), res.Items, res.Namespaces, res.Duration.Round(time.Millisecond))
		if res.Malformed > 0 {
			fmt.Printf("   %s %d malformed files skipped\n", ui.RenderWarn("⚠"), res.Malformed)
		}
		if res.DBFailed > 0 {
			fmt.Printf("   %s %d items failed to reach the SQLite mirror\n", ui.RenderWarn("⚠"), res.DBFailed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
