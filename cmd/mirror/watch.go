package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/egdb/catalog-mirror/internal/catalog/daemon"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "servers",
	Short:   "Keep the SQLite mirror in step with the item store (foreground)",
	Long: `Watch database/items and mirror every change into SQLite.

The watcher will:
  1. Upsert every stored item once at start
  2. Upsert items/*.json files as they are created or modified
  3. Delete rows whose file is removed

Bursts of writes to the same file are applied once after a short debounce.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database, err := openDB(ctx)
		if err != nil {
			return err
		}
		if database == nil {
			return errors.New("the SQLite mirror is disabled (db.enabled=false)")
		}
		defer database.Close()

		s := openStore()
		d, err := daemon.New(database, s, &daemon.Config{
			DebounceInterval: debounce,
			Logger:           logs.For("daemon"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("●"), s.ItemsDir())
		fmt.Printf("   Mirror: %s\n", database.Path())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		return d.Start(ctx)
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a change is applied (default 200ms)")
	rootCmd.AddCommand(watchCmd)
}
