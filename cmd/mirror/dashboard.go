package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/egdb/catalog-mirror/internal/catalog/daemon"
	"github.com/egdb/catalog-mirror/internal/catalog/dashboard"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "servers",
	Short:   "Serve the mirror dashboard",
	Long: `Serve the JSON API and WebSocket feed over the local mirror.

Endpoints:
  /ws               live run events (when a run is started with --dashboard)
  /health           server health and connected clients
  /api/stats        tracking-stats.json of the last published run
  /api/changes      recorded change records (?namespace= &item= &type= &run= &limit=)
  /api/namespaces   item counts per namespace
  /api/items/{id}   the mirrored item document

With --watch the item store is watched as well, so the SQLite mirror behind
the API follows edits made between runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}
		watch, _ := cmd.Flags().GetBool("watch")

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

		server := dashboard.NewServer(&dashboard.Config{
			Addr:   addr,
			DB:     database,
			Store:  s,
			Logger: logs.For("dashboard"),
		})
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("●"), server.Addr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.Addr())

		var watchErr chan error
		if watch && database != nil {
			d, err := daemon.New(database, s, &daemon.Config{Logger: logs.For("daemon")})
			if err != nil {
				_ = server.Stop()
				return err
			}
			watchErr = make(chan error, 1)
			go func() { watchErr <- d.Start(ctx) }()
			fmt.Printf("   Watching: %s\n", s.ItemsDir())
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if watchErr != nil {
			if err := <-watchErr; err != nil {
				fmt.Fprintf(os.Stderr, "%s watcher: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().String("addr", "", "Address to listen on (default from config)")
	dashboardCmd.Flags().Bool("watch", false, "Keep the SQLite mirror in step with the item store")
	rootCmd.AddCommand(dashboardCmd)
}
