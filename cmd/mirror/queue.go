package main

import (
	"fmt"

	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "inspect",
	Short:   "Inspect or reset the namespace queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many namespaces are waiting",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		n, err := q.Peek()
		if err != nil {
			return err
		}

		if n == 0 {
			fmt.Printf("%s Queue is empty; the next run reseeds it from %s\n", ui.RenderWarn("⚠"), sourceLabel())
			return nil
		}
		batch := cfg.Queue.BatchSize
		runs := (n + batch - 1) / batch
		fmt.Printf("%s %d namespaces queued in %s (%d runs at %d per batch)\n",
			ui.RenderAccent("●"), n, q.Path(), runs, batch)
		return nil
	},
}

var queueResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the queue file so the next run starts a fresh cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		if err := q.Reset(); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), q.Path())
		return nil
	},
}

func sourceLabel() string {
	if cfg.Queue.Source == "" {
		return "(no source configured)"
	}
	return cfg.Queue.Source
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueResetCmd)
	rootCmd.AddCommand(queueCmd)
}
