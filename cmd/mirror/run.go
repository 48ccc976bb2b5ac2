package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/dashboard"
	"github.com/egdb/catalog-mirror/internal/catalog/pipeline"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/egdb/catalog-mirror/internal/vcs"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "mirror",
	Short:   "Mirror the next batch of namespaces",
	Long: `Run one mirror pass:
  1. Take the next batch of namespaces from ns-queue.json (seeding it from
     the namespace source when the file is missing)
  2. Fetch every item of each namespace, resolving hidden items through offers
  3. Diff against the stored snapshots and save the new ones
  4. Rebuild titles.json and list.json (and the SQLite mirror)
  5. Send the changelist to the configured sink
  6. Commit and push database/ and ns-queue.json when something changed

A namespace that cannot be fetched is logged and skipped; the rest of the
batch still runs.`,
	RunE: runMirror,
}

func init() {
	runCmd.Flags().Int("batch", 0, "Namespaces per run (default from config)")
	runCmd.Flags().String("dashboard", "", "Serve the live dashboard on this address during the run")
	runCmd.Flags().Bool("no-sync", false, "Write stats but do not commit or push")
	rootCmd.AddCommand(runCmd)
}

func runMirror(cmd *cobra.Command, args []string) error {
	if batch, _ := cmd.Flags().GetInt("batch"); batch > 0 {
		cfg.Queue.BatchSize = batch
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	noSync, _ := cmd.Flags().GetBool("no-sync")
	dashAddr, _ := cmd.Flags().GetString("dashboard")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logs.For("mirror")

	q, err := newQueue()
	if err != nil {
		return err
	}
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}
	session, err := newSession()
	if err != nil {
		return err
	}
	out, closeSink, err := newSink(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	pcfg := pipeline.Config{
		Queue:     q,
		BatchSize: cfg.Queue.BatchSize,
		Store:     openStore(),
		Getter:    newGetter(session),
		Fetch:     fetchConfig(),
		Session:   session,
		DB:        database,
		Sink:      out,
	}

	if cfg.Git.Enabled && !noSync {
		if repo := openRepo(logger); repo != nil {
			pcfg.Repo = repo
			pcfg.Sync = vcs.SyncOptions{
				Branch:    cfg.Git.Branch,
				RemoteURL: cfg.Git.Remote,
				Author:    cfg.Git.Author,
				Logger:    logs.For("git"),
			}
		}
	}

	if dashAddr != "" {
		server := dashboard.NewServer(&dashboard.Config{
			Addr:   dashAddr,
			DB:     database,
			Store:  pcfg.Store,
			Logger: logs.For("dashboard"),
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()
		pcfg.Observer = server
		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("●"), server.Addr())
	}

	p, err := pipeline.New(pcfg, logs.For("pipeline"))
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	printRunSummary(res, time.Since(start))
	return nil
}

func printRunSummary(res *pipeline.RunResult, elapsed time.Duration) {
	s := res.Stats
	fmt.Printf("\n%s Run %s finished in %v\n", ui.RenderPass("✓"), s.RunID, elapsed.Round(time.Millisecond))
	fmt.Printf("   Namespaces: %d (%d failed)\n", s.Namespaces, len(res.Failed))
	fmt.Printf("   Items: %d\n", s.Items)
	fmt.Printf("   Changes: %d\n", s.Changes)
	fmt.Printf("   Fetch: %dms  Index: %dms\n", s.FetchItemsTime, s.IndexTime)
	if res.Batch != nil {
		fmt.Printf("   Left in queue: %d\n", res.Batch.Remaining)
	}

	for _, f := range res.Failed {
		fmt.Printf("   %s %s (%s): %v\n", ui.RenderFail("✗"), f.Namespace, f.Stage, f.Err)
	}
	if res.SinkErr != nil {
		fmt.Printf("   %s sink: %v\n", ui.RenderWarn("⚠"), res.SinkErr)
	}
	switch {
	case res.SyncErr != nil:
		fmt.Printf("   %s publish: %v\n", ui.RenderWarn("⚠"), res.SyncErr)
	case res.Sync != nil && res.Sync.Pushed:
		fmt.Printf("   %s Pushed %q\n", ui.RenderPass("✓"), res.Sync.Message)
	case res.Sync != nil && res.Sync.Committed:
		fmt.Printf("   %s Committed %q (not pushed)\n", ui.RenderWarn("⚠"), res.Sync.Message)
	}
	fmt.Println()
}
