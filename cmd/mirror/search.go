package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/egdb/catalog-mirror/internal/catalog/index"
	"github.com/egdb/catalog-mirror/internal/search"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "inspect",
	Short:   "Fuzzy-search item titles",
	Long: `Search titles.json for items whose title fuzzy-matches the query.
An exact item id is always listed first.

Examples:
  mirror search "rocket league"
  mirror search fortn --limit 5 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		entries, err := index.ReadTitles(openStore())
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("titles index not found; run 'mirror index' first")
		}
		if err != nil {
			return err
		}

		matches := search.Titles(entries, strings.Join(args, " "), limit)
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if matches == nil {
				matches = []search.Match{}
			}
			return enc.Encode(matches)
		}

		if len(matches) == 0 {
			fmt.Printf("%s No titles match\n", ui.RenderWarn("⚠"))
			return nil
		}
		width := ui.Width(100)
		for _, m := range matches {
			title := highlight(m)
			if avail := width - len(m.ID) - 2; len([]rune(m.Title)) > avail {
				title = ui.Truncate(m.Title, avail)
			}
			fmt.Printf("%s  %s\n", ui.RenderMuted(m.ID), title)
		}
		return nil
	},
}

// highlight renders the matched characters of a title with the accent style.
func highlight(m search.Match) string {
	if len(m.Positions) == 0 {
		return m.Title
	}
	hit := make(map[int]bool, len(m.Positions))
	for _, p := range m.Positions {
		hit[p] = true
	}

	var b strings.Builder
	for i, r := range m.Title {
		if hit[i] {
			b.WriteString(ui.RenderAccent(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func init() {
	searchCmd.Flags().IntP("limit", "n", 20, "Maximum number of results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(searchCmd)
}
