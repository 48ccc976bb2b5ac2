package main

import (
	"fmt"
	"os"

	"github.com/egdb/catalog-mirror/internal/config"
	"github.com/egdb/catalog-mirror/internal/logging"
	"github.com/egdb/catalog-mirror/internal/ui"
	"github.com/spf13/cobra"
)

var (
	cfg  *config.Config
	logs *logging.Loggers
)

var rootCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror a storefront catalog into a git-tracked JSON database",
	Long: `mirror walks the storefront catalog namespace by namespace, stores every
item as database/items/<id>.json, records what changed since the last pass,
rebuilds the title indices and publishes the result to a git remote.

Configuration is read from mirror.yaml, a .env file and MIRROR_* environment
variables (NAMESPACES_URL and GIT_REMOTE are honoured as well).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		envFile, _ := cmd.Flags().GetString("env-file")

		loaded, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			loaded.Logging.Level = level
		}
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			ui.SetColor(false)
		}

		l, err := logging.New(logging.Config{
			File:       loaded.Logging.File,
			Level:      loaded.Logging.Level,
			MaxSizeMB:  loaded.Logging.MaxSizeMB,
			MaxBackups: loaded.Logging.MaxBackups,
			MaxAgeDays: loaded.Logging.MaxAgeDays,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}

		cfg, logs = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./mirror.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (info or debug)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "mirror", Title: "Mirroring:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
		&cobra.Group{ID: "servers", Title: "Servers:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
