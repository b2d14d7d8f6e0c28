// Package cli implements the command-line interface for healthsync.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose    bool
	quiet      bool
	raw        bool
	configPath string
	envFile    string
	userFlag   string
	timezone   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "healthsync",
	Short:   "healthsync – track meals, workouts and your cycle",
	Long:    `A command-line client for a personal health tracker: meals, workouts, daily check-ins, cycle phases and AI insights, cached locally.`,
	Version: core.Version,

	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("Config file (default: $%s or ~/.healthsync/config.yaml)", core.ConfigEnvVar))
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Load environment variables from this .env file first")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", fmt.Sprintf("User scope (default: $%s or %q)", core.UserEnvVar, core.DefaultUser))
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", "Timezone for dates and the day boundary (default: local)")
}
