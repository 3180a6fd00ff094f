package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/scripthost/internal/logging"
	"github.com/spf13/cobra"
)

// logger is configured from --log-level before any command runs.
var logger = logging.NewNop()

var rootCmd = &cobra.Command{
	Use:   "scripthost",
	Short: "scripthost runs Lua scripts inside coordinated host sessions",
	Long: `scripthost embeds Lua scripts in named sessions. A session runs its script synchronously,
or on a worker that can be told to run once, repeat, stop, terminate or be killed.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		logger = logging.New(logging.ParseLevel(level))
		slog.SetDefault(logger)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")
}
