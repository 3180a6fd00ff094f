package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/scripthost"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of scripthost",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "scripthost version %s\n", strings.TrimSpace(scripthost.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
