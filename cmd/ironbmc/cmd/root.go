package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ironbmc",
	Short: "IronBMC is an embedded management-controller web service",
	Long: `IronBMC exposes a management controller over HTTPS: authenticated
sessions, account management, and cooperative resource locks.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
