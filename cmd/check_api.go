/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/grid-bot/internal/bootstrap"
	"github.com/spf13/cobra"
)

// checkAPICmd represents the check-api command
var checkAPICmd = &cobra.Command{
	Use:   "check-api",
	Short: "validate bybit api credentials",
	Long:  `validate bybit api credentials against the testnet and mainnet`,
	Run:   bootstrap.StartCheckAPI,
}

func init() {
	rootCmd.AddCommand(checkAPICmd)
	checkAPICmd.Flags().String("env", ".env", "path to the .env file holding the api keys")
	checkAPICmd.Flags().Bool("skip-real", false, "only check the key format, skip network probes")
	checkAPICmd.Flags().Bool("verbose", false, "enable debug output")
}
