/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/grid-bot/internal/bootstrap"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the grid trading bot",
	Long:  `start the grid trading bot`,
	Run:   bootstrap.StartGridBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("symbol", "BTCUSDT", "trading pair")
	runCmd.Flags().String("low", "0", "lower grid bound, 0 to auto range from 24h volatility")
	runCmd.Flags().String("high", "0", "upper grid bound, 0 to auto range from 24h volatility")
	runCmd.Flags().Int("grids", 20, "number of grid intervals")
	runCmd.Flags().String("qty", "0.001", "order quantity per grid level")
	runCmd.Flags().Bool("test", false, "simulate fills instead of trading")
}
