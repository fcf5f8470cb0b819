/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/grid-bot/internal/bootstrap"
	"github.com/spf13/cobra"
)

// fillWriterCmd represents the fill-writer command
var fillWriterCmd = &cobra.Command{
	Use:   "fill-writer",
	Short: "start the fill writer worker",
	Long:  `start the worker that drains fill events from jetstream into postgres`,
	Run:   bootstrap.StartFillWriter,
}

func init() {
	rootCmd.AddCommand(fillWriterCmd)
}
