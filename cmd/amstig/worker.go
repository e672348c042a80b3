package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/amstig/internal/sandbox"
)

// workerCmd is started by the process and docker sandboxes, never by hand.
// stdout carries protocol frames only, so nothing else may write to it.
var workerCmd = &cobra.Command{
	Use:           "sandbox-worker",
	Short:         "Run one sandboxed script read from stdin",
	Hidden:        true,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sandbox.ServeWorker(cmd.Context(), sandbox.WorkerConfigFromEnv(os.Getenv), os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
