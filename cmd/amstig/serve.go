package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/amstig/internal/config"
	"github.com/sakif/amstig/internal/server"
	"github.com/sakif/amstig/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution API",
	Long: `Start an HTTP server that executes JavaScript submissions.

Settings come from the environment (PORT, DB_PATH, AMSTIG_*); flags override them.

Endpoints:
  POST   /api/code/execute          Execute code
  GET    /api/code/languages        Language catalogue
  GET    /api/code/executions       Execution log
  GET    /api/code/executions/{id}  One execution log entry
  GET    /api/health                Health check
  GET    /metrics                   Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (env PORT)")
	cmd.Flags().String("db", "", "Execution log database path (env DB_PATH)")
	cmd.Flags().String("sandbox", "", "Sandbox backend: process or docker (env AMSTIG_SANDBOX)")
	cmd.Flags().Duration("timeout", 0, "Execution timeout (env AMSTIG_TIMEOUT)")
	cmd.Flags().Int("pool-size", 0, "Concurrent sessions and warm units (env AMSTIG_POOL_SIZE)")
	cmd.Flags().String("admission", "", "Saturation policy: queue or reject (env AMSTIG_ADMISSION)")
}

// applyServeFlags copies explicitly set flags over the environment config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("sandbox") {
		cfg.Backend, _ = flags.GetString("sandbox")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("pool-size") {
		cfg.PoolSize, _ = flags.GetInt("pool-size")
	}
	if flags.Changed("admission") {
		v, _ := flags.GetString("admission")
		cfg.Admission = service.AdmissionPolicy(v)
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, &cfg); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	sb, err := newSandbox(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, sb, logger)
	if err != nil {
		sb.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Start()
}
