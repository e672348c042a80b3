package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/amstig/internal/config"
	"github.com/sakif/amstig/internal/result"
	"github.com/sakif/amstig/internal/service"
)

var errRunFailed = errors.New("execution did not succeed")

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute one script and print the result",
	Long: `Execute JavaScript through the same gateway the HTTP API uses.

Code can be provided via:
  - File argument: amstig run script.js
  - Inline flag:   amstig run -c 'console.log(1+1)'
  - Stdin:         echo 'console.log(1+1)' | amstig run

Output goes to stdout, the error (if any) to stderr. The exit status is 1
when the script throws, times out, or cannot be run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	runCmd.Flags().Duration("timeout", 0, "Execution timeout (env AMSTIG_TIMEOUT)")
	runCmd.Flags().Bool("json", false, "Print the full response as JSON")

	rootCmd.AddCommand(runCmd)
}

func readSource(cmd *cobra.Command, args []string) (string, error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("no code given: pass a file, -c, or pipe to stdin")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	// One session, one warm unit; the warm pool would otherwise spawn
	// workers this command never uses.
	cfg.PoolSize = 1
	if cfg.LogLevel < slog.LevelWarn {
		cfg.LogLevel = slog.LevelWarn
	}

	logger := newLogger(cfg.LogLevel)
	sb, err := newSandbox(cfg, logger)
	if err != nil {
		return err
	}
	defer sb.Close()

	gwCfg := cfg.Gateway()
	gwCfg.QueueTimeout = time.Minute
	gw := service.NewGateway(sb, result.NewFormatter(cfg.Timeout, cfg.MaxErrorLength), nil, gwCfg, logger)

	resp, err := gw.Execute(context.Background(), service.Submission{
		Code:     source,
		Language: service.SupportedLanguage,
	})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Output)
		if resp.Error != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), resp.Error)
		}
	}

	if resp.Success == nil || !*resp.Success {
		return errRunFailed
	}
	return nil
}
