package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/amstig/internal/config"
	"github.com/sakif/amstig/internal/service"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	out, err := executeCommand(rootCmd, "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"amstig", "WebAssembly", "run", "serve"} {
		assert.Contains(t, out, phrase)
	}
	assert.NotContains(t, out, "sandbox-worker", "worker command is hidden")
}

func TestCLIServeHelp(t *testing.T) {
	out, err := executeCommand(rootCmd, "serve", "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"--port", "--db", "--sandbox", "--timeout", "--pool-size", "--admission", "/api/code/execute"} {
		assert.Contains(t, out, phrase)
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	addServeFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9090", "--timeout", "3s", "--admission", "reject"}))

	cfg := config.Defaults()
	require.NoError(t, applyServeFlags(cmd, &cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, service.AdmissionReject, cfg.Admission)
	assert.Equal(t, "data/amstig.db", cfg.DBPath, "unset flags keep the config value")
}

func TestApplyServeFlags_Invalid(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	addServeFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--sandbox", "vm"}))

	cfg := config.Defaults()
	assert.Error(t, applyServeFlags(cmd, &cfg))
}

func TestReadSource(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.Flags().StringP("code", "c", "", "")
		require.NoError(t, cmd.ParseFlags([]string{"-c", "console.log(1)"}))

		src, err := readSource(cmd, nil)
		require.NoError(t, err)
		assert.Equal(t, "console.log(1)", src)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "script.js")
		require.NoError(t, os.WriteFile(path, []byte("1 + 1"), 0o644))

		cmd := &cobra.Command{}
		cmd.Flags().StringP("code", "c", "", "")

		src, err := readSource(cmd, []string{path})
		require.NoError(t, err)
		assert.Equal(t, "1 + 1", src)
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.Flags().StringP("code", "c", "", "")

		_, err := readSource(cmd, []string{filepath.Join(t.TempDir(), "nope.js")})
		assert.Error(t, err)
	})
}
