package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigMergesFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
address = "127.0.0.1:7171"

[metrics]
address = "127.0.0.1:9100"

[logging]
level = "debug"
format = "json"
`)

	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--log-level", "warn"}))

	opts := &options{}
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.address, _ = cmd.Flags().GetString("address")
	opts.logLevel, _ = cmd.Flags().GetString("log-level")
	opts.logFormat, _ = cmd.Flags().GetString("log-format")
	opts.traceExporter, _ = cmd.Flags().GetString("trace-exporter")

	cfg, err := opts.config(cmd)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7171", opts.address)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.Equal(t, "warn", cfg.Logging.Level, "flag wins over file")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts options
	}{
		{
			name: "unknown key in file",
			opts: options{configPath: writeConfig(t, "address = \"0.0.0.0:7070\"\nport = 1\n"), logLevel: "info", logFormat: "console", traceExporter: "none"},
		},
		{
			name: "missing file",
			opts: options{configPath: "/does/not/exist.toml", logLevel: "info", logFormat: "console", traceExporter: "none"},
		},
		{
			name: "bad exporter",
			opts: options{logLevel: "info", logFormat: "console", traceExporter: "zipkin"},
		},
		{
			name: "otlp without endpoint",
			opts: options{logLevel: "info", logFormat: "console", traceExporter: "otlp"},
		},
		{
			name: "bad metrics address",
			opts: options{logLevel: "info", logFormat: "console", traceExporter: "none", metricsAddress: "nowhere"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.config(newRootCommand())
			assert.True(t, errdefs.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestConfigAndAddressAreExclusive(t *testing.T) {
	path := writeConfig(t, "address = \"127.0.0.1:7171\"\n")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "--address", "127.0.0.1:7272"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[config address]")
}
