package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Config
		wantErr bool
	}{
		{
			name:  "address only",
			input: `address = "0.0.0.0:7070"`,
			want:  &Config{Address: "0.0.0.0:7070"},
		},
		{
			name: "full",
			input: `
address = "127.0.0.1:7070"

[metrics]
address = "127.0.0.1:9100"

[logging]
level = "debug"
format = "json"
`,
			want: &Config{
				Address: "127.0.0.1:7070",
				Metrics: MetricsConfig{Address: "127.0.0.1:9100"},
				Logging: LoggingConfig{Level: "debug", Format: "json"},
			},
		},
		{name: "missing address", input: `[logging]` + "\n" + `level = "info"`, wantErr: true},
		{name: "address without port", input: `address = "localhost"`, wantErr: true},
		{name: "bad log level", input: "address = \"localhost:7070\"\n[logging]\nlevel = \"loud\"", wantErr: true},
		{name: "unknown key", input: "address = \"localhost:7070\"\nport = 7070", wantErr: true},
		{name: "not toml", input: `address = `, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.input))
			if tt.wantErr {
				assert.True(t, errdefs.IsConfiguration(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`address = "localhost:7070"`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:7070", cfg.Address)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errdefs.IsConfiguration(err))
}
