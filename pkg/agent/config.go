package agent

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// Config is the agent configuration file.
//
//	address = "0.0.0.0:7070"
//
//	[metrics]
//	address = "127.0.0.1:9100"
//
//	[logging]
//	level = "info"
//	format = "console"
type Config struct {
	Address string        `toml:"address" validate:"required,hostname_port"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `toml:"address" validate:"omitempty,hostname_port"`
}

// LoggingConfig configures the agent log output.
type LoggingConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=console json"`
}

var validate = validator.New()

// LoadConfig reads and validates a TOML config file. Unknown keys are
// rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Configuration("failed to read agent config", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates TOML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errdefs.Configuration("failed to parse agent config", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, errdefs.Configuration(fmt.Sprintf("invalid agent config: %v", err), err)
	}
	return &cfg, nil
}
