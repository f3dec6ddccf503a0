package observability

import (
	"github.com/go-playground/validator/v10"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// Config contains the observability configuration for hostwire binaries.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string `toml:"service_name" validate:"required"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `toml:"service_version" validate:"required"`

	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `toml:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `toml:"output"`

	// Caller adds file:line information to log lines.
	Caller bool `toml:"caller"`

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `toml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `toml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `toml:"exporter" validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `toml:"endpoint" validate:"required_if=Exporter otlp"`

	// SamplingRate is the trace sampling ratio between 0 and 1.
	SamplingRate float64 `toml:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `toml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`

	// Address is where /metrics is served. Empty disables the listener
	// but keeps the registry.
	Address string `toml:"address" validate:"omitempty,hostname_port"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `toml:"path"`

	// Namespace is the metric name prefix.
	Namespace string `toml:"namespace"`
}

// DefaultConfig returns a configuration with console logging, metrics
// enabled and tracing disabled.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "hostwire",
		},
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errdefs.Configuration("invalid observability configuration", err)
	}
	return nil
}
