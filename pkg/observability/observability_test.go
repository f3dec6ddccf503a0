package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "sampling above one", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "metrics address", mutate: func(c *Config) { c.Metrics.Address = "0.0.0.0:9464" }},
		{name: "bad metrics address", mutate: func(c *Config) { c.Metrics.Address = "nope" }, wantErr: true},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("hostwire")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errdefs.IsConfiguration(err) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRecordCall(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordCall(SideAgent, "Command", "Exec", 0, nil)
	m.RecordCall(SideAgent, "Command", "Exec", 0, errdefs.Execution("spawn failed", nil))
	m.RecordCall(SideAgent, "Command", "Exec", 0, errors.New("plain"))

	if got := testutil.ToFloat64(m.calls.WithLabelValues(SideAgent, "Command", "Exec", "error")); got != 2 {
		t.Errorf("error calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsByKind.WithLabelValues(SideAgent, "execution")); got != 1 {
		t.Errorf("execution errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByKind.WithLabelValues(SideAgent, "unknown")); got != 1 {
		t.Errorf("unknown errors = %v, want 1", got)
	}
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	var nilMetrics *Metrics
	disabled, _ := NewMetrics(MetricsConfig{})

	for _, m := range []*Metrics{nilMetrics, disabled} {
		m.RecordCall(SideLocal, "Package", "Install", 0, nil)
		m.StreamOpened(SideLocal)
		m.ConnectionOpened()
		if m.Registry() != nil {
			t.Error("disabled metrics should have no registry")
		}
		if err := m.Serve(context.Background(), ":0"); err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{Enabled: true, Namespace: "hostwire"})
	m.StreamOpened(SideRemote)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `hostwire_active_streams{side="remote"} 1`) {
		t.Errorf("metrics output missing gauge:\n%s", rec.Body.String())
	}
}

func TestStartCall(t *testing.T) {
	ins := Noop()
	ins.Metrics, _ = NewMetrics(MetricsConfig{Enabled: true})

	call := ins.StartCall(context.Background(), SideLocal, "web1", "Service", "Systemd", "Running")
	if call.Ctx == nil || call.Span == nil {
		t.Fatal("call not initialised")
	}
	call.End(nil)

	if got := testutil.ToFloat64(ins.Metrics.calls.WithLabelValues(SideLocal, "Service", "Running", "ok")); got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if err := ins.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestCallLoggerInContext(t *testing.T) {
	var out strings.Builder
	ins := Noop()
	ins.Logger = &Logger{zlog: zerolog.New(&out).Level(zerolog.DebugLevel)}

	call := ins.StartCall(context.Background(), SideAgent, "web1", "Command", "Nix", "Exec")
	if FromContext(call.Ctx) != call.Logger {
		t.Fatal("call context should carry the call logger")
	}
	FromContext(call.Ctx).Debug("executing")
	call.End(nil)

	for _, want := range []string{`"host":"web1"`, `"runnable":"Command.Nix.Exec"`, `"message":"executing"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("log output missing %s:\n%s", want, out.String())
		}
	}

	if FromContext(context.Background()) == nil {
		t.Error("expected fallback logger for a bare context")
	}
}

func TestSetExitCode(t *testing.T) {
	tests := []struct {
		name string
		code *int
		want int64
	}{
		{name: "exit code", code: intPtr(3), want: 3},
		{name: "killed by signal", code: nil, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := tracetest.NewSpanRecorder()
			provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
			ins := Noop()
			ins.Tracer = &Tracer{provider: provider, tracer: provider.Tracer("test")}

			call := ins.StartCall(context.Background(), SideRemote, "web1", "Command", "Nix", "Exec")
			call.SetExitCode(tt.code)
			call.End(nil)

			spans := sr.Ended()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			var found bool
			for _, attr := range spans[0].Attributes() {
				if attr.Key == AttrExitCode {
					found = true
					if got := attr.Value.AsInt64(); got != tt.want {
						t.Errorf("exit code = %d, want %d", got, tt.want)
					}
				}
			}
			if !found {
				t.Error("span has no exit code attribute")
			}
		})
	}
}

func intPtr(v int) *int { return &v }
