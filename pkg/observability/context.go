package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Instruments bundles the logger, tracer and metrics of one process.
type Instruments struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// New creates instruments from configuration.
func New(cfg *Config) (*Instruments, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Noop returns instruments that log through the global zerolog logger,
// export no spans and record no metrics.
func Noop() *Instruments {
	tracer, _ := NewTracer(TracingConfig{}, "hostwire", "dev")
	return &Instruments{
		Logger:  FromContext(context.Background()),
		Tracer:  tracer,
		Metrics: &Metrics{},
	}
}

// Shutdown flushes the tracer.
func (i *Instruments) Shutdown(ctx context.Context) error {
	return i.Tracer.Shutdown(ctx)
}

// Call is an instrumented runnable call: a span, a timer and a logger
// carrying the call's fields.
type Call struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	metrics  *Metrics
	timer    *Timer
	side     string
	endpoint string
	op       string
}

// StartCall begins an instrumented call.
func (i *Instruments) StartCall(ctx context.Context, side, host, endpoint, provider, op string) *Call {
	spanCtx, span := i.Tracer.StartCallSpan(ctx, side, host, endpoint, provider, op)

	logger := i.Logger.WithHost(host).WithRunnable(endpoint + "." + provider + "." + op)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &Call{
		Ctx:      logger.WithContext(spanCtx),
		Span:     span,
		Logger:   logger,
		metrics:  i.Metrics,
		timer:    NewTimer(),
		side:     side,
		endpoint: endpoint,
		op:       op,
	}
}

// SetExitCode records the exit code of a streamed call on its span. A nil
// code means the process was killed by a signal and is recorded as -1.
func (c *Call) SetExitCode(code *int) {
	exit := -1
	if code != nil {
		exit = *code
	}
	c.Span.SetAttributes(AttrExitCode.Int(exit))
}

// End finishes the call, recording its outcome on the span and metrics.
func (c *Call) End(err error) {
	c.metrics.RecordCall(c.side, c.endpoint, c.op, c.timer.Duration(), err)
	if err != nil {
		RecordError(c.Span, err)
		c.Logger.WithError(err).Debug("call failed")
	} else {
		RecordSuccess(c.Span)
	}
	c.Span.End()
}
