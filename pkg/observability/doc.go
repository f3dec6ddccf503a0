// Package observability provides logging, tracing and metrics for hostwire
// hosts and the agent.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Instruments value:
//
//	cfg := observability.DefaultConfig("hostwire-agent")
//	cfg.Metrics.Address = ":9464"
//
//	ins, err := observability.New(cfg)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("observability setup failed")
//	}
//	defer ins.Shutdown(context.Background())
//	ins.Logger.SetGlobal()
//
// Every runnable call is wrapped in a Call, which opens a span, times the
// call and counts it:
//
//	call := ins.StartCall(ctx, observability.SideAgent, host, "Command", "Nix", "Exec")
//	out, err := executor.Execute(call.Ctx, r)
//	call.End(err)
//
// # Metrics
//
// All metrics live in a private registry under the configured namespace
// (hostwire by default):
//
//   - calls_total{side,endpoint,op,outcome}
//   - call_duration_seconds{side,endpoint,op}
//   - errors_total{side,kind}
//   - frames_total{side,kind}
//   - active_streams{side}
//   - agent_connections
//
// A nil or disabled *Metrics is valid and records nothing.
package observability
