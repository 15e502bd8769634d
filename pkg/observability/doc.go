// Package observability provides OpenTelemetry tracing and metrics for HELM
// services, following the RED (Rate, Errors, Duration) pattern.
//
// # Setup
//
// Initialize a Provider at application startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Wrap an HTTP handler so every request becomes a traced, measured
// operation:
//
//	http.Handle("/", p.HTTPMiddleware(yourHandler))
//
// Track a non-HTTP operation (e.g. a background sweep) the same way:
//
//	ctx, end := p.TrackOperation(ctx, "watchdog.sweep")
//	err := doSweep(ctx)
//	end(err)
//
// Create spans manually:
//
//	ctx, span := p.StartSpan(ctx, "operation_name")
//	defer span.End()
package observability
