// Package observability provides OpenTelemetry tracing and metrics for
// the sponsorship service, following the RED (Rate, Errors, Duration)
// pattern.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "sponsord",
//		OTLPEndpoint: "collector.internal:4317",
//		SampleRate:   0.25, // keep a quarter of traces outside dev
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Use the HTTP middleware to instrument requests:
//
//	http.Handle("/", obs.Middleware(yourHandler))
//
// # Spans and metrics
//
// Track an operation end to end:
//
//	ctx, finish := obs.TrackOperation(ctx, "proposal.accept",
//		observability.ProposalOperation(id, tag, status, actor)...)
//	defer func() { finish(err) }()
//
// Or create spans manually:
//
//	ctx, span := obs.StartSpan(ctx, "ledger.verify")
//	defer span.End()
package observability
