// Package trace records what a validation run is doing while it runs.
//
// Events form a tree of spans: a service span per CLI invocation, a run span
// per archive, a process span per validator subprocess and, at debug level,
// a point event for every line the validator printed.
//
// Levels pick the finest scope that is recorded:
//
//	off     nothing
//	error   run and process spans kept in the ring, dumped only on panic
//	phase   service and run spans
//	detail  plus subprocess spans
//	debug   plus every output line
//
// A Heartbeat can run next to a tracer. Heartbeats that keep arriving while a
// process span never ends point at a hung validator.
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.Child(ctx, trace.FromContext(ctx), trace.ScopeRun, "validate")
//	defer span.End("")
package trace
