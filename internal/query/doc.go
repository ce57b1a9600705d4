// Package query runs a shard of domains against one backend.
//
// An Invoker wraps a backend with pacing and retries: a random delay before
// every attempt, an optional token-bucket limit, a per-attempt timeout and
// exponential backoff between failures. A domain that fails MaxAttempts
// times yields an *UnresolvableError instead of blocking the run forever.
//
// A Runner fans a shard out over an errgroup capped at the configured
// concurrency. Every domain writes only its own result slot, and pairs are
// flattened in input order once all units have finished, so a Report is
// deterministic for a deterministic backend.
//
//	inv := query.NewInvoker(b, query.PolicyFromConfig(cfg.Query))
//	report, err := query.NewRunner(inv, cfg.Query.Concurrency).Run(ctx, shard)
//
// Merge concatenates the pairs of several reports for the matcher.
package query
