package query

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lc/sift/internal/log"
)

// Stats counts the work done by an Invoker and its Runner.
type Stats struct {
	Attempts   atomic.Int64
	Failures   atomic.Int64
	Resolved   atomic.Int64
	Unresolved atomic.Int64
	InFlight   atomic.Int64
	// PeakInFlight is the highest InFlight value observed.
	PeakInFlight atomic.Int64
}

// Report is the outcome of querying one shard.
type Report struct {
	Backend string
	// Pairs are ordered by input domain, then by backend answer order.
	Pairs []Pair
	// Unresolved lists domains that exhausted their attempts, in input order.
	Unresolved []string
	// Err joins the *UnresolvableError of every unresolved domain.
	Err      error
	Attempts int64
	Failures int64
	Elapsed  time.Duration
}

// Runner queries a shard of domains through an Invoker with bounded
// concurrency.
type Runner struct {
	invoker     *Invoker
	concurrency int
}

// NewRunner creates a Runner. concurrency below 1 is treated as 1.
func NewRunner(inv *Invoker, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{invoker: inv, concurrency: concurrency}
}

type slot struct {
	addrs []netip.Addr
	err   error
}

// Run queries every domain and waits for all of them. At most concurrency
// queries are in flight at any time. Each domain owns one result slot, so
// units never share mutable state; pairs are assembled after the join.
//
// Unresolvable domains are reported in Report.Unresolved and do not fail
// the run. The returned error is non-nil only when ctx ends early.
func (r *Runner) Run(ctx context.Context, domains []string) (Report, error) {
	start := time.Now()
	name := r.invoker.Backend().Name()
	stats := r.invoker.Stats()
	results := make([]slot, len(domains))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(r.concurrency)

	for i, domain := range domains {
		if gctx.Err() != nil {
			break
		}
		grp.Go(func() error {
			n := stats.InFlight.Inc()
			for {
				peak := stats.PeakInFlight.Load()
				if n <= peak || stats.PeakInFlight.CompareAndSwap(peak, n) {
					break
				}
			}
			defer stats.InFlight.Dec()

			addrs, err := r.invoker.Invoke(gctx, domain)
			if err != nil && !errors.Is(err, ErrUnresolvable) {
				// cancellation: stop scheduling the rest
				return err
			}
			results[i] = slot{addrs: addrs, err: err}
			return nil
		})
	}

	waitErr := grp.Wait()

	report := Report{Backend: name}
	for i, res := range results {
		if res.err != nil {
			stats.Unresolved.Inc()
			report.Unresolved = append(report.Unresolved, domains[i])
			report.Err = multierr.Append(report.Err, res.err)
			continue
		}
		if len(res.addrs) > 0 {
			stats.Resolved.Inc()
		}
		for _, addr := range res.addrs {
			report.Pairs = append(report.Pairs, Pair{Domain: domains[i], Addr: addr})
		}
	}
	report.Attempts = stats.Attempts.Load()
	report.Failures = stats.Failures.Load()
	report.Elapsed = time.Since(start)

	if waitErr == nil {
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		return report, fmt.Errorf("querying %s: %w", name, waitErr)
	}

	log.Infof("%s: %d domains, %d pairs, %d unresolved, %d attempts in %s",
		name, len(domains), len(report.Pairs), len(report.Unresolved), report.Attempts, report.Elapsed.Round(time.Millisecond))
	return report, nil
}
