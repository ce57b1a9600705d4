package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/lc/sift/internal/backend"
	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/log"
)

// ErrUnresolvable marks a domain whose every attempt failed.
var ErrUnresolvable = errors.New("domain unresolvable")

// UnresolvableError reports the last failure of a domain that exhausted its
// attempts.
type UnresolvableError struct {
	Domain   string
	Backend  string
	Attempts int
	Err      error
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("%s: %q unresolvable after %d attempts: %v", e.Backend, e.Domain, e.Attempts, e.Err)
}

func (e *UnresolvableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnresolvable) hold.
func (e *UnresolvableError) Is(target error) bool { return target == ErrUnresolvable }

// Policy controls pacing and retries of a single domain query.
type Policy struct {
	// Timeout bounds one attempt.
	Timeout  time.Duration
	DelayMin time.Duration
	DelayMax time.Duration
	// Backoff is the sleep after the first failure. It doubles per failure
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxAttempts of 0 retries until the context is cancelled.
	MaxAttempts int
	// Rate caps attempts per second; 0 disables the limiter.
	Rate float64
}

// PolicyFromConfig maps the query section of the configuration to a Policy.
func PolicyFromConfig(q config.QueryConfig) Policy {
	return Policy{
		Timeout:     q.Timeout,
		DelayMin:    q.DelayMin,
		DelayMax:    q.DelayMax,
		Backoff:     q.Backoff,
		MaxBackoff:  q.MaxBackoff,
		MaxAttempts: q.MaxAttempts,
		Rate:        q.Rate,
	}
}

// backoff returns the sleep after the given number of failed attempts.
func (p Policy) backoff(failures int) time.Duration {
	d := p.Backoff
	for i := 1; i < failures && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p Policy) delay() time.Duration {
	if p.DelayMax <= p.DelayMin {
		return p.DelayMin
	}
	return p.DelayMin + rand.N(p.DelayMax-p.DelayMin+1)
}

// Invoker calls a backend for one domain at a time, pacing and retrying
// each call according to its Policy. An Invoker is bound to one backend
// and is safe for concurrent use.
type Invoker struct {
	backend backend.Backend
	policy  Policy
	limiter *rate.Limiter
	stats   *Stats

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker for b.
func NewInvoker(b backend.Backend, p Policy) *Invoker {
	inv := &Invoker{
		backend: b,
		policy:  p,
		stats:   &Stats{},
		sleep:   sleepCtx,
	}
	if p.Rate > 0 {
		burst := int(p.Rate)
		if burst < 1 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(p.Rate), burst)
	}
	return inv
}

// Backend returns the backend the Invoker calls.
func (inv *Invoker) Backend() backend.Backend { return inv.backend }

// Stats returns the Invoker's live counters.
func (inv *Invoker) Stats() *Stats { return inv.stats }

// Invoke resolves domain, retrying failures with exponential backoff. It
// returns an *UnresolvableError once MaxAttempts attempts have failed, or
// the context error if ctx ends first.
func (inv *Invoker) Invoke(ctx context.Context, domain string) ([]netip.Addr, error) {
	name := inv.backend.Name()
	var lastErr error
	for attempt := 1; inv.policy.MaxAttempts == 0 || attempt <= inv.policy.MaxAttempts; attempt++ {
		if err := inv.sleep(ctx, inv.policy.delay()); err != nil {
			return nil, fmt.Errorf("%s %q: %w", name, domain, err)
		}
		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s %q: %w", name, domain, err)
			}
		}

		inv.stats.Attempts.Inc()
		addrs, err := inv.attempt(ctx, domain)
		if err == nil {
			return addrs, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %q: %w", name, domain, ctxErr)
		}

		lastErr = err
		inv.stats.Failures.Inc()
		if attempt == inv.policy.MaxAttempts {
			log.Warnf("%s: query %q failed (attempt %d): %v; giving up", name, domain, attempt, err)
			break
		}
		wait := inv.policy.backoff(attempt)
		log.Warnf("%s: query %q failed (attempt %d): %v; retrying in %s", name, domain, attempt, err, wait)
		if err := inv.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s %q: %w", name, domain, err)
		}
	}

	return nil, &UnresolvableError{
		Domain:   domain,
		Backend:  name,
		Attempts: inv.policy.MaxAttempts,
		Err:      lastErr,
	}
}

func (inv *Invoker) attempt(ctx context.Context, domain string) ([]netip.Addr, error) {
	if inv.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.policy.Timeout)
		defer cancel()
	}
	return inv.backend.Query(ctx, domain)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
