package backend

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var _defaultServer = "1.1.1.1:53"

// DNS resolves over classic UDP/TCP DNS against a pool of servers.
type DNS struct {
	Client  Exchanger
	Timeout time.Duration
	Servers []string

	name string
	mu   sync.Mutex
}

var _ Backend = (*DNS)(nil)

// DNSOpt is a function option for configuring a DNS backend.
type DNSOpt func(r *DNS)

// NewDNS creates a DNS backend with the given per-exchange timeout.
func NewDNS(name string, timeout time.Duration, opts ...DNSOpt) *DNS {
	res := &DNS{
		Client: &dns.Client{
			Timeout: timeout,
		},
		Timeout: timeout,
		name:    name,
	}

	for _, o := range opts {
		o(res)
	}

	return res
}

// WithServers sets the servers queried, picked at random per exchange.
// If not provided, the default server (1.1.1.1:53) will be used.
func WithServers(servers []string) DNSOpt {
	return func(r *DNS) {
		r.Servers = servers
	}
}

// WithTimeout overrides the timeout provided to NewDNS.
func WithTimeout(timeout time.Duration) DNSOpt {
	return func(r *DNS) {
		r.Timeout = timeout
	}
}

// Name implements Backend.
func (r *DNS) Name() string { return r.name }

// Query implements Backend. If domain is already an address it is
// returned as is.
func (r *DNS) Query(ctx context.Context, domain string) ([]netip.Addr, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	if addr, ok := literal(domain); ok {
		return []netip.Addr{addr}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	return r.lookupAddrs(ctx, domain)
}

// lookupAddrs resolves A and AAAA records concurrently. It returns every
// address that succeeded, or an aggregated error if both queries fail.
func (r *DNS) lookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	grp, ctx := errgroup.WithContext(ctx)

	var (
		results [len(queryTypes)][]netip.Addr
		errs    error
		failed  int
	)

	for i, qt := range queryTypes {
		grp.Go(func() error {
			addrs, err := r.lookup(ctx, host, qt)
			if err != nil {
				r.mu.Lock()
				errs = multierr.Append(errs, err) // collect but don't cancel peer
				failed++
				r.mu.Unlock()
				return nil
			}
			results[i] = addrs
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if failed == len(queryTypes) {
		return nil, fmt.Errorf("dns lookup for %q: %w", host, errs)
	}

	var list addrList
	for _, addrs := range results {
		list.add(addrs...)
	}
	return list.addrs, nil
}

// lookup performs a single exchange for qtype and returns the parsed answers.
func (r *DNS) lookup(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fresh request each call: ExchangeContext mutates *dns.Msg
	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(host), qtype)

	resp, _, err := r.Client.ExchangeContext(ctx, req, r.getServer())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrEmptyMsg
	}
	if err := rcodeErr(resp.Rcode); err != nil {
		return nil, fmt.Errorf("%s %q: %w", r.name, host, err)
	}
	return answerAddrs(resp), nil
}

// getServer returns a random server from the configured pool.
func (r *DNS) getServer() string {
	if len(r.Servers) == 0 {
		return _defaultServer
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(r.Servers))))
	if err != nil {
		return r.Servers[0]
	}

	return r.Servers[n.Int64()]
}

// literal reports whether domain is an IP address literal.
func literal(domain string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(domain)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}
