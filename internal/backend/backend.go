package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/lc/sift/internal/config"
)

var (
	// ErrUnknownKind is returned by New for a kind it cannot build.
	ErrUnknownKind = errors.New("unknown backend kind")
	// ErrStatus is returned when an HTTP backend answers with a non-200 status.
	ErrStatus = errors.New("unexpected http status")
	// ErrEmptyDomain is returned when an empty domain is queried.
	ErrEmptyDomain = errors.New("empty domain")
	// ErrEmptyMsg is returned when a DNS exchange yields no message.
	ErrEmptyMsg = errors.New("empty message")
	// ErrServerFailure is returned when the upstream reports SERVFAIL or REFUSED.
	ErrServerFailure = errors.New("upstream server failure")
)

// Backend resolves a domain to its A and AAAA addresses.
//
// An answer with no addresses is a successful empty result, not an error.
// Implementations are safe for concurrent use.
type Backend interface {
	Name() string
	Query(ctx context.Context, domain string) ([]netip.Addr, error)
}

// Exchanger defines the interface for DNS message exchange.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// HTTPDoer is the subset of *http.Client used by the HTTP backends.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type options struct {
	client    HTTPDoer
	exchanger Exchanger
}

// Opt is a function option for configuring backends built by New.
type Opt func(o *options)

// WithHTTPClient replaces the HTTP client used by doh-json, doh and bgp backends.
func WithHTTPClient(c HTTPDoer) Opt {
	return func(o *options) {
		o.client = c
	}
}

// WithExchanger replaces the DNS exchanger used by dns backends.
func WithExchanger(e Exchanger) Opt {
	return func(o *options) {
		o.exchanger = e
	}
}

// New builds the backend described by cfg. timeout bounds a single request.
func New(cfg config.BackendConfig, timeout time.Duration, opts ...Opt) (Backend, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.Kind {
	case config.KindDoHJSON:
		return &DoHJSON{name: cfg.Name, endpoint: cfg.URL, client: o.httpClient(timeout)}, nil
	case config.KindDoH:
		return &DoH{name: cfg.Name, endpoint: cfg.URL, client: o.httpClient(timeout)}, nil
	case config.KindBGP:
		return &BGP{name: cfg.Name, endpoint: strings.TrimRight(cfg.URL, "/"), client: o.httpClient(timeout)}, nil
	case config.KindDNS:
		c := NewDNS(cfg.Name, timeout, WithServers(cfg.Servers))
		if o.exchanger != nil {
			c.Client = o.exchanger
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// NewSet builds every configured backend, in configuration order.
func NewSet(cfgs []config.BackendConfig, timeout time.Duration, opts ...Opt) ([]Backend, error) {
	out := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		b, err := New(cfg, timeout, opts...)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", cfg.Name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (o *options) httpClient(timeout time.Duration) HTTPDoer {
	if o.client != nil {
		return o.client
	}
	return newHTTPClient(timeout)
}

// addrList accumulates addresses, dropping repeats while keeping the
// order of first appearance.
type addrList struct {
	seen  map[netip.Addr]struct{}
	addrs []netip.Addr
}

func (l *addrList) add(addrs ...netip.Addr) {
	if l.seen == nil {
		l.seen = make(map[netip.Addr]struct{})
	}
	for _, a := range addrs {
		if _, ok := l.seen[a]; ok {
			continue
		}
		l.seen[a] = struct{}{}
		l.addrs = append(l.addrs, a)
	}
}

// answerAddrs extracts the A and AAAA answers of a DNS message.
func answerAddrs(resp *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range resp.Answer {
		switch record := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(record.A); ok {
				out = append(out, a.Unmap())
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(record.AAAA); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

// rcodeErr maps failure rcodes to ErrServerFailure. NXDOMAIN and NOERROR
// are answers, not failures.
func rcodeErr(rcode int) error {
	switch rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrServerFailure, dns.RcodeToString[rcode])
	}
}

// queryTypes are resolved for every domain, A first.
var queryTypes = [...]uint16{dns.TypeA, dns.TypeAAAA}
