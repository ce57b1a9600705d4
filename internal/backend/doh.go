package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

const mimeDNSMessage = "application/dns-message"

// DoH queries an RFC 8484 endpoint using the DNS wire format over GET.
type DoH struct {
	name     string
	endpoint string
	client   HTTPDoer
}

var _ Backend = (*DoH)(nil)

// Name implements Backend.
func (d *DoH) Name() string { return d.name }

// Query implements Backend.
func (d *DoH) Query(ctx context.Context, domain string) ([]netip.Addr, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	if addr, ok := literal(domain); ok {
		return []netip.Addr{addr}, nil
	}

	var results [len(queryTypes)][]netip.Addr
	grp, ctx := errgroup.WithContext(ctx)
	for i, qt := range queryTypes {
		grp.Go(func() error {
			addrs, err := d.exchange(ctx, domain, qt)
			if err != nil {
				return err
			}
			results[i] = addrs
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var list addrList
	for _, addrs := range results {
		list.add(addrs...)
	}
	return list.addrs, nil
}

func (d *DoH) exchange(ctx context.Context, domain string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true
	// RFC 8484 4.1: the id should be 0 for cache friendliness.
	msg.Id = 0
	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing query for %q: %w", domain, err)
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("dns", base64.RawURLEncoding.EncodeToString(packed))
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, u.String(), mimeDNSMessage)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %w %d", d.name, dns.TypeToString[qtype], ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s answer for %q: %w", dns.TypeToString[qtype], domain, err)
	}
	answer := new(dns.Msg)
	if err := answer.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpacking %s answer for %q: %w", dns.TypeToString[qtype], domain, err)
	}
	if err := rcodeErr(answer.Rcode); err != nil {
		return nil, fmt.Errorf("%s %q: %w", d.name, domain, err)
	}
	return answerAddrs(answer), nil
}
