package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/lc/sift/internal/log"
)

const (
	mimeDNSJSON  = "application/dns-json"
	maxBodyBytes = 1 << 20
)

// DoHJSON queries a DNS-over-HTTPS endpoint speaking the JSON API
// (dns.google/resolve style).
type DoHJSON struct {
	name     string
	endpoint string
	client   HTTPDoer
}

var _ Backend = (*DoHJSON)(nil)

type jsonAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	Data string `json:"data"`
}

type jsonResponse struct {
	Status int          `json:"Status"`
	Answer []jsonAnswer `json:"Answer"`
}

// Name implements Backend.
func (d *DoHJSON) Name() string { return d.name }

// Query implements Backend. The A and AAAA lookups run concurrently and
// both must succeed.
func (d *DoHJSON) Query(ctx context.Context, domain string) ([]netip.Addr, error) {
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
			addrs, err := d.lookup(ctx, domain, qt)
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

func (d *DoHJSON) lookup(ctx context.Context, domain string, qtype uint16) ([]netip.Addr, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", dns.TypeToString[qtype])
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, u.String(), mimeDNSJSON)
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

	var body jsonResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding %s answer for %q: %w", dns.TypeToString[qtype], domain, err)
	}
	if err := rcodeErr(body.Status); err != nil {
		return nil, fmt.Errorf("%s %q: %w", d.name, domain, err)
	}

	var out []netip.Addr
	for _, ans := range body.Answer {
		if ans.Type != dns.TypeA && ans.Type != dns.TypeAAAA {
			continue
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(ans.Data))
		if err != nil {
			log.Warnf("%s: skipping answer %q for %q: %v", d.name, ans.Data, domain, err)
			continue
		}
		out = append(out, addr.Unmap())
	}
	return out, nil
}
