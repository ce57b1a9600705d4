package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lc/sift/internal/log"
)

const ipInfoSelector = `div#ipinfo a[href^="/ip/"]`

// BGP scrapes the passive DNS page of a bgp.he.net style looking glass.
type BGP struct {
	name     string
	endpoint string
	client   HTTPDoer
}

var _ Backend = (*BGP)(nil)

// Name implements Backend.
func (b *BGP) Name() string { return b.name }

// Query implements Backend. A page without an ipinfo block yields no
// addresses and no error.
func (b *BGP) Query(ctx context.Context, domain string) ([]netip.Addr, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	req, err := newRequest(ctx, b.endpoint+"/dns/"+url.PathEscape(domain), "text/html")
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w %d", b.name, ErrStatus, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 4*maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s page for %q: %w", b.name, domain, err)
	}
	return parseIPInfo(doc, b.name, domain), nil
}

func parseIPInfo(doc *goquery.Document, name, domain string) []netip.Addr {
	var list addrList
	doc.Find(ipInfoSelector).Each(func(_ int, s *goquery.Selection) {
		title, ok := s.Attr("title")
		if !ok {
			return
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(title))
		if err != nil {
			log.Warnf("%s: skipping entry %q for %q: %v", name, title, domain, err)
			return
		}
		list.add(addr.Unmap())
	})
	return list.addrs
}
