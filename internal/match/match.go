// Package match filters resolution pairs down to the domains and addresses
// that fall inside a provider's ranges.
package match

import (
	"bufio"
	"bytes"
	"io"
	"net/netip"
	"slices"

	"github.com/lc/sift/internal/query"
)

// Container answers range membership. *addrset.Set implements it.
type Container interface {
	Contains(addr netip.Addr) bool
}

// Result is the deduplicated, sorted outcome of a match.
type Result struct {
	Domains []string
	IPv4    []netip.Addr
	IPv6    []netip.Addr
}

// Match evaluates pairs in order. The first in-range address seen for a
// domain records that domain and that address; any later pair for the same
// domain is ignored, even if its address is in range too.
func Match(pairs []query.Pair, set Container) Result {
	matched := make(map[string]struct{})
	v4 := make(map[netip.Addr]struct{})
	v6 := make(map[netip.Addr]struct{})

	for _, p := range pairs {
		if _, done := matched[p.Domain]; done {
			continue
		}
		if !set.Contains(p.Addr) {
			continue
		}
		matched[p.Domain] = struct{}{}
		addr := p.Addr.WithZone("")
		if addr.Is4() {
			v4[addr] = struct{}{}
		} else {
			v6[addr] = struct{}{}
		}
	}

	res := Result{
		Domains: make([]string, 0, len(matched)),
		IPv4:    sortedAddrs(v4),
		IPv6:    sortedAddrs(v6),
	}
	for d := range matched {
		res.Domains = append(res.Domains, d)
	}
	slices.Sort(res.Domains)
	return res
}

func sortedAddrs(m map[netip.Addr]struct{}) []netip.Addr {
	out := make([]netip.Addr, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

// Empty reports whether nothing matched.
func (r Result) Empty() bool {
	return len(r.Domains) == 0 && len(r.IPv4) == 0 && len(r.IPv6) == 0
}

// Addrs returns the IPv4 block followed by the IPv6 block.
func (r Result) Addrs() []netip.Addr {
	return slices.Concat(r.IPv4, r.IPv6)
}

// WriteDomains writes one domain per line, each newline-terminated.
func (r Result) WriteDomains(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, d := range r.Domains {
		if _, err := bw.WriteString(d + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteAddrs writes every IPv4 address, then every IPv6 address, one per line.
func (r Result) WriteAddrs(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, a := range r.Addrs() {
		if _, err := bw.WriteString(a.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Render returns the contents of the domains file and the addresses file.
func (r Result) Render() (domains, addrs []byte) {
	var d, a bytes.Buffer
	// writes to a bytes.Buffer cannot fail
	_ = r.WriteDomains(&d)
	_ = r.WriteAddrs(&a)
	return d.Bytes(), a.Bytes()
}
