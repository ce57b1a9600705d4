package addrset

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

// Prefix48 folds an IPv6 address or prefix to the /48 network containing it.
// For a prefix the network address is used, so "2606:4700::/32" yields
// "2606:4700::/48".
func Prefix48(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	var addr netip.Addr
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		addr = p.Masked().Addr()
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		addr = a
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Prefix{}, fmt.Errorf("%q is not an IPv6 address", s)
	}
	return addr.WithZone("").Prefix(48)
}

// Collapse48 maps every line to its /48 and returns the unique prefixes in
// numeric order. Blank lines are ignored; unusable lines are skipped and
// reported through the multierr.
func Collapse48(lines []string) ([]netip.Prefix, error) {
	seen := make(map[netip.Prefix]struct{})
	var skipped error
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		p, err := Prefix48(line)
		if err != nil {
			skipped = multierr.Append(skipped, &LineError{Line: i + 1, Text: line, Err: err})
			continue
		}
		seen[p] = struct{}{}
	}

	out := make([]netip.Prefix, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b netip.Prefix) int { return a.Addr().Compare(b.Addr()) })
	return out, skipped
}
