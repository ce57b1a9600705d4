// Package addrset holds a provider's published network ranges and answers
// containment queries for resolved addresses.
//
// Ranges are loaded once per run and never change afterwards, so a Set is
// safe for concurrent use by any number of readers.
package addrset

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/multierr"
	"go4.org/netipx"
)

// ErrMalformedRange marks a range line that could not be parsed.
var ErrMalformedRange = errors.New("malformed range")

// LineError describes a skipped input line.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Set is an immutable collection of IPv4 and IPv6 prefixes.
type Set struct {
	prefixes []netip.Prefix
	ipset    *netipx.IPSet
}

// Load parses one CIDR per line. Blank lines and lines starting with '#'
// are ignored. Lines without a '/' or with an unparsable prefix are skipped;
// each one is reported as a *LineError in the returned multierr. The Set is
// never nil, so callers can log the error and carry on.
//
// Host bits are masked off: "10.0.0.7/24" is stored as 10.0.0.0/24.
func Load(lines []string) (*Set, error) {
	var (
		b        netipx.IPSetBuilder
		prefixes []netip.Prefix
		skipped  error
	)
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "/") {
			skipped = multierr.Append(skipped, &LineError{Line: i + 1, Text: line, Err: fmt.Errorf("%w: missing prefix length", ErrMalformedRange)})
			continue
		}
		p, err := netip.ParsePrefix(line)
		if err != nil {
			skipped = multierr.Append(skipped, &LineError{Line: i + 1, Text: line, Err: fmt.Errorf("%w: %v", ErrMalformedRange, err)})
			continue
		}
		p = p.Masked()
		prefixes = append(prefixes, p)
		b.AddPrefix(p)
	}

	ipset, err := b.IPSet()
	if err != nil {
		// IPSetBuilder only fails on invalid prefixes, which were filtered above.
		skipped = multierr.Append(skipped, err)
		ipset = &netipx.IPSet{}
	}
	return &Set{prefixes: prefixes, ipset: ipset}, skipped
}

// MustLoad is like Load but panics if any line is malformed. Intended for
// constants and tests.
func MustLoad(lines ...string) *Set {
	s, err := Load(lines)
	if err != nil {
		panic(err)
	}
	return s
}

// Contains reports whether addr falls within at least one stored range of
// the same address family. IPv4-mapped IPv6 addresses are treated as IPv6.
func (s *Set) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	return s.ipset.Contains(addr.WithZone(""))
}

// ContainsLinear is the reference containment check: it scans every stored
// prefix. It agrees with Contains for every input and exists so the fast
// path can be verified against it.
func (s *Set) ContainsLinear(addr netip.Addr) bool {
	addr = addr.WithZone("")
	for _, p := range s.prefixes {
		if p.Addr().BitLen() != addr.BitLen() {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of stored prefixes, duplicates included.
func (s *Set) Len() int { return len(s.prefixes) }

// Prefixes returns a copy of the stored prefixes in load order.
func (s *Set) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, len(s.prefixes))
	copy(out, s.prefixes)
	return out
}
