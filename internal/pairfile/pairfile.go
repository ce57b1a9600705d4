// Package pairfile reads and writes the plain-text files that carry data
// between pipeline phases: the candidate list (one domain per line) and the
// per-backend results (one "domain,address" pair per line).
package pairfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"go.uber.org/multierr"

	"github.com/lc/sift/internal/filesys"
	"github.com/lc/sift/internal/query"
)

// ErrMalformedPair marks a result line that is not "domain,address".
var ErrMalformedPair = errors.New("malformed pair")

const filePerm = 0o644

// Encode renders pairs as "domain,address" lines.
func Encode(pairs []query.Pair) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		buf.WriteString(p.Domain)
		buf.WriteByte(',')
		buf.WriteString(p.Addr.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Parse reads "domain,address" lines. Blank lines are ignored. Lines that do
// not hold exactly one comma or whose address does not parse are skipped;
// each one is reported in the returned multierr, wrapping ErrMalformedPair.
func Parse(r io.Reader) ([]query.Pair, error) {
	var (
		pairs   []query.Pair
		skipped error
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		domain, raw, ok := strings.Cut(line, ",")
		if !ok || domain == "" || strings.Contains(raw, ",") {
			skipped = multierr.Append(skipped, fmt.Errorf("line %d %q: %w", n, line, ErrMalformedPair))
			continue
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			skipped = multierr.Append(skipped, fmt.Errorf("line %d %q: %w: %v", n, line, ErrMalformedPair, err))
			continue
		}
		pairs = append(pairs, query.Pair{Domain: strings.TrimSpace(domain), Addr: addr})
	}
	if err := sc.Err(); err != nil {
		return pairs, multierr.Append(skipped, err)
	}
	return pairs, skipped
}

// Read opens path and parses its pairs. err reports a failure to read the
// file; skipped reports malformed lines, which do not prevent a result.
func Read(fsys filesys.ReadFS, path string) (pairs []query.Pair, skipped error, err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	pairs, skipped = Parse(f)
	return pairs, skipped, nil
}

// Write atomically replaces path with the encoded pairs.
func Write(fsys filesys.FileOps, path string, pairs []query.Pair) error {
	return filesys.AtomicWrite(fsys, path, Encode(pairs), filePerm)
}

// ReadLines returns the non-blank, trimmed lines of path.
func ReadLines(fsys filesys.ReadFS, path string) ([]string, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(data), nil
}

// SplitLines returns the non-blank, trimmed lines of data.
func SplitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// WriteLines atomically replaces path with one line per entry.
func WriteLines(fsys filesys.FileOps, path string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return filesys.AtomicWrite(fsys, path, buf.Bytes(), filePerm)
}
