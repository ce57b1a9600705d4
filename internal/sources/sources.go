// Package sources builds the candidate domain list from remote rule lists
// and loads the published address ranges.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/net/idna"

	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/log"
)

var (
	// ErrUnknownFormat is returned by Parse for an unsupported list format.
	ErrUnknownFormat = errors.New("unknown list format")
	// ErrStatus is returned when a list download answers with a non-200 status.
	ErrStatus = errors.New("unexpected http status")
	// ErrNoSources is returned by Collect when every source failed.
	ErrNoSources = errors.New("no source could be fetched")
)

const maxDocumentBytes = 256 << 20

// Doer is the subset of *http.Client used for downloads.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetch downloads a text document.
func Fetch(ctx context.Context, client Doer, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "sift")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %w %d", url, ErrStatus, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

// Parse extracts the raw host entries of a list in the given format.
//
//   - clash: "DOMAIN,<host>" and "DOMAIN-SUFFIX,<host>" rules
//   - plain: one host per line; '#' and '!' start comments
//   - adguard: "||<host>^" rules
//
// Entries are returned as written; Normalize them before use.
func Parse(format string, data []byte) ([]string, error) {
	var extract func(line string) (string, bool)
	switch format {
	case config.FormatClash:
		extract = clashHost
	case config.FormatPlain:
		extract = plainHost
	case config.FormatAdGuard:
		extract = adguardHost
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if host, ok := extract(line); ok {
			out = append(out, host)
		}
	}
	return out, nil
}

func clashHost(line string) (string, bool) {
	if !strings.HasPrefix(line, "DOMAIN,") && !strings.HasPrefix(line, "DOMAIN-SUFFIX,") {
		return "", false
	}
	fields := strings.Split(line, ",")
	return fields[1], fields[1] != ""
}

func plainHost(line string) (string, bool) {
	if line[0] == '#' || line[0] == '!' {
		return "", false
	}
	return strings.Fields(line)[0], true
}

func adguardHost(line string) (string, bool) {
	if !strings.HasPrefix(line, "||") || !strings.HasSuffix(line, "^") {
		return "", false
	}
	host := strings.TrimSuffix(strings.TrimPrefix(line, "||"), "^")
	return host, host != ""
}

// Normalize lowercases host, drops a trailing dot and converts
// internationalized names to their ASCII form. IP literals are returned in
// canonical form.
func Normalize(host string) (string, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", errors.New("empty host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}

// Collect fetches every source, then returns the normalized, deduplicated
// and sorted union of their hosts. A failing source is logged and skipped;
// its error is returned alongside the domains. Collect fails only when no
// source could be fetched.
func Collect(ctx context.Context, client Doer, srcs []config.SourceConfig) ([]string, error) {
	var (
		errs    error
		fetched int
		invalid int
	)
	seen := make(map[string]struct{})
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := Fetch(ctx, client, src.URL)
		if err != nil {
			log.Warnf("sources: skipping %s: %v", src.URL, err)
			errs = multierr.Append(errs, err)
			continue
		}
		hosts, err := Parse(src.Format, data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.URL, err))
			continue
		}
		fetched++
		before := len(seen)
		for _, h := range hosts {
			d, err := Normalize(h)
			if err != nil {
				invalid++
				log.Debugf("sources: skipping host %q from %s: %v", h, src.URL, err)
				continue
			}
			seen[d] = struct{}{}
		}
		log.Infof("sources: %s gave %d entries, %d new", src.URL, len(hosts), len(seen)-before)
	}

	if fetched == 0 && len(srcs) > 0 {
		return nil, multierr.Append(ErrNoSources, errs)
	}
	if invalid > 0 {
		log.Warnf("sources: skipped %d invalid hosts", invalid)
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out, errs
}
