// Package backend implements the name-resolution backends a shard of
// candidate domains is sent to.
//
// Every backend satisfies the Backend interface and returns the union of a
// domain's A and AAAA answers, deduplicated with A answers first. Four
// kinds are available:
//
//   - doh-json: the JSON API served by dns.google/resolve and doh.sb
//     (GET ?name=<domain>&type=A, Accept: application/dns-json)
//   - doh: RFC 8484 wire format over GET
//   - dns: classic DNS through github.com/miekg/dns against a server pool
//   - bgp: scrapes the ipinfo block of bgp.he.net/dns/<domain>
//
// # Basic Usage
//
//	b, err := backend.New(config.BackendConfig{
//		Name: "google",
//		Kind: config.KindDoHJSON,
//		URL:  "https://dns.google/resolve",
//	}, 10*time.Second)
//	if err != nil {
//		return err
//	}
//	addrs, err := b.Query(ctx, "example.com")
//
// The HTTP kinds share one *http.Client per backend with HTTP/2 enabled
// through golang.org/x/net/http2. Tests replace it with WithHTTPClient, and
// the DNS exchanger with WithExchanger.
//
// # Errors
//
// A non-200 status wraps ErrStatus. SERVFAIL and REFUSED answers wrap
// ErrServerFailure; NXDOMAIN is an empty answer. Backends do not retry:
// retries, delays and backoff belong to the query package.
//
// The HTTP kinds fail the query when either lookup fails. The dns kind
// keeps the answers of whichever lookup succeeded and fails only when both
// do. Answer data that is not an address is skipped with a warning.
package backend
