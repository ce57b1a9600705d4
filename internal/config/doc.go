// Package config provides configuration loading and validation for sift.
//
// The package uses a Provider interface to abstract configuration loading, with the
// primary implementation being filesystem-based configuration via YAML files.
//
// # Configuration Structure
//
//	work_dir: .                          # where intermediate and output files live
//	candidates_file: temp_domains.txt    # merged candidate list
//	sources:
//	  - url: https://example.org/rules.list
//	    format: clash                    # clash | plain | adguard
//	ranges:
//	  url: https://example.org/ranges.txt  # http(s) URL or local path
//	  cache_file: cached_cidr.txt        # optional fallback copy
//	query:
//	  concurrency: 10                    # in-flight queries per backend
//	  timeout: 10s                       # per attempt
//	  delay_min: 1s                      # politeness delay before each attempt
//	  delay_max: 2s
//	  backoff: 2s                        # doubles after each failure
//	  max_backoff: 30s
//	  max_attempts: 8                    # 0 retries until cancelled
//	  rate: 0                            # queries/sec per backend, 0 = unlimited
//	backends:
//	  - name: google
//	    kind: doh-json                   # doh-json | doh | dns | bgp
//	    url: https://dns.google/resolve
//	    weight: 71
//	  - name: local
//	    kind: dns
//	    servers: ["1.1.1.1:53"]
//	    weight: 10
//	output:
//	  domains_file: optimized_domains.txt
//	  addresses_file: optimized_ips.txt
//	  keep_intermediate: false
//
// The order of backends matters: it decides which contiguous slice of the
// candidate list each backend receives.
//
// # Defaults
//
// A missing file yields Default(): the ten DNS-over-HTTPS backends with
// weights 60, 71, 71, 58, 62, 68, 62, 38, 51 and 45, ten concurrent queries,
// a 1-2s politeness delay and at most eight attempts per domain. Keys present
// in the file override the defaults; a backends or sources list replaces the
// default list entirely.
//
// # Validation
//
// Load validates the result and wraps any failure in ErrInvalidConfig.
package config
