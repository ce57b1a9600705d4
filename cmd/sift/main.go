// Command `sift` finds the domains of a candidate list that are served from
// a provider's published address ranges.
//
// A run downloads candidate lists, splits them across several DNS-over-HTTPS
// (or classic DNS, or passive DNS) backends in fixed proportions, resolves
// every shard under a concurrency cap, and keeps the domains whose first
// in-range address matches.
//
// Usage:
//
//	sift run                 - Fetch, query every backend, match and write outputs
//	sift fetch               - Build the candidate list only
//	sift plan [-n count]     - Show how candidates are split across backends
//	sift query <backend>     - Query one backend's shard and write its results file
//	sift match               - Match all results files against the ranges
//	sift prefixes <file>     - Print the unique IPv6 /48 prefixes of a list
//
// The phases share files in the configured work directory, so the query
// step can run as one process per backend (e.g. one CI job each) followed
// by a single match.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lc/sift/internal/buildinfo"
	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/log"
	"github.com/lc/sift/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		code = 1
	}
	stop()
	log.Sync()
	os.Exit(code)
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "sift",
		Short: "Sift domains served from a provider's address ranges",
		Long: `sift resolves a large list of candidate domains across several
independent resolvers and keeps those that resolve into a provider's
published address ranges. Results are written as a sorted domain list
and a sorted address list (IPv4 first, then IPv6).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigPath, "path to the configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.New(cfgPath).Load()
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
		return cfg, nil
	}
	build := func() (*config.Config, *pipeline.Pipeline, error) {
		cfg, err := load()
		if err != nil {
			return nil, nil, err
		}
		p, err := pipeline.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, p, nil
	}

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	// ---- fetch command ----
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Build the candidate list from the configured sources",
		Long: `Download every configured source list, extract and normalize the
host names, and write the deduplicated, sorted candidate list.`,
		Example: "sift fetch -c sift.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, p, err := build()
			if err != nil {
				return err
			}
			domains, err := p.FetchDomains(cmd.Context())
			if err != nil {
				return err
			}
			printDone("Collected", fmt.Sprintf("%d candidate domains", len(domains)), cfg.CandidatesPath())
			return nil
		},
	}

	// ---- plan command ----
	var planCount int
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how the candidate list is split across backends",
		Long: `Print the shard of every backend: the half-open index range of the
candidate list it will query. The candidate list is read from the work
directory unless --count is given.`,
		Example: "sift plan\n  sift plan --count 100000",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, p, err := build()
			if err != nil {
				return err
			}
			n := planCount
			if n < 0 {
				domains, err := p.Candidates()
				if err != nil {
					return err
				}
				n = len(domains)
			}
			plan, err := p.Plan(n)
			if err != nil {
				return err
			}
			renderPlan(os.Stdout, cfg, plan, n)
			return nil
		},
	}
	planCmd.Flags().IntVarP(&planCount, "count", "n", -1, "plan for this many candidates instead of reading the list")

	// ---- query command ----
	queryCmd := &cobra.Command{
		Use:   "query <backend>",
		Short: "Query one backend's shard and write its results file",
		Long: `Resolve the shard of the candidate list assigned to <backend> and write
"domain,address" lines to ip_results_<backend>.txt in the work directory.
Domains that stay unresolvable after the configured attempts are reported
and skipped.`,
		Example: "sift query google",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, err := build()
			if err != nil {
				return err
			}
			report, err := p.QueryBackend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderReports(os.Stdout, []reportRow{rowFromReport(report)})
			printDone("Wrote", fmt.Sprintf("%d pairs", len(report.Pairs)), cfg.BackendFile(args[0]))
			return nil
		},
	}

	// ---- match command ----
	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Match the results files against the address ranges",
		Long: `Merge the results file of every configured backend, load the address
ranges and write the matched domains and addresses. Missing results files
are reported and skipped.`,
		Example: "sift match",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, p, err := build()
			if err != nil {
				return err
			}
			sum, err := p.Match(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cfg, sum)
			return nil
		},
	}

	// ---- run command ----
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, query every backend concurrently, then match",
		Example: "sift run -c sift.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, p, err := build()
			if err != nil {
				return err
			}
			sum, err := p.Run(cmd.Context())
			if len(sum.Reports) > 0 {
				rows := make([]reportRow, 0, len(sum.Reports))
				for _, r := range sum.Reports {
					rows = append(rows, rowFromReport(r))
				}
				renderReports(os.Stdout, rows)
			}
			if err != nil {
				return err
			}
			printSummary(cfg, sum)
			return nil
		},
	}

	// ---- prefixes command ----
	prefixesCmd := &cobra.Command{
		Use:   "prefixes <file>",
		Short: "Print the unique IPv6 /48 prefixes of an address list",
		Long: `Read IPv6 addresses or prefixes, one per line, fold each to the /48
containing it and print the unique prefixes in numeric order. Use "-" to
read standard input. Lines that are not IPv6 are skipped with a warning.`,
		Example: "sift prefixes optimized_ips.txt",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefixes(cmd.InOrStdin(), os.Stdout, args[0])
		},
	}

	root.AddCommand(runCmd, fetchCmd, planCmd, queryCmd, matchCmd, prefixesCmd, versionCmd)
	return root
}
