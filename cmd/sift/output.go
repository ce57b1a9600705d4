package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/multierr"

	"github.com/lc/sift/internal/addrset"
	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/log"
	"github.com/lc/sift/internal/pairfile"
	"github.com/lc/sift/internal/pipeline"
	"github.com/lc/sift/internal/query"
	"github.com/lc/sift/internal/shard"
)

func newTable(w io.Writer, header []string, columns ...tablewriter.Colors) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	headerColors := make([]tablewriter.Colors, len(header))
	for i := range headerColors {
		headerColors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor}
	}
	table.SetHeaderColor(headerColors...)
	table.SetBorder(false)
	if len(columns) == len(header) {
		table.SetColumnColor(columns...)
	}
	return table
}

func renderPlan(w io.Writer, cfg *config.Config, plan []shard.Shard, n int) {
	table := newTable(w, []string{"Backend", "Weight", "Start", "End", "Domains"},
		tablewriter.Colors{tablewriter.FgGreenColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgYellowColor},
	)
	weights := make(map[string]int, len(cfg.Backends))
	for _, b := range cfg.Backends {
		weights[b.Name] = b.Weight
	}
	for _, s := range plan {
		table.Append([]string{
			s.Backend,
			strconv.Itoa(weights[s.Backend]),
			strconv.Itoa(s.Start),
			strconv.Itoa(s.End),
			strconv.Itoa(s.Len()),
		})
	}

	color.New(color.Bold).Fprintf(w, "SHARD PLAN FOR %d CANDIDATES:\n", n)
	table.Render()
}

type reportRow struct {
	backend    string
	pairs      int
	unresolved int
	attempts   int64
	failures   int64
	elapsed    time.Duration
}

func rowFromReport(r query.Report) reportRow {
	return reportRow{
		backend:    r.Backend,
		pairs:      len(r.Pairs),
		unresolved: len(r.Unresolved),
		attempts:   r.Attempts,
		failures:   r.Failures,
		elapsed:    r.Elapsed,
	}
}

func renderReports(w io.Writer, rows []reportRow) {
	table := newTable(w, []string{"Backend", "Pairs", "Unresolved", "Attempts", "Failures", "Elapsed"},
		tablewriter.Colors{tablewriter.FgGreenColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgRedColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgYellowColor},
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
	)
	for _, r := range rows {
		table.Append([]string{
			r.backend,
			strconv.Itoa(r.pairs),
			strconv.Itoa(r.unresolved),
			strconv.FormatInt(r.attempts, 10),
			strconv.FormatInt(r.failures, 10),
			r.elapsed.Round(time.Millisecond).String(),
		})
	}

	color.New(color.Bold).Fprintln(w, "QUERY RESULTS:")
	table.Render()
}

func printDone(verb, what, path string) {
	color.New(color.FgGreen, color.Bold).Printf("✓ %s ", verb)
	color.New(color.FgHiGreen, color.Bold).Printf("%s ", what)
	color.New(color.FgGreen).Printf("-> ")
	color.New(color.FgHiWhite).Printf("%s\n", path)
}

func printSummary(cfg *config.Config, sum pipeline.Summary) {
	if sum.Result.Empty() {
		color.New(color.FgHiRed, color.Bold).Print("WARNING: ")
		color.New(color.FgYellow).Println(pipeline.NoMatchWarning)
		return
	}
	printDone("Matched", fmt.Sprintf("%d domains", len(sum.Result.Domains)), cfg.DomainsPath())
	printDone("Matched", fmt.Sprintf("%d IPv4 + %d IPv6 addresses", len(sum.Result.IPv4), len(sum.Result.IPv6)), cfg.AddressesPath())
	if n := sum.Unresolved(); n > 0 {
		color.New(color.FgYellow).Printf("%d domains stayed unresolvable\n", n)
	}
}

func runPrefixes(stdin io.Reader, w io.Writer, path string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	prefixes, skipped := addrset.Collapse48(pairfile.SplitLines(data))
	for _, e := range multierr.Errors(skipped) {
		log.Warnf("prefixes: %v", e)
	}
	for _, p := range prefixes {
		if _, err := fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}
