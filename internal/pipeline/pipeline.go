// Package pipeline orchestrates a sift run: it builds the candidate list,
// splits it across the configured backends, queries every shard, and
// matches the collected pairs against the provider's address ranges.
//
// Each phase can also run on its own. The phases hand data to each other
// through files in the work directory, so a run can be split across
// processes or machines (one "query" invocation per backend, then "match").
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lc/sift/internal/addrset"
	"github.com/lc/sift/internal/backend"
	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/filesys"
	"github.com/lc/sift/internal/log"
	"github.com/lc/sift/internal/match"
	"github.com/lc/sift/internal/pairfile"
	"github.com/lc/sift/internal/query"
	"github.com/lc/sift/internal/shard"
	"github.com/lc/sift/internal/sources"
)

// ErrUnknownBackend is returned when a backend name is not configured.
var ErrUnknownBackend = errors.New("unknown backend")

// NoMatchWarning is logged when a match produces no output.
const NoMatchWarning = "no matching domains or addresses, check upstream data"

const outputPerm = 0o644

// Pipeline runs the phases of a sift run against one configuration.
type Pipeline struct {
	cfg      *config.Config
	fs       filesys.FileOps
	client   sources.Doer
	backends []backend.Backend
	runID    string
	log      *zap.SugaredLogger
}

// Opt is a function option for configuring a Pipeline.
type Opt func(p *Pipeline)

// WithFS replaces the file system used for all reads and writes.
func WithFS(fsys filesys.FileOps) Opt {
	return func(p *Pipeline) {
		p.fs = fsys
	}
}

// WithHTTPClient replaces the client used for source and range downloads.
func WithHTTPClient(c sources.Doer) Opt {
	return func(p *Pipeline) {
		p.client = c
	}
}

// WithBackends replaces the backends built from the configuration. The
// order of bs decides the shard order, and every backend must have a
// matching entry in the configuration for its weight.
func WithBackends(bs ...backend.Backend) Opt {
	return func(p *Pipeline) {
		p.backends = bs
	}
}

// New creates a Pipeline. Unless WithBackends is given, the backends are
// built from cfg.Backends.
func New(cfg *config.Config, opts ...Opt) (*Pipeline, error) {
	runID := uuid.NewString()
	p := &Pipeline{
		cfg:   cfg,
		fs:    filesys.OS(),
		runID: runID,
		log:   log.With("run_id", runID),
	}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		p.client = backend.NewHTTPClient(cfg.Query.Timeout * 6)
	}
	if p.backends == nil {
		bs, err := backend.NewSet(cfg.Backends, cfg.Query.Timeout)
		if err != nil {
			return nil, err
		}
		p.backends = bs
	}
	return p, nil
}

// RunID identifies this Pipeline in log output.
func (p *Pipeline) RunID() string { return p.runID }

// Summary describes a completed query and match.
type Summary struct {
	RunID      string
	Candidates int
	Plan       []shard.Shard
	Reports    []query.Report
	Pairs      int
	Ranges     int
	Result     match.Result
	Elapsed    time.Duration
}

// Unresolved returns the total number of unresolved domains over all reports.
func (s Summary) Unresolved() int {
	n := 0
	for _, r := range s.Reports {
		n += len(r.Unresolved)
	}
	return n
}

// FetchDomains downloads the configured sources and writes the candidate
// list. Sources that fail are logged; the call fails only when all do.
func (p *Pipeline) FetchDomains(ctx context.Context) ([]string, error) {
	domains, err := sources.Collect(ctx, p.client, p.cfg.Sources)
	if err != nil && len(domains) == 0 {
		return nil, fmt.Errorf("collecting domains: %w", err)
	}
	if err != nil {
		p.log.Warnf("some sources failed: %v", err)
	}
	if err := pairfile.WriteLines(p.fs, p.cfg.CandidatesPath(), domains); err != nil {
		return nil, fmt.Errorf("writing candidates: %w", err)
	}
	p.log.Infow("candidate list written", "path", p.cfg.CandidatesPath(), "domains", len(domains))
	return domains, nil
}

// Candidates reads the candidate list written by FetchDomains.
func (p *Pipeline) Candidates() ([]string, error) {
	domains, err := pairfile.ReadLines(p.fs, p.cfg.CandidatesPath())
	if err != nil {
		return nil, fmt.Errorf("reading candidates: %w", err)
	}
	return domains, nil
}

// Plan splits n candidates across the backends by weight.
func (p *Pipeline) Plan(n int) ([]shard.Shard, error) {
	weights := make([]shard.Weight, 0, len(p.backends))
	for _, b := range p.backends {
		bc, ok := p.backendConfig(b.Name())
		if !ok {
			return nil, fmt.Errorf("%w: %q has no configuration", ErrUnknownBackend, b.Name())
		}
		weights = append(weights, shard.Weight{Name: bc.Name, Weight: bc.Weight})
	}
	return shard.Plan(n, weights)
}

// QueryBackend queries the named backend's shard of the candidate list and
// writes its intermediate result file.
func (p *Pipeline) QueryBackend(ctx context.Context, name string) (query.Report, error) {
	b, ok := p.backend(name)
	if !ok {
		return query.Report{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	domains, err := p.Candidates()
	if err != nil {
		return query.Report{}, err
	}
	plan, err := p.Plan(len(domains))
	if err != nil {
		return query.Report{}, err
	}
	s, _ := shard.Find(plan, name)
	return p.queryShard(ctx, b, shard.Slice(domains, s))
}

func (p *Pipeline) queryShard(ctx context.Context, b backend.Backend, domains []string) (query.Report, error) {
	logger := p.log.With("backend", b.Name())
	logger.Infow("querying shard", "domains", len(domains))

	inv := query.NewInvoker(b, query.PolicyFromConfig(p.cfg.Query))
	report, err := query.NewRunner(inv, p.cfg.Query.Concurrency).Run(ctx, domains)
	if err != nil {
		return report, err
	}
	if report.Err != nil {
		logger.Warnw("domains left unresolved", "count", len(report.Unresolved), "error", report.Err)
	}
	if err := pairfile.Write(p.fs, p.cfg.BackendFile(b.Name()), report.Pairs); err != nil {
		return report, fmt.Errorf("writing %s results: %w", b.Name(), err)
	}
	return report, nil
}

// Match merges the intermediate files of every backend, matches the pairs
// against the address ranges and writes the two output files. A missing
// intermediate file is logged and skipped.
func (p *Pipeline) Match(ctx context.Context) (Summary, error) {
	start := time.Now()
	lists := make([][]query.Pair, 0, len(p.backends))
	for _, b := range p.backends {
		path := p.cfg.BackendFile(b.Name())
		pairs, skipped, err := pairfile.Read(p.fs, path)
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Warnf("results file %s does not exist", path)
			continue
		}
		if err != nil {
			return Summary{}, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, e := range multierr.Errors(skipped) {
			p.log.Warnf("%s: %v", path, e)
		}
		lists = append(lists, pairs)
	}

	sum, err := p.match(ctx, query.Merge(lists...))
	if err != nil {
		return sum, err
	}
	sum.Elapsed = time.Since(start)
	return sum, p.cleanup()
}

func (p *Pipeline) match(ctx context.Context, pairs []query.Pair) (Summary, error) {
	lines, err := sources.LoadRanges(ctx, p.client, p.fs, p.cfg.Ranges.URL, p.cfg.Ranges.CacheFile)
	if err != nil {
		return Summary{}, err
	}
	set, skipped := addrset.Load(lines)
	for _, e := range multierr.Errors(skipped) {
		p.log.Warnf("invalid range: %v", e)
	}
	p.log.Infow("ranges loaded", "valid", set.Len(), "skipped", len(multierr.Errors(skipped)))

	res := match.Match(pairs, set)
	domains, addrs := res.Render()
	if err := filesys.AtomicWrite(p.fs, p.cfg.DomainsPath(), domains, outputPerm); err != nil {
		return Summary{}, fmt.Errorf("writing domains: %w", err)
	}
	if err := filesys.AtomicWrite(p.fs, p.cfg.AddressesPath(), addrs, outputPerm); err != nil {
		return Summary{}, fmt.Errorf("writing addresses: %w", err)
	}
	if res.Empty() {
		p.log.Warn(NoMatchWarning)
	}
	p.log.Infow("match complete",
		"pairs", len(pairs),
		"domains", len(res.Domains),
		"ipv4", len(res.IPv4),
		"ipv6", len(res.IPv6),
	)

	return Summary{
		RunID:  p.runID,
		Pairs:  len(pairs),
		Ranges: set.Len(),
		Result: res,
	}, nil
}

// Run executes a full run: fetch, plan, query every backend concurrently,
// then match and write the outputs.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	domains, err := p.FetchDomains(ctx)
	if err != nil {
		return Summary{}, err
	}
	plan, err := p.Plan(len(domains))
	if err != nil {
		return Summary{}, err
	}

	reports := make([]query.Report, len(p.backends))
	grp, gctx := errgroup.WithContext(ctx)
	for i, b := range p.backends {
		grp.Go(func() error {
			report, err := p.queryShard(gctx, b, shard.Slice(domains, plan[i]))
			reports[i] = report
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		return Summary{RunID: p.runID, Candidates: len(domains), Plan: plan, Reports: reports}, err
	}

	sum, err := p.Match(ctx)
	sum.Candidates = len(domains)
	sum.Plan = plan
	sum.Reports = reports
	sum.Elapsed = time.Since(start)
	return sum, err
}

// cleanup removes the candidate list and intermediate files unless the
// configuration keeps them.
func (p *Pipeline) cleanup() error {
	if p.cfg.Output.KeepIntermediate {
		return nil
	}
	var errs error
	errs = multierr.Append(errs, filesys.RemoveIfExists(p.fs, p.cfg.CandidatesPath()))
	for _, b := range p.backends {
		errs = multierr.Append(errs, filesys.RemoveIfExists(p.fs, p.cfg.BackendFile(b.Name())))
	}
	if errs != nil {
		return fmt.Errorf("removing intermediate files: %w", errs)
	}
	return nil
}

func (p *Pipeline) backend(name string) (backend.Backend, bool) {
	for _, b := range p.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

func (p *Pipeline) backendConfig(name string) (config.BackendConfig, bool) {
	for _, bc := range p.cfg.Backends {
		if bc.Name == name {
			return bc, true
		}
	}
	return config.BackendConfig{}, false
}
