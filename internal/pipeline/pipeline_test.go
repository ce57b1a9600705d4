package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/mocks"
	"github.com/lc/sift/internal/query"
	"github.com/lc/sift/internal/shard"
)

type PipelineTestSuite struct {
	suite.Suite
	dir    string
	srv    *httptest.Server
	ranges string
	cfg    *config.Config
	one    *mocks.MockBackend
	two    *mocks.MockBackend
}

func (s *PipelineTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.ranges = "10.0.0.0/24\n2400:cb00::/32\nnot-a-range\n"

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/clash.list":
			fmt.Fprint(w, "DOMAIN,d.example\nDOMAIN-SUFFIX,b.example\n")
		case "/plain.txt":
			fmt.Fprint(w, "a.example\nc.example\nB.example.\n")
		case "/ranges.txt":
			fmt.Fprint(w, s.ranges)
		default:
			http.NotFound(w, r)
		}
	}))
	s.T().Cleanup(s.srv.Close)

	s.cfg = config.Default()
	s.cfg.WorkDir = s.dir
	s.cfg.Sources = []config.SourceConfig{
		{URL: s.srv.URL + "/clash.list", Format: config.FormatClash},
		{URL: s.srv.URL + "/plain.txt", Format: config.FormatPlain},
	}
	s.cfg.Ranges = config.RangesConfig{URL: s.srv.URL + "/ranges.txt"}
	s.cfg.Query = config.QueryConfig{Concurrency: 2, MaxAttempts: 2}
	s.cfg.Backends = []config.BackendConfig{
		{Name: "one", Kind: config.KindDoHJSON, URL: "https://one.example/dns-query", Weight: 1},
		{Name: "two", Kind: config.KindDoHJSON, URL: "https://two.example/dns-query", Weight: 1},
	}

	s.one = mocks.NewMockBackend("one")
	s.two = mocks.NewMockBackend("two")
}

func (s *PipelineTestSuite) expectQueries() {
	addr := netip.MustParseAddr
	s.one.On("Query", mock.Anything, "a.example").Return([]netip.Addr{addr("10.0.0.5")}, nil)
	s.one.On("Query", mock.Anything, "b.example").Return([]netip.Addr{addr("192.0.2.1")}, nil)
	s.two.On("Query", mock.Anything, "c.example").Return(nil, errors.New("SERVFAIL"))
	s.two.On("Query", mock.Anything, "d.example").Return([]netip.Addr{addr("2400:cb00::1"), addr("10.0.0.5")}, nil)
}

func (s *PipelineTestSuite) newPipeline() *Pipeline {
	p, err := New(s.cfg, WithHTTPClient(s.srv.Client()), WithBackends(s.one, s.two))
	s.Require().NoError(err)
	return p
}

func (s *PipelineTestSuite) read(name string) string {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	s.Require().NoError(err)
	return string(data)
}

func (s *PipelineTestSuite) TestRun() {
	s.expectQueries()
	p := s.newPipeline()

	sum, err := p.Run(context.Background())

	s.Require().NoError(err)
	s.Equal(p.RunID(), sum.RunID)
	s.Equal(4, sum.Candidates)
	s.Equal([]shard.Shard{{Backend: "one", Start: 0, End: 2}, {Backend: "two", Start: 2, End: 4}}, sum.Plan)
	s.Equal(4, sum.Pairs)
	s.Equal(2, sum.Ranges)
	s.Equal(1, sum.Unresolved())
	s.Equal([]string{"c.example"}, sum.Reports[1].Unresolved)

	s.Equal("a.example\nd.example\n", s.read(config.DefaultDomainsFile))
	s.Equal("10.0.0.5\n2400:cb00::1\n", s.read(config.DefaultAddressesFile))

	for _, name := range []string{config.DefaultCandidatesFile, "ip_results_one.txt", "ip_results_two.txt"} {
		_, err := os.Stat(filepath.Join(s.dir, name))
		s.ErrorIs(err, os.ErrNotExist, name)
	}
	s.one.AssertExpectations(s.T())
	s.two.AssertExpectations(s.T())
	s.two.AssertNumberOfCalls(s.T(), "Query", 3)
}

func (s *PipelineTestSuite) TestPhasesKeepIntermediate() {
	s.expectQueries()
	s.cfg.Output.KeepIntermediate = true
	p := s.newPipeline()
	ctx := context.Background()

	domains, err := p.FetchDomains(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a.example", "b.example", "c.example", "d.example"}, domains)
	s.Equal("a.example\nb.example\nc.example\nd.example\n", s.read(config.DefaultCandidatesFile))

	report, err := p.QueryBackend(ctx, "two")
	s.Require().NoError(err)
	s.Equal([]query.Pair{
		{Domain: "d.example", Addr: netip.MustParseAddr("2400:cb00::1")},
		{Domain: "d.example", Addr: netip.MustParseAddr("10.0.0.5")},
	}, report.Pairs)
	s.Equal("d.example,2400:cb00::1\nd.example,10.0.0.5\n", s.read("ip_results_two.txt"))

	// "one" never ran: its file is missing and skipped
	sum, err := p.Match(ctx)
	s.Require().NoError(err)
	s.Equal(2, sum.Pairs)
	s.Equal([]string{"d.example"}, sum.Result.Domains)
	s.Equal("2400:cb00::1\n", s.read(config.DefaultAddressesFile))

	s.FileExists(filepath.Join(s.dir, config.DefaultCandidatesFile))
	s.FileExists(filepath.Join(s.dir, "ip_results_two.txt"))
}

func (s *PipelineTestSuite) TestMatchSkipsMalformedPairs() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "ip_results_one.txt"),
		[]byte("a.example,10.0.0.5\ngarbage\nb.example,999.1.1.1\n"), 0o644))
	p := s.newPipeline()

	sum, err := p.Match(context.Background())

	s.Require().NoError(err)
	s.Equal(1, sum.Pairs)
	s.Equal("a.example\n", s.read(config.DefaultDomainsFile))
}

func (s *PipelineTestSuite) TestMatchNothing() {
	s.ranges = "203.0.113.0/24\n"
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "ip_results_one.txt"),
		[]byte("a.example,10.0.0.5\n"), 0o644))
	p := s.newPipeline()

	sum, err := p.Match(context.Background())

	s.Require().NoError(err)
	s.True(sum.Result.Empty())
	s.Equal("", s.read(config.DefaultDomainsFile))
	s.Equal("", s.read(config.DefaultAddressesFile))
}

func (s *PipelineTestSuite) TestMatchRangesUnavailable() {
	s.cfg.Ranges.URL = s.srv.URL + "/absent.txt"
	p := s.newPipeline()

	_, err := p.Match(context.Background())

	s.Error(err)
	s.NoFileExists(filepath.Join(s.dir, config.DefaultDomainsFile))
}

func (s *PipelineTestSuite) TestQueryUnknownBackend() {
	_, err := s.newPipeline().QueryBackend(context.Background(), "three")
	s.ErrorIs(err, ErrUnknownBackend)
}

func (s *PipelineTestSuite) TestQueryWithoutCandidates() {
	_, err := s.newPipeline().QueryBackend(context.Background(), "one")
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *PipelineTestSuite) TestPlanUsesConfiguredWeights() {
	s.cfg.Backends[1].Weight = 3
	plan, err := s.newPipeline().Plan(8)

	s.Require().NoError(err)
	s.Equal([]shard.Shard{{Backend: "one", Start: 0, End: 2}, {Backend: "two", Start: 2, End: 8}}, plan)
}

func (s *PipelineTestSuite) TestRunCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	s.one.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Run(func(mock.Arguments) {
		cancel()
	})
	s.two.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	s.cfg.Query.MaxAttempts = 0

	_, err := s.newPipeline().Run(ctx)

	s.ErrorIs(err, context.Canceled)
	s.NoFileExists(filepath.Join(s.dir, config.DefaultDomainsFile))
}

func (s *PipelineTestSuite) TestNewBuildsConfiguredBackends() {
	p, err := New(s.cfg)
	s.Require().NoError(err)
	s.Require().Len(p.backends, 2)
	s.Equal("one", p.backends[0].Name())
	s.NotEmpty(p.RunID())
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}
