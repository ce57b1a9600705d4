package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lc/sift/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultConfigPath is the default path for the configuration file.
	DefaultConfigPath = "sift.yaml"
	// DefaultCandidatesFile holds the merged, deduplicated candidate list.
	DefaultCandidatesFile = "temp_domains.txt"
	// DefaultRangesURL is the published address-range list matched against.
	DefaultRangesURL = "https://raw.githubusercontent.com/GuangYu-yu/ACL4SSR/refs/heads/main/Clash/Cloudflare.txt"
	// DefaultConcurrency caps in-flight queries per backend.
	DefaultConcurrency = 10
	// DefaultQueryTimeout bounds a single backend attempt.
	DefaultQueryTimeout = 10 * time.Second
	// DefaultDelayMin and DefaultDelayMax bound the politeness delay before each attempt.
	DefaultDelayMin = 1 * time.Second
	DefaultDelayMax = 2 * time.Second
	// DefaultBackoff is the sleep after the first failed attempt; it doubles per failure.
	DefaultBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the exponential backoff.
	DefaultMaxBackoff = 30 * time.Second
	// DefaultMaxAttempts bounds the attempts per domain before it is reported unresolvable.
	DefaultMaxAttempts = 8
	// DefaultDomainsFile and DefaultAddressesFile receive the final result.
	DefaultDomainsFile   = "optimized_domains.txt"
	DefaultAddressesFile = "optimized_ips.txt"
)

// Backend kinds.
const (
	KindDoHJSON = "doh-json"
	KindDoH     = "doh"
	KindDNS     = "dns"
	KindBGP     = "bgp"
)

// Source list formats.
const (
	FormatClash   = "clash"
	FormatPlain   = "plain"
	FormatAdGuard = "adguard"
)

// Config holds the application configuration.
type Config struct {
	WorkDir        string          `yaml:"work_dir"`
	CandidatesFile string          `yaml:"candidates_file"`
	Sources        []SourceConfig  `yaml:"sources"`
	Ranges         RangesConfig    `yaml:"ranges"`
	Query          QueryConfig     `yaml:"query"`
	Backends       []BackendConfig `yaml:"backends"`
	Output         OutputConfig    `yaml:"output"`
}

// SourceConfig is one remote candidate-domain list.
type SourceConfig struct {
	URL    string `yaml:"url"`
	Format string `yaml:"format"`
}

// RangesConfig locates the address-range list. URL may be an http(s) URL
// or a local path. A non-empty CacheFile keeps the last fetched copy.
type RangesConfig struct {
	URL       string `yaml:"url"`
	CacheFile string `yaml:"cache_file"`
}

// QueryConfig controls concurrency, politeness and retry behaviour.
type QueryConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	DelayMin    time.Duration `yaml:"delay_min"`
	DelayMax    time.Duration `yaml:"delay_max"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	// MaxAttempts of 0 retries until the run is cancelled.
	MaxAttempts int `yaml:"max_attempts"`
	// Rate limits queries per second per backend; 0 disables the limiter.
	Rate float64 `yaml:"rate"`
}

// BackendConfig describes one resolution backend. Its position in
// Config.Backends decides which slice of the candidate list it receives.
type BackendConfig struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	URL     string   `yaml:"url"`
	Servers []string `yaml:"servers"`
	Weight  int      `yaml:"weight"`
}

// OutputConfig names the result files.
type OutputConfig struct {
	DomainsFile      string `yaml:"domains_file"`
	AddressesFile    string `yaml:"addresses_file"`
	KeepIntermediate bool   `yaml:"keep_intermediate"`
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.ReadFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New creates a configuration provider reading path from the OS filesystem.
// An empty path selects DefaultConfigPath in the working directory.
func New(path string) Provider {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	return NewWithPath(filesys.OS(), path)
}

// NewWithPath creates a new provider with a specific filesystem and config path.
func NewWithPath(fs filesys.ReadFS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns the default configuration: the ten DNS-over-HTTPS
// backends with their fixed weights and the public source lists.
func Default() *Config {
	return &Config{
		WorkDir:        ".",
		CandidatesFile: DefaultCandidatesFile,
		Sources:        DefaultSources(),
		Ranges: RangesConfig{
			URL: DefaultRangesURL,
		},
		Query: QueryConfig{
			Concurrency: DefaultConcurrency,
			Timeout:     DefaultQueryTimeout,
			DelayMin:    DefaultDelayMin,
			DelayMax:    DefaultDelayMax,
			Backoff:     DefaultBackoff,
			MaxBackoff:  DefaultMaxBackoff,
			MaxAttempts: DefaultMaxAttempts,
		},
		Backends: DefaultBackends(),
		Output: OutputConfig{
			DomainsFile:   DefaultDomainsFile,
			AddressesFile: DefaultAddressesFile,
		},
	}
}

// DefaultBackends returns the built-in backend list in shard order.
func DefaultBackends() []BackendConfig {
	sb := func(name, host string, weight int) BackendConfig {
		return BackendConfig{Name: name, Kind: KindDoHJSON, URL: "https://" + host + "/dns-query", Weight: weight}
	}
	return []BackendConfig{
		sb("de_fra", "de-fra.doh.sb", 60),
		{Name: "google", Kind: KindDoHJSON, URL: "https://dns.google/resolve", Weight: 71},
		{Name: "quad9", Kind: KindDoHJSON, URL: "https://dns10.quad9.net:5053/dns-query", Weight: 71},
		sb("twnic", "dns.twnic.tw", 58),
		sb("uk_lon", "uk-lon.doh.sb", 62),
		sb("sb", "doh.sb", 68),
		sb("kr_sel", "kr-sel.doh.sb", 62),
		sb("sg_sin", "sg-sin.doh.sb", 38),
		sb("jp_nrt", "jp-nrt.doh.sb", 51),
		sb("hk_hkg", "hk-hkg.doh.sb", 45),
	}
}

// DefaultSources returns the built-in candidate lists.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{URL: "https://raw.githubusercontent.com/GuangYu-yu/ACL4SSR/refs/heads/main/matching_domains.list", Format: FormatClash},
		{URL: "https://raw.githubusercontent.com/GuangYu-yu/About-Cloudflare/refs/heads/main/%E5%A4%A7%E9%87%8F%E4%BC%98%E9%80%89%E5%9F%9F%E5%90%8D.txt", Format: FormatPlain},
		{URL: "https://github.com/Potterli20/file/releases/download/dns-hosts-all/dnshosts-all-domain-whitelist_full.txt", Format: FormatPlain},
		{URL: "https://raw.githubusercontent.com/blackmatrix7/ios_rule_script/refs/heads/master/rule/AdGuard/Advertising/Advertising.txt", Format: FormatAdGuard},
	}
}

// Load loads the configuration from the provider's path. A missing file
// yields Default(); values present in the file override the defaults.
func (p *FSProvider) Load() (*Config, error) {
	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks the configuration to ensure all required fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CandidatesFile) == "" {
		return errors.New("candidates file cannot be empty")
	}
	if strings.TrimSpace(c.Ranges.URL) == "" {
		return errors.New("ranges url cannot be empty")
	}
	for i, s := range c.Sources {
		if err := validateURL(s.URL); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		switch s.Format {
		case FormatClash, FormatPlain, FormatAdGuard:
		default:
			return fmt.Errorf("source %d: unknown format %q", i, s.Format)
		}
	}
	if err := c.Query.validate(); err != nil {
		return err
	}
	if len(c.Backends) == 0 {
		return errors.New("at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.validate(); err != nil {
			return err
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	if strings.TrimSpace(c.Output.DomainsFile) == "" || strings.TrimSpace(c.Output.AddressesFile) == "" {
		return errors.New("output files cannot be empty")
	}
	return nil
}

func (q QueryConfig) validate() error {
	if q.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if q.Timeout < time.Second {
		return errors.New("query timeout must be at least 1 second")
	}
	if q.DelayMin < 0 || q.DelayMax < q.DelayMin {
		return errors.New("delay range must satisfy 0 <= delay_min <= delay_max")
	}
	if q.Backoff < 0 || q.MaxBackoff < q.Backoff {
		return errors.New("backoff must satisfy 0 <= backoff <= max_backoff")
	}
	if q.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	if q.Rate < 0 {
		return errors.New("rate cannot be negative")
	}
	return nil
}

func (b BackendConfig) validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("backend name cannot be empty")
	}
	if b.Weight <= 0 {
		return fmt.Errorf("backend %q: weight must be positive", b.Name)
	}
	switch b.Kind {
	case KindDoHJSON, KindDoH, KindBGP:
		if err := validateURL(b.URL); err != nil {
			return fmt.Errorf("backend %q: %w", b.Name, err)
		}
	case KindDNS:
		if len(b.Servers) == 0 {
			return fmt.Errorf("backend %q: dns backends need at least one server", b.Name)
		}
	default:
		return fmt.Errorf("backend %q: unknown kind %q", b.Name, b.Kind)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// BackendFile is the intermediate result file of the named backend.
func (c *Config) BackendFile(name string) string {
	return c.path("ip_results_" + name + ".txt")
}

// CandidatesPath is the candidate list location inside WorkDir.
func (c *Config) CandidatesPath() string { return c.path(c.CandidatesFile) }

// DomainsPath is the matched-domains output location inside WorkDir.
func (c *Config) DomainsPath() string { return c.path(c.Output.DomainsFile) }

// AddressesPath is the matched-addresses output location inside WorkDir.
func (c *Config) AddressesPath() string { return c.path(c.Output.AddressesFile) }

func (c *Config) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.WorkDir, name)
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	// An empty file decodes to io.EOF and keeps the defaults.
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}
