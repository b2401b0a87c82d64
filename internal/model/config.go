package model

import "time"

// Config is the complete popfix configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Endpoints    EndpointsConfig    `yaml:"endpoints" mapstructure:"endpoints"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Reconcile    ReconcileConfig    `yaml:"reconcile" mapstructure:"reconcile"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Journal      JournalConfig      `yaml:"journal" mapstructure:"journal"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// HTTPConfig controls outbound requests
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoff  time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// EndpointsConfig points at the fact database
type EndpointsConfig struct {
	EntityBaseURL string `yaml:"entity_base_url" mapstructure:"entity_base_url"`
	SPARQLURL     string `yaml:"sparql_url" mapstructure:"sparql_url"`
	CodeProperty  string `yaml:"code_property" mapstructure:"code_property"`
}

// RateLimitingConfig controls per-host request pacing
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
	HonorCrawlDelay   bool    `yaml:"honor_crawl_delay" mapstructure:"honor_crawl_delay"`
}

// CacheConfig controls the code listing cache. Entities are always fetched live.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig controls the entity worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// Reconcile modes
const (
	ModeStrict   = "strict"   // Halt at the first failing entity
	ModeContinue = "continue" // Record failures and keep going
)

// ReconcileConfig controls the resolution policy
type ReconcileConfig struct {
	Mode           string  `yaml:"mode" mapstructure:"mode"`
	RetrievedStamp string  `yaml:"retrieved_stamp" mapstructure:"retrieved_stamp"`
	EditSummary    string  `yaml:"edit_summary" mapstructure:"edit_summary"`
	Rules          RuleSet `yaml:"rules" mapstructure:"rules"`
}

// OutputConfig controls the command artifact and run report
type OutputConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	Sort    bool   `yaml:"sort" mapstructure:"sort"`
	Report  string `yaml:"report,omitempty" mapstructure:"report"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// JournalConfig controls the sqlite run journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig controls the prometheus textfile export
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty" mapstructure:"textfile"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// DefaultUserAgent identifies popfix to the Wikimedia APIs
const DefaultUserAgent = "popfix/0.3 (+https://github.com/ppiankov/popfix)"

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    DefaultUserAgent,
			MaxBodyBytes: 20_000_000,
			MaxRetries:   3,
			BaseBackoff:  time.Second,
		},
		Endpoints: EndpointsConfig{
			EntityBaseURL: "https://www.wikidata.org/w/rest.php/wikibase/v1",
			SPARQLURL:     "https://query.wikidata.org/sparql",
			CodeProperty:  PropIBGECode,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
			HonorCrawlDelay:   true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "~/.popfix/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   6 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Reconcile: ReconcileConfig{
			Mode:           ModeStrict,
			RetrievedStamp: DefaultRetrievedTime,
			EditSummary:    DefaultEditSummary,
			Rules:          DefaultRuleSet(),
		},
		Output: OutputConfig{
			Path: "fix_populations.qs",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "~/.popfix/journal.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
	}
}
