package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings a scrape run is built from. It is loaded once and
// passed by value; nothing in the pipeline looks settings up globally.
type Config struct {
	DataDir     string              `yaml:"data_dir"`
	BetfairData bool                `yaml:"betfair_data"`
	GzipOutput  bool                `yaml:"gzip_output"`
	Fields      FieldGroups         `yaml:"fields"`
	Courses     map[string][]Course `yaml:"courses"`
	Endpoints   EndpointsConfig     `yaml:"endpoints"`
	Worker      WorkerConfig        `yaml:"worker"`
	Crawl       CrawlConfig         `yaml:"crawl"`
	Robots      RobotsConfig        `yaml:"robots"`
	Cache       CacheConfig         `yaml:"cache"`
	DB          SQLConfig           `yaml:"db"`
	Metrics     MetricsConfig       `yaml:"metrics"`
	Logging     LoggingConfig       `yaml:"logging"`
}

// Course identifies a racecourse as the results site addresses it.
type Course struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EndpointsConfig holds the remote base URLs. Overridable for tests and mirrors.
type EndpointsConfig struct {
	Site          string `yaml:"site"`
	CourseResults string `yaml:"course_results"`
	Betfair       string `yaml:"betfair"`
}

// WorkerConfig controls fetch concurrency.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// CrawlConfig controls the HTTP client and politeness.
type CrawlConfig struct {
	UserAgents     []string          `yaml:"user_agents"`
	Headers        map[string]string `yaml:"headers"`
	ProxyURL       string            `yaml:"proxy_url"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	PerHostDelay   Duration          `yaml:"per_host_delay"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RobotsConfig controls the optional robots.txt gate.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// CacheConfig enables a Redis-backed cache of fetched documents.
type CacheConfig struct {
	RedisAddr string   `yaml:"redis_addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	Prefix    string   `yaml:"prefix"`
	TTL       Duration `yaml:"ttl"`
}

// SQLConfig describes an optional Postgres database recording job outcomes.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// MetricsConfig exposes Prometheus metrics while a run is in progress.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig picks the slog level and text or JSON output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default is the configuration used when a settings file omits a key.
func Default() Config {
	return Config{
		DataDir: "data",
		Fields:  DefaultFields(),
		Courses: map[string][]Course{},
		Endpoints: EndpointsConfig{
			Site:          "https://www.racingpost.com",
			CourseResults: "https://www.racingpost.com:443/profile/course/filter/results",
			Betfair:       "https://promo.betfair.com/betfairsp/prices",
		},
		Worker: WorkerConfig{
			Concurrency: 6,
		},
		Crawl: CrawlConfig{
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(30 * time.Second),
			MaxBodyBytes:   8 * 1024 * 1024,
		},
		Robots: RobotsConfig{
			Respect:   false,
			UserAgent: "rpscrape",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Cache: CacheConfig{
			Prefix: "rpscrape:page:",
			TTL:    DurationFrom(7 * 24 * time.Hour),
		},
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load decodes path over Default and validates the result.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFirst loads the first of paths that exists, typically user settings
// followed by the shipped defaults.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	return nil, "", fmt.Errorf("no settings file found (tried %s)", strings.Join(paths, ", "))
}

// LoadFromReader is Load for an already open source.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must be set")
	}
	if len(c.Fields.Enabled(true)) == 0 {
		return errors.New("fields must enable at least one column")
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must be >= 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if rl := c.Crawl.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if strings.TrimSpace(c.Endpoints.Site) == "" {
		return errors.New("endpoints.site must be set")
	}
	for region, courses := range c.Courses {
		for i, course := range courses {
			if course.ID == "" {
				return fmt.Errorf("courses.%s[%d] has empty id", region, i)
			}
		}
	}
	return nil
}

func (c *Config) normalise() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Endpoints.Site = strings.TrimRight(strings.TrimSpace(c.Endpoints.Site), "/")
	c.Endpoints.CourseResults = strings.TrimRight(strings.TrimSpace(c.Endpoints.CourseResults), "/")
	c.Endpoints.Betfair = strings.TrimRight(strings.TrimSpace(c.Endpoints.Betfair), "/")
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}

	agents := c.Crawl.UserAgents[:0]
	for _, ua := range c.Crawl.UserAgents {
		if ua = strings.TrimSpace(ua); ua != "" {
			agents = append(agents, ua)
		}
	}
	c.Crawl.UserAgents = agents

	if c.Courses == nil {
		c.Courses = make(map[string][]Course)
	}
	normalised := make(map[string][]Course, len(c.Courses))
	for region, courses := range c.Courses {
		key := strings.ToLower(strings.TrimSpace(region))
		for _, course := range courses {
			course.ID = strings.TrimSpace(course.ID)
			course.Name = strings.ToLower(strings.TrimSpace(course.Name))
			normalised[key] = append(normalised[key], course)
		}
	}
	for region := range normalised {
		sort.SliceStable(normalised[region], func(i, j int) bool {
			return normalised[region][i].ID < normalised[region][j].ID
		})
	}
	c.Courses = normalised
}

// CoursesFor returns the courses configured for region.
func (c Config) CoursesFor(region string) []Course {
	return c.Courses[strings.ToLower(region)]
}

// Course looks a course up by its identifier across all regions.
func (c Config) Course(id string) (Course, bool) {
	for _, courses := range c.Courses {
		for _, course := range courses {
			if course.ID == id {
				return course, true
			}
		}
	}
	return Course{}, false
}

// RegionOf reports the region a course belongs to, or "" when unknown.
func (c Config) RegionOf(courseID string) string {
	for region, courses := range c.Courses {
		for _, course := range courses {
			if course.ID == courseID {
				return region
			}
		}
	}
	return ""
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// Environment variables that override settings file values.
const (
	EnvDBDSN     = "RPSCRAPE_DB_DSN"
	EnvRedisAddr = "RPSCRAPE_REDIS_ADDR"
	EnvDataDir   = "RPSCRAPE_DATA_DIR"
)

// ApplyEnv overrides secrets and paths from the environment. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDBDSN); ok && strings.TrimSpace(v) != "" {
		c.DB.DSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvRedisAddr); ok && strings.TrimSpace(v) != "" {
		c.Cache.RedisAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDataDir); ok && strings.TrimSpace(v) != "" {
		c.DataDir = strings.TrimSpace(v)
	}
}
