package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/discover"
	"github.com/lukemcguire/zombiecheck/probe"
	"github.com/lukemcguire/zombiecheck/urlutil"
)

var outputFormats = []string{"text", "json", "csv"}

// cliConfig holds every setting the CLI accepts. Precedence is flag, then
// environment (including .env), then built-in default.
type cliConfig struct {
	Target string
	List   bool
	Base   string

	Concurrency int
	Timeout     time.Duration
	Retries     int
	RetryDelay  time.Duration
	RateLimit   int
	UserAgent   string
	Insecure    bool
	Robots      bool
	SameDomain  bool
	Watch       time.Duration

	Format   string
	Output   string
	NoTUI    bool
	KeepOpen bool

	LogLevel string
	LogFile  string
}

func defaultCLIConfig() cliConfig {
	defaults := crawler.DefaultConfig()
	return cliConfig{
		Concurrency: defaults.Concurrency,
		Timeout:     defaults.RequestTimeout,
		Retries:     defaults.RetryPolicy.MaxRetries,
		RetryDelay:  defaults.RetryPolicy.Delay,
		UserAgent:   probe.DefaultUserAgent,
		Format:      "text",
		LogLevel:    "info",
	}
}

func (c *cliConfig) loadFromEnv() {
	loadEnvInt("ZOMBIECHECK_CONCURRENCY", &c.Concurrency)
	loadEnvDuration("ZOMBIECHECK_TIMEOUT", &c.Timeout)
	loadEnvInt("ZOMBIECHECK_RETRIES", &c.Retries)
	loadEnvDuration("ZOMBIECHECK_RETRY_DELAY", &c.RetryDelay)
	loadEnvInt("ZOMBIECHECK_RATE_LIMIT", &c.RateLimit)
	loadEnvString("ZOMBIECHECK_USER_AGENT", &c.UserAgent)
	loadEnvString("ZOMBIECHECK_LOG_LEVEL", &c.LogLevel)
}

func loadEnvString(key string, result *string) {
	if s, ok := os.LookupEnv(key); ok && s != "" {
		*result = s
	}
}

func loadEnvInt(key string, result *int) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return
	}
	*result = n
}

func loadEnvDuration(key string, result *time.Duration) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return
	}
	*result = d
}

// loadDotEnv reads ZOMBIECHECK_ENV_FILE, or .env, into the environment.
// Variables already set win. A missing file is not an error.
func loadDotEnv() error {
	path := ".env"
	if p, ok := os.LookupEnv("ZOMBIECHECK_ENV_FILE"); ok && p != "" {
		path = p
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// parseFlags builds the configuration from args, using the environment for
// defaults.
func parseFlags(args []string, stderr io.Writer) (cliConfig, error) {
	cfg := defaultCLIConfig()
	cfg.loadFromEnv()

	fs := flag.NewFlagSet("zombiecheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: zombiecheck [flags] <url | file.html | list.txt | ->")
		_, _ = fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
	}

	fs.BoolVar(&cfg.List, "list", false, "treat the input as a URL list, one per line (implied for -)")
	fs.StringVar(&cfg.Base, "base", "", "base URL for relative links in a local HTML file")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "maximum in-flight checks")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "retries for HEAD timeouts and network errors")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "fixed delay between retries")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second, 0 for unlimited")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "user agent string")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "skip TLS certificate verification")
	fs.BoolVar(&cfg.Robots, "robots", false, "skip links disallowed by robots.txt")
	fs.BoolVar(&cfg.SameDomain, "same-domain", false, "only check links on the page's domain and its subdomains")
	fs.DurationVar(&cfg.Watch, "watch", 0, "re-read the input at this interval during a run and check new links")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "output format: text, json or csv")
	fs.StringVar(&cfg.Output, "output", "", "write the report to this file instead of stdout")
	fs.BoolVar(&cfg.NoTUI, "no-tui", false, "plain output without the interactive UI")
	fs.BoolVar(&cfg.KeepOpen, "keep-open", false, "keep the UI open after a run so it can be re-run")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", "", "append logs to this file")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return cfg, errors.New("missing input")
	}
	cfg.Target = fs.Arg(0)
	if cfg.Target == "-" {
		cfg.List = true
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c cliConfig) validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit))
	}
	if c.Watch < 0 {
		errs = append(errs, fmt.Errorf("watch interval must not be negative, got %s", c.Watch))
	}
	if !lo.Contains(outputFormats, c.Format) {
		errs = append(errs, fmt.Errorf("format must be one of %s, got %q", strings.Join(outputFormats, ", "), c.Format))
	}
	if c.Base != "" && !urlutil.IsHTTPScheme(c.Base) {
		errs = append(errs, fmt.Errorf("base must be an http or https URL, got %q", c.Base))
	}
	if c.SameDomain && c.scopeHost() == "" {
		errs = append(errs, errors.New("same-domain needs a page URL or --base"))
	}
	return errors.Join(errs...)
}

// scopeHost is the host --same-domain restricts links to: the page URL's,
// else the base URL's.
func (c cliConfig) scopeHost() string {
	if urlutil.IsHTTPScheme(c.Target) {
		return urlutil.Hostname(c.Target)
	}
	if c.Base != "" {
		return urlutil.Hostname(c.Base)
	}
	return ""
}

// retryPolicy returns the configured retry policy.
func (c cliConfig) retryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{MaxRetries: c.Retries, Delay: c.RetryDelay}
}

// source selects how links are discovered from the input argument.
func (c cliConfig) source(client *http.Client) (discover.Source, error) {
	switch {
	case c.List:
		return &discover.ListSource{Path: c.Target}, nil
	case urlutil.IsHTTPScheme(c.Target):
		return &discover.PageSource{URL: c.Target, Client: client, UserAgent: c.UserAgent}, nil
	}

	if _, err := os.Stat(c.Target); err != nil {
		return nil, fmt.Errorf("input %q is neither an http(s) URL nor a readable file: %w", c.Target, err)
	}
	src := &discover.FileSource{Path: c.Target}
	if c.Base != "" {
		base, err := url.Parse(c.Base)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		src.Base = base
	}
	return src, nil
}
