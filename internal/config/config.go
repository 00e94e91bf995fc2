// Package config loads imagepicker settings from defaults, an optional YAML
// file and IMAGEPICKER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imagepicker/discovery"
	"imagepicker/internal/browser"
	"imagepicker/internal/download"
	"imagepicker/internal/fetch"
	"imagepicker/internal/panel"
	"imagepicker/internal/watcher"
)

const envPrefix = "IMAGEPICKER_"

// Config is the full runtime configuration.
type Config struct {
	StoreURL     string        `yaml:"store_url"`
	DownloadURL  string        `yaml:"download_url"`
	DownloadDir  string        `yaml:"download_dir"`
	Conflict     string        `yaml:"conflict"`
	Pacing       time.Duration `yaml:"pacing"`
	Debounce     time.Duration `yaml:"debounce"`
	InjectSettle time.Duration `yaml:"inject_settle"`
	Filter       FilterConfig  `yaml:"filter"`
	HTTP         HTTPConfig    `yaml:"http"`
	Browser      BrowserConfig `yaml:"browser"`
	Probe        ProbeConfig   `yaml:"probe"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	MetricsAddr  string        `yaml:"metrics_addr"`
}

// FilterConfig holds the filter used until the panel persists its own.
type FilterConfig struct {
	IncludeBackground bool     `yaml:"include_background"`
	DetectOnOpen      bool     `yaml:"detect_on_open"`
	MinWidth          int      `yaml:"min_width"`
	MinHeight         int      `yaml:"min_height"`
	AcceptedKinds     []string `yaml:"accepted_kinds"`
}

// HTTPConfig tunes the fetch client.
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff"`
	UserAgent       string        `yaml:"user_agent"`
}

// BrowserConfig tunes the live document host.
type BrowserConfig struct {
	Headless      bool          `yaml:"headless"`
	ExecPath      string        `yaml:"exec_path"`
	Timeout       time.Duration `yaml:"timeout"`
	WaitAfterLoad time.Duration `yaml:"wait_after_load"`
}

// ProbeConfig controls decoding of image dimensions for static documents.
type ProbeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Workers      int    `yaml:"workers"`
	CacheDir     string `yaml:"cache_dir"`
	CacheEntries int    `yaml:"cache_entries"`
}

// Default returns the built-in configuration.
func Default() Config {
	f := discovery.DefaultFilterOptions()
	kinds := make([]string, 0, len(f.AcceptedKinds))
	for _, k := range f.AcceptedKinds {
		kinds = append(kinds, string(k))
	}
	h := fetch.DefaultOptions()
	b := browser.DefaultOptions()
	return Config{
		StoreURL:     defaultStoreURL(),
		DownloadURL:  "file://" + filepath.ToSlash(mustAbs("downloads")) + "?create_dir=true",
		DownloadDir:  download.DefaultDir,
		Conflict:     string(download.ConflictUniquify),
		Pacing:       download.DefaultPacing,
		Debounce:     watcher.DefaultDebounce,
		InjectSettle: panel.DefaultInjectSettle,
		Filter: FilterConfig{
			IncludeBackground: f.IncludeBackgroundImages,
			DetectOnOpen:      f.DetectOnPanelOpen,
			MinWidth:          f.MinWidth,
			MinHeight:         f.MinHeight,
			AcceptedKinds:     kinds,
		},
		HTTP: HTTPConfig{
			Timeout:         h.Timeout,
			RetryAttempts:   h.RetryAttempts,
			RetryBackoff:    h.RetryBackoff,
			RetryMaxBackoff: h.RetryMaxBackoff,
			UserAgent:       h.UserAgent,
		},
		Browser: BrowserConfig{
			Headless:      b.Headless,
			Timeout:       b.Timeout,
			WaitAfterLoad: b.WaitAfterLoad,
		},
		Probe: ProbeConfig{
			Enabled:      true,
			Workers:      4,
			CacheEntries: 2048,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func defaultStoreURL() string {
	dir := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if dir != "" {
		dir = filepath.Join(dir, "imagepicker")
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".imagepicker", "state")
	} else {
		dir = filepath.Join(os.TempDir(), "imagepicker")
	}
	return "file://" + filepath.ToSlash(dir) + "?create_dir=true"
}

func mustAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// yamlConfig mirrors Config with string durations and optional booleans so a
// file can switch a default off.
type yamlConfig struct {
	StoreURL     string            `yaml:"store_url"`
	DownloadURL  string            `yaml:"download_url"`
	DownloadDir  string            `yaml:"download_dir"`
	Conflict     string            `yaml:"conflict"`
	Pacing       string            `yaml:"pacing"`
	Debounce     string            `yaml:"debounce"`
	InjectSettle string            `yaml:"inject_settle"`
	Filter       yamlFilterConfig  `yaml:"filter"`
	HTTP         yamlHTTPConfig    `yaml:"http"`
	Browser      yamlBrowserConfig `yaml:"browser"`
	Probe        yamlProbeConfig   `yaml:"probe"`
	LogLevel     string            `yaml:"log_level"`
	LogFormat    string            `yaml:"log_format"`
	MetricsAddr  string            `yaml:"metrics_addr"`
}

type yamlFilterConfig struct {
	IncludeBackground *bool    `yaml:"include_background"`
	DetectOnOpen      *bool    `yaml:"detect_on_open"`
	MinWidth          *int     `yaml:"min_width"`
	MinHeight         *int     `yaml:"min_height"`
	AcceptedKinds     []string `yaml:"accepted_kinds"`
}

type yamlHTTPConfig struct {
	Timeout         string `yaml:"timeout"`
	RetryAttempts   *int   `yaml:"retry_attempts"`
	RetryBackoff    string `yaml:"retry_backoff"`
	RetryMaxBackoff string `yaml:"retry_max_backoff"`
	UserAgent       string `yaml:"user_agent"`
}

type yamlBrowserConfig struct {
	Headless      *bool  `yaml:"headless"`
	ExecPath      string `yaml:"exec_path"`
	Timeout       string `yaml:"timeout"`
	WaitAfterLoad string `yaml:"wait_after_load"`
}

type yamlProbeConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	Workers      int    `yaml:"workers"`
	CacheDir     string `yaml:"cache_dir"`
	CacheEntries int    `yaml:"cache_entries"`
}

// LoadFromFile reads path and overlays it on Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	setString(&cfg.StoreURL, yc.StoreURL)
	setString(&cfg.DownloadURL, yc.DownloadURL)
	setString(&cfg.DownloadDir, yc.DownloadDir)
	setString(&cfg.Conflict, yc.Conflict)
	setString(&cfg.LogLevel, yc.LogLevel)
	setString(&cfg.LogFormat, yc.LogFormat)
	setString(&cfg.MetricsAddr, yc.MetricsAddr)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"pacing", yc.Pacing, &cfg.Pacing},
		{"debounce", yc.Debounce, &cfg.Debounce},
		{"inject_settle", yc.InjectSettle, &cfg.InjectSettle},
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"http.retry_backoff", yc.HTTP.RetryBackoff, &cfg.HTTP.RetryBackoff},
		{"http.retry_max_backoff", yc.HTTP.RetryMaxBackoff, &cfg.HTTP.RetryMaxBackoff},
		{"browser.timeout", yc.Browser.Timeout, &cfg.Browser.Timeout},
		{"browser.wait_after_load", yc.Browser.WaitAfterLoad, &cfg.Browser.WaitAfterLoad},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	setBool(&cfg.Filter.IncludeBackground, yc.Filter.IncludeBackground)
	setBool(&cfg.Filter.DetectOnOpen, yc.Filter.DetectOnOpen)
	setInt(&cfg.Filter.MinWidth, yc.Filter.MinWidth)
	setInt(&cfg.Filter.MinHeight, yc.Filter.MinHeight)
	if len(yc.Filter.AcceptedKinds) > 0 {
		cfg.Filter.AcceptedKinds = yc.Filter.AcceptedKinds
	}

	setInt(&cfg.HTTP.RetryAttempts, yc.HTTP.RetryAttempts)
	setString(&cfg.HTTP.UserAgent, yc.HTTP.UserAgent)

	setBool(&cfg.Browser.Headless, yc.Browser.Headless)
	setString(&cfg.Browser.ExecPath, yc.Browser.ExecPath)

	setBool(&cfg.Probe.Enabled, yc.Probe.Enabled)
	if yc.Probe.Workers != 0 {
		cfg.Probe.Workers = yc.Probe.Workers
	}
	setString(&cfg.Probe.CacheDir, yc.Probe.CacheDir)
	if yc.Probe.CacheEntries != 0 {
		cfg.Probe.CacheEntries = yc.Probe.CacheEntries
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ApplyEnv overlays IMAGEPICKER_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"STORE_URL":    &c.StoreURL,
		"DOWNLOAD_URL": &c.DownloadURL,
		"DOWNLOAD_DIR": &c.DownloadDir,
		"CONFLICT":     &c.Conflict,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
		"METRICS_ADDR": &c.MetricsAddr,
		"USER_AGENT":   &c.HTTP.UserAgent,
		"CHROME_PATH":  &c.Browser.ExecPath,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"PACING":        &c.Pacing,
		"DEBOUNCE":      &c.Debounce,
		"INJECT_SETTLE": &c.InjectSettle,
		"HTTP_TIMEOUT":  &c.HTTP.Timeout,
	}
	for name, dst := range durs {
		v := strings.TrimSpace(os.Getenv(envPrefix + name))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"MIN_WIDTH":      &c.Filter.MinWidth,
		"MIN_HEIGHT":     &c.Filter.MinHeight,
		"RETRY_ATTEMPTS": &c.HTTP.RetryAttempts,
	}
	for name, dst := range ints {
		v := strings.TrimSpace(os.Getenv(envPrefix + name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"HEADLESS":           &c.Browser.Headless,
		"INCLUDE_BACKGROUND": &c.Filter.IncludeBackground,
		"DETECT_ON_OPEN":     &c.Filter.DetectOnOpen,
		"PROBE":              &c.Probe.Enabled,
	}
	for name, dst := range bools {
		v := strings.TrimSpace(os.Getenv(envPrefix + name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = b
	}

	if v := strings.TrimSpace(os.Getenv(envPrefix + "ACCEPTED_KINDS")); v != "" {
		var kinds []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}
		c.Filter.AcceptedKinds = kinds
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StoreURL == "" {
		return errors.New("store_url is required")
	}
	if _, err := url.Parse(c.StoreURL); err != nil {
		return fmt.Errorf("store_url: %w", err)
	}
	if c.DownloadURL == "" {
		return errors.New("download_url is required")
	}
	switch c.Conflict {
	case string(download.ConflictUniquify), string(download.ConflictOverwrite):
	default:
		return fmt.Errorf("conflict must be %q or %q, got %q", download.ConflictUniquify, download.ConflictOverwrite, c.Conflict)
	}
	if c.Pacing < 0 || c.Debounce < 0 || c.InjectSettle < 0 {
		return errors.New("pacing, debounce and inject_settle must not be negative")
	}
	if c.HTTP.RetryAttempts < 0 {
		return errors.New("http.retry_attempts must not be negative")
	}
	if _, err := c.FilterOptions(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// FilterOptions converts the filter section into discovery options.
func (c *Config) FilterOptions() (discovery.FilterOptions, error) {
	opts := discovery.FilterOptions{
		IncludeBackgroundImages: c.Filter.IncludeBackground,
		DetectOnPanelOpen:       c.Filter.DetectOnOpen,
		MinWidth:                c.Filter.MinWidth,
		MinHeight:               c.Filter.MinHeight,
	}
	known := map[discovery.Kind]bool{}
	for _, k := range discovery.AllKinds() {
		known[k] = true
	}
	for _, raw := range c.Filter.AcceptedKinds {
		k := discovery.Kind(strings.ToLower(strings.TrimSpace(raw)))
		if k == "jpeg" {
			k = discovery.KindJPG
		}
		if !known[k] {
			return discovery.FilterOptions{}, fmt.Errorf("%w: unknown kind %q", discovery.ErrInvalidOptions, raw)
		}
		if !opts.Accepts(k) {
			opts.AcceptedKinds = append(opts.AcceptedKinds, k)
		}
	}
	if err := opts.Validate(); err != nil {
		return discovery.FilterOptions{}, err
	}
	return opts, nil
}

// FetchOptions converts the http section into client options.
func (c *Config) FetchOptions() fetch.Options {
	o := fetch.DefaultOptions()
	o.Timeout = c.HTTP.Timeout
	o.RetryAttempts = c.HTTP.RetryAttempts
	o.RetryBackoff = c.HTTP.RetryBackoff
	o.RetryMaxBackoff = c.HTTP.RetryMaxBackoff
	if c.HTTP.UserAgent != "" {
		o.UserAgent = c.HTTP.UserAgent
	}
	return o
}

// BrowserOptions converts the browser section into host options.
func (c *Config) BrowserOptions() browser.Options {
	o := browser.DefaultOptions()
	o.Headless = c.Browser.Headless
	o.ExecPath = c.Browser.ExecPath
	if c.Browser.Timeout > 0 {
		o.Timeout = c.Browser.Timeout
	}
	o.WaitAfterLoad = c.Browser.WaitAfterLoad
	o.UserAgent = c.HTTP.UserAgent
	return o
}
