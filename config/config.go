// Package config resolves service settings from defaults, an optional HCL
// file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the resolved service configuration.
type Config struct {
	HTTPAddr       string
	WSAddr         string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	AllowedOrigins []string
	ServiceToken   string
	RateLimit      int

	CommitWindow  time.Duration
	RevealWindow  time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	CacheSize     int

	Archive ArchiveConfig
}

// ArchiveConfig points at the R2 bucket terminal matches are copied to.
type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// Enabled reports whether enough is set to talk to R2.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && a.AccountID != ""
}

// fileConfig mirrors the HCL layout. Durations are strings like "60s".
type fileConfig struct {
	HTTPAddr       string        `hcl:"http_addr,optional"`
	WSAddr         string        `hcl:"ws_addr,optional"`
	LogLevel       string        `hcl:"log_level,optional"`
	DatabaseURL    string        `hcl:"database_url,optional"`
	RedisURL       string        `hcl:"redis_url,optional"`
	AllowedOrigins []string      `hcl:"allowed_origins,optional"`
	ServiceToken   string        `hcl:"service_token,optional"`
	RateLimit      int           `hcl:"rate_limit,optional"`
	Match          *matchBlock   `hcl:"match,block"`
	Archive        *archiveBlock `hcl:"archive,block"`
}

type matchBlock struct {
	CommitWindow  string `hcl:"commit_window,optional"`
	RevealWindow  string `hcl:"reveal_window,optional"`
	SweepInterval string `hcl:"sweep_interval,optional"`
	MaxAttempts   int    `hcl:"max_attempts,optional"`
	CacheSize     int    `hcl:"cache_size,optional"`
}

type archiveBlock struct {
	AccountID string `hcl:"account_id,optional"`
	Bucket    string `hcl:"bucket,optional"`
	Prefix    string `hcl:"prefix,optional"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":5200",
		WSAddr:         ":5201",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:3000"},
		RateLimit:      120,
		CommitWindow:   60 * time.Second,
		RevealWindow:   60 * time.Second,
		MaxAttempts:    5,
		CacheSize:      1024,
		Archive:        ArchiveConfig{Prefix: "matches"},
	}
}

// Load builds a Config. A missing file is not an error; env always wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.applyFile(path); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.WSAddr, fc.WSAddr)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.ServiceToken, fc.ServiceToken)
	if fc.RateLimit != 0 {
		c.RateLimit = fc.RateLimit
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}

	if m := fc.Match; m != nil {
		for _, d := range []struct {
			raw string
			dst *time.Duration
		}{
			{m.CommitWindow, &c.CommitWindow},
			{m.RevealWindow, &c.RevealWindow},
			{m.SweepInterval, &c.SweepInterval},
		} {
			if err := setDuration(d.dst, d.raw); err != nil {
				return err
			}
		}
		if m.MaxAttempts != 0 {
			c.MaxAttempts = m.MaxAttempts
		}
		if m.CacheSize != 0 {
			c.CacheSize = m.CacheSize
		}
	}

	if a := fc.Archive; a != nil {
		setString(&c.Archive.AccountID, a.AccountID)
		setString(&c.Archive.Bucket, a.Bucket)
		setString(&c.Archive.Prefix, a.Prefix)
	}
	return nil
}

// applyEnv reads overrides through lookup so tests can inject a map.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if port := get("PORT"); port != "" {
		c.HTTPAddr = ":" + port
	}
	setString(&c.HTTPAddr, get("HTTP_ADDR"))
	setString(&c.WSAddr, get("WS_ADDR"))
	setString(&c.LogLevel, get("LOG_LEVEL"))
	setString(&c.DatabaseURL, get("DATABASE_URL"))
	setString(&c.RedisURL, get("REDIS_URL"))
	setString(&c.ServiceToken, get("GAME_SERVICE_TOKEN"))

	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	if err := setDuration(&c.CommitWindow, get("COMMIT_WINDOW")); err != nil {
		return err
	}
	if err := setDuration(&c.RevealWindow, get("REVEAL_WINDOW")); err != nil {
		return err
	}
	if err := setDuration(&c.SweepInterval, get("SWEEP_INTERVAL")); err != nil {
		return err
	}
	if err := setInt(&c.RateLimit, get("RATE_LIMIT")); err != nil {
		return err
	}
	if err := setInt(&c.MaxAttempts, get("STORE_MAX_ATTEMPTS")); err != nil {
		return err
	}
	if err := setInt(&c.CacheSize, get("MATCH_CACHE_SIZE")); err != nil {
		return err
	}

	setString(&c.Archive.AccountID, get("CLOUDFLARE_ACCOUNT_ID"))
	setString(&c.Archive.AccessKeyID, get("R2_ACCESS_KEY_ID"))
	setString(&c.Archive.AccessKeySecret, get("R2_ACCESS_KEY_SECRET"))
	setString(&c.Archive.Bucket, get("R2_BUCKET_NAME"))
	setString(&c.Archive.Prefix, get("R2_ARCHIVE_PREFIX"))
	return nil
}

// Validate rejects settings the match service cannot run with.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address must be set")
	}
	if c.CommitWindow <= 0 {
		return fmt.Errorf("commit window must be positive, got %s", c.CommitWindow)
	}
	if c.RevealWindow <= 0 {
		return fmt.Errorf("reveal window must be positive, got %s", c.RevealWindow)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval cannot be negative, got %s", c.SweepInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %d", c.RateLimit)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("store max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, raw string) error {
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	*dst = n
	return nil
}
