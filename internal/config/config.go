// ABOUTME: Configuration loading and parsing for agentgate
// ABOUTME: YAML with environment variable expansion, duration parsing, and policy tables

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ddudl/agentgate/internal/store"
)

// Config represents the complete agentgate configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
	PoW      PoWConfig      `yaml:"pow"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Limits   LimitsConfig   `yaml:"limits"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig holds the admin API configuration. The admin surface is
// disabled when no JWT secret is configured.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChallengePolicy fixes the proof-of-work cost and lifetime for one
// challenge kind.
type ChallengePolicy struct {
	Difficulty int           `yaml:"difficulty"`
	TTL        time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// PoWConfig is the per-kind challenge policy table. Registration is
// deliberately more expensive than action.
type PoWConfig struct {
	Register ChallengePolicy `yaml:"register"`
	Action   ChallengePolicy `yaml:"action"`
}

// ForKind returns the policy for a challenge kind.
func (p PoWConfig) ForKind(kind store.ChallengeKind) ChallengePolicy {
	if kind == store.KindRegister {
		return p.Register
	}
	return p.Action
}

// TokensConfig holds action token settings.
type TokensConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// ActionLimits are the window ceilings for one action type.
type ActionLimits struct {
	Hourly int `yaml:"hourly"`
	Daily  int `yaml:"daily"`
}

// Charges converts the ceilings into store window charges.
func (l ActionLimits) Charges() []store.WindowCharge {
	return []store.WindowCharge{
		{Kind: store.WindowHourly, Limit: l.Hourly},
		{Kind: store.WindowDaily, Limit: l.Daily},
	}
}

// LimitsConfig is the per-action rate ceiling table. Votes are exempt and
// have no entry.
type LimitsConfig struct {
	Post    ActionLimits `yaml:"post"`
	Comment ActionLimits `yaml:"comment"`
}

// ForAction returns the ceilings for a counted action type.
func (l LimitsConfig) ForAction(action store.ActionType) ActionLimits {
	if action == store.ActionComment {
		return l.Comment
	}
	return l.Post
}

// SweepConfig controls lazy reaping of expired challenges and tokens.
// The sweep is storage hygiene only; expiry is always enforced by
// timestamp comparison at consumption time.
type SweepConfig struct {
	Interval time.Duration `yaml:"-"`
	Grace    time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
	GraceRaw    string `yaml:"grace"`
}

// Default returns the built-in configuration. Values follow the policy
// table the service has always shipped with: registration challenges are
// harder and longer-lived than action challenges, and posting is scarcer
// than commenting.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8372"},
		Database: DatabaseConfig{Path: "agentgate.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		PoW: PoWConfig{
			Register: ChallengePolicy{Difficulty: 5, TTL: 30 * time.Minute},
			Action:   ChallengePolicy{Difficulty: 4, TTL: 10 * time.Minute},
		},
		Tokens: TokensConfig{TTL: 10 * time.Minute},
		Limits: LimitsConfig{
			Post:    ActionLimits{Hourly: 5, Daily: 30},
			Comment: ActionLimits{Hourly: 15, Daily: 100},
		},
		Sweep: SweepConfig{Interval: 10 * time.Minute, Grace: 24 * time.Hour},
	}
}

// Load reads a configuration file from the given path and returns a
// parsed Config merged over the defaults. Environment variables in the
// format ${VAR_NAME} are expanded. Duration strings are parsed into
// time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// coherent. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.PoW.Register.Difficulty < 1 || c.PoW.Action.Difficulty < 1 {
		return fmt.Errorf("pow difficulties must be at least 1")
	}
	if c.PoW.Register.TTL <= 0 || c.PoW.Action.TTL <= 0 {
		return fmt.Errorf("pow ttls must be positive")
	}
	if c.Tokens.TTL <= 0 {
		return fmt.Errorf("tokens.ttl must be positive")
	}

	for _, limits := range []ActionLimits{c.Limits.Post, c.Limits.Comment} {
		if limits.Hourly < 1 || limits.Daily < 1 {
			return fmt.Errorf("rate ceilings must be at least 1")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.PoW.Register.TTLRaw, &cfg.PoW.Register.TTL, "pow.register.ttl"},
		{cfg.PoW.Action.TTLRaw, &cfg.PoW.Action.TTL, "pow.action.ttl"},
		{cfg.Tokens.TTLRaw, &cfg.Tokens.TTL, "tokens.ttl"},
		{cfg.Sweep.IntervalRaw, &cfg.Sweep.Interval, "sweep.interval"},
		{cfg.Sweep.GraceRaw, &cfg.Sweep.Grace, "sweep.grace"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
