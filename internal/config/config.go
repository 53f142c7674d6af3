package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
)

// Rule modes
const (
	ModeWhitelist = "whitelist"
	ModeBlacklist = "blacklist"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`
	Rules  RulesConfig  `yaml:"rules"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port      int         `yaml:"port"`
	AdminPort int         `yaml:"admin_port"` // 0 disables the admin API
	HTTPS     HTTPSConfig `yaml:"https"`
}

// HTTPSConfig controls TLS interception
type HTTPSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CACertFile      string `yaml:"ca_cert_file"`
	CAKeyFile       string `yaml:"ca_key_file"`
	TransparentPort int    `yaml:"transparent_port"` // 0 disables the SNI listener
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Backend  string `yaml:"backend"`  // "memory" or "disk"
	Capacity string `yaml:"capacity"` // memory backend, e.g. "20MiB"
	TTL      string `yaml:"ttl"`      // disk backend
	Folder   string `yaml:"folder"`   // disk backend
}

// RulesConfig contains caching rules configuration
type RulesConfig struct {
	Mode  string      `yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `yaml:"rules"`
}

// CacheRule defines a caching rule
type CacheRule struct {
	BaseURI     string   `yaml:"base_uri"`
	Methods     []string `yaml:"methods"`
	StatusCodes []string `yaml:"status_codes"` // "200", "4xx", ...
}

// LogConfig controls logrus output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration used for any field the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Cache: CacheConfig{
			Backend:  BackendMemory,
			Capacity: "20MiB",
			TTL:      "1h",
			Folder:   "./cache",
		},
		Rules: RulesConfig{Mode: ModeBlacklist},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from a YAML file on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// String renders the configuration as YAML
func (c *Config) String() string {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(out)
}

// GetCacheTTL parses and returns the cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// GetCacheCapacity parses the memory capacity ("20MiB", "512KB", "1048576")
func (c *Config) GetCacheCapacity() (int64, error) {
	n, err := humanize.ParseBytes(c.Cache.Capacity)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("capacity %s overflows", c.Cache.Capacity)
	}
	return int64(n), nil
}

// GetLogLevel parses the configured logrus level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.HTTPS.TransparentPort < 0 || c.Server.HTTPS.TransparentPort > 65535 {
		return fmt.Errorf("invalid transparent HTTPS port: %d", c.Server.HTTPS.TransparentPort)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("ca_cert_file and ca_key_file must be set together")
	}

	switch c.Cache.Backend {
	case BackendMemory:
		capacity, err := c.GetCacheCapacity()
		if err != nil {
			return fmt.Errorf("invalid cache capacity: %w", err)
		}
		if capacity <= 0 {
			return fmt.Errorf("cache capacity must be positive, got: %s", c.Cache.Capacity)
		}
	case BackendDisk:
		if c.Cache.TTL == "" {
			return fmt.Errorf("cache TTL is required")
		}
		if _, err := c.GetCacheTTL(); err != nil {
			return fmt.Errorf("invalid cache TTL format: %w", err)
		}
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	default:
		return fmt.Errorf("cache backend must be 'memory' or 'disk', got: %s", c.Cache.Backend)
	}

	if c.Rules.Mode != ModeWhitelist && c.Rules.Mode != ModeBlacklist {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	for i, rule := range c.Rules.Rules {
		for _, pattern := range rule.StatusCodes {
			if !ValidStatusPattern(pattern) {
				return fmt.Errorf("rule %d: invalid status code pattern: %s", i, pattern)
			}
		}
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

// ValidStatusPattern reports whether pattern is a status code ("404") or a
// class wildcard ("4xx", "20x")
func ValidStatusPattern(pattern string) bool {
	if len(pattern) != 3 || pattern[0] < '1' || pattern[0] > '5' {
		return false
	}
	wildcard := false
	for _, ch := range strings.ToLower(pattern[1:]) {
		switch {
		case ch == 'x':
			wildcard = true
		case ch >= '0' && ch <= '9' && !wildcard:
		default:
			return false
		}
	}
	return true
}

// MatchesStatusCode checks a status code against a pattern like "200" or "4xx"
func MatchesStatusCode(statusCode int, pattern string) bool {
	if !ValidStatusPattern(pattern) {
		return false
	}
	code := strconv.Itoa(statusCode)
	if len(code) != 3 {
		return false
	}
	pattern = strings.ToLower(pattern)
	for i := 0; i < 3; i++ {
		if pattern[i] != 'x' && pattern[i] != code[i] {
			return false
		}
	}
	return true
}
