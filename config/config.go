// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dalemusser/mailsieve/logging"
	"github.com/dalemusser/mailsieve/pantry/text"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "MAILSIEVE"

// DefaultUnwantedTerms are the substrings that mark an address as a role or
// back-office mailbox.
var DefaultUnwantedTerms = []string{
	"contato", "administra", "juridico", "admin@",
	"contab", "falecom", "financeiro", "webmaster",
}

// InputConfig describes the delimited input table.
type InputConfig struct {
	EmailColumn string `mapstructure:"email_column"`
	Delimiter   string `mapstructure:"delimiter"`
}

// DNSConfig groups domain lookup settings.
type DNSConfig struct {
	// Server is a "host:port" nameserver queried directly. Empty means the
	// system resolver.
	Server        string        `mapstructure:"dns_server"`
	Timeout       time.Duration `mapstructure:"-"` // dns_timeout
	LookupWorkers int           `mapstructure:"lookup_workers"`
}

// CacheConfig selects where resolved domains are memoized for the run.
type CacheConfig struct {
	Backend       string        `mapstructure:"cache_backend"` // "memory" | "redis"
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyTTL        time.Duration `mapstructure:"-"` // cache_key_ttl
}

// CoreConfig is the full runtime configuration for a sieve run.
type CoreConfig struct {
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …

	Input InputConfig `mapstructure:",squash"`
	DNS   DNSConfig   `mapstructure:",squash"`
	Cache CacheConfig `mapstructure:",squash"`

	MaxBatches           int      `mapstructure:"max_batches"`
	SheetName            string   `mapstructure:"sheet_name"`
	TrustedProvidersFile string   `mapstructure:"trusted_providers_file"`
	UnwantedTerms        []string `mapstructure:"unwanted_terms"`
	MetricsFile          string   `mapstructure:"metrics_file"`
	StrictExit           bool     `mapstructure:"strict_exit"`

	ShowVersion bool `mapstructure:"version" json:"-"`
}

// DelimiterRune returns the configured input delimiter.
func (c CoreConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r
}

// Dump returns indented JSON of the config with secrets masked.
func (c CoreConfig) Dump() string {
	cp := c
	if cp.Cache.RedisPassword != "" {
		cp.Cache.RedisPassword = "********"
	}
	b, _ := json.MarshalIndent(cp, "", "  ")
	return string(b)
}

// Load merges defaults → config.* file → .env → env vars → explicit flags
// into one CoreConfig. Precedence (highest wins): flags > env > config > defaults.
// The remaining positional arguments are returned unchanged.
func Load(logger *zap.Logger, args []string) (*CoreConfig, []string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded .env file")
	}

	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			continue
		}
		logger.Info("Loaded config file", zap.String("file", file))
	}

	setDefaults(v)

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if err := normalizeListKeys(logger, v, "unwanted_terms"); err != nil {
		return nil, nil, err
	}

	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unable to decode config: %w", err)
	}

	dnsTimeout, err := parseDurationFlexible(v.Get("dns_timeout"), 5*time.Second)
	if err != nil {
		logger.Warn("invalid dns_timeout; using default 5s",
			zap.Any("value", v.Get("dns_timeout")), zap.Error(err))
	}
	cfg.DNS.Timeout = dnsTimeout

	keyTTL, err := parseDurationFlexible(v.Get("cache_key_ttl"), 24*time.Hour)
	if err != nil {
		logger.Warn("invalid cache_key_ttl; using default 24h",
			zap.Any("value", v.Get("cache_key_ttl")), zap.Error(err))
	}
	cfg.Cache.KeyTTL = keyTTL

	cfg.DNS.Server = normalizeNameserver(cfg.DNS.Server)
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	cfg.UnwantedTerms = cleanTerms(cfg.UnwantedTerms)

	if err := validateCoreConfig(cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, fs.Args(), nil
}

// NewFlagSet declares every command-line flag. Only flags the user sets
// explicitly override lower-precedence sources.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mailsieve", pflag.ContinueOnError)

	fs.String("env", "dev", `Runtime environment "dev"|"prod"`)
	fs.String("log_level", "info", "Log level")

	fs.String("email_column", "correio_eletronico", "Name of the column holding e-mail addresses")
	fs.String("delimiter", ";", "Input field delimiter (single character)")
	fs.Int("max_batches", 50, "Upper bound on the number of batches the input is split into")
	fs.String("sheet_name", "Sheet1", "Worksheet written in .xlsx output")
	fs.String("trusted_providers_file", "trusted_providers.json", "JSON array of trusted provider domains")
	fs.String("unwanted_terms", "", `JSON array of blacklisted substrings, e.g. '["admin@","webmaster"]'`)

	fs.String("dns_server", "", `Nameserver "host[:port]" to query directly (default: system resolver)`)
	fs.String("dns_timeout", "5s", "Timeout per DNS lookup (e.g. \"5s\", \"500ms\")")
	fs.Int("lookup_workers", 8, "Maximum concurrent domain lookups per batch (1 = sequential)")

	fs.String("cache_backend", "memory", `Domain cache backend "memory"|"redis"`)
	fs.String("redis_addr", "", "Redis address for cache_backend=redis")
	fs.String("redis_password", "", "Redis password")
	fs.Int("redis_db", 0, "Redis database number")
	fs.String("cache_key_ttl", "24h", "Expiry on Redis cache keys left behind by an interrupted run")

	fs.String("metrics_file", "", "Write Prometheus textfile metrics here at end of run")
	fs.Bool("strict_exit", false, "Exit 1 when processing fails (default: report and exit 0)")

	fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {}
	return fs
}

func allKeys() []string {
	return []string{
		"env", "log_level",
		"email_column", "delimiter", "max_batches", "sheet_name",
		"trusted_providers_file", "unwanted_terms",
		"dns_server", "dns_timeout", "lookup_workers",
		"cache_backend", "redis_addr", "redis_password", "redis_db", "cache_key_ttl",
		"metrics_file", "strict_exit",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("email_column", "correio_eletronico")
	v.SetDefault("delimiter", ";")
	v.SetDefault("max_batches", 50)
	v.SetDefault("sheet_name", "Sheet1")
	v.SetDefault("trusted_providers_file", "trusted_providers.json")
	v.SetDefault("unwanted_terms", DefaultUnwantedTerms)

	v.SetDefault("dns_server", "")
	v.SetDefault("dns_timeout", "5s")
	v.SetDefault("lookup_workers", 8)

	v.SetDefault("cache_backend", "memory")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_key_ttl", "24h")

	v.SetDefault("metrics_file", "")
	v.SetDefault("strict_exit", false)
}

// normalizeListKeys coerces JSON-string values into []string for the given keys.
// An empty string leaves the key to fall through to its default.
func normalizeListKeys(logger *zap.Logger, v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		switch t := v.Get(key).(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				v.Set(key, nil)
				continue
			}
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return fmt.Errorf("config key %q expects a JSON array string, got %q: %w", key, s, err)
			}
			v.Set(key, arr)
		case []interface{}:
			arr := make([]string, 0, len(t))
			for _, e := range t {
				arr = append(arr, fmt.Sprint(e))
			}
			v.Set(key, arr)
		case []string, nil:
		default:
			logger.Warn("unexpected type for list key; expected JSON array/string",
				zap.String("key", key), zap.Any("value", t))
		}
	}
	return nil
}

// cleanTerms folds terms so accented entries match plain ASCII addresses.
// A nil list means "not configured" and yields the defaults.
func cleanTerms(terms []string) []string {
	if terms == nil {
		return append([]string(nil), DefaultUnwantedTerms...)
	}
	return text.FoldAll(terms)
}

// normalizeNameserver appends the DNS port when only a host was given.
func normalizeNameserver(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s
	}
	return net.JoinHostPort(strings.Trim(s, "[]"), "53")
}

func validateCoreConfig(cfg CoreConfig) error {
	var missing []string
	var invalid []string

	if cfg.Env != "dev" && cfg.Env != "prod" {
		invalid = append(invalid, `env must be "dev" or "prod"`)
	}
	if !logging.IsValidLogLevel(cfg.LogLevel) {
		invalid = append(invalid, "log_level must be one of "+strings.Join(logging.ValidLogLevels, ", "))
	}

	if strings.TrimSpace(cfg.Input.EmailColumn) == "" {
		missing = append(missing, "email_column")
	}
	if utf8.RuneCountInString(cfg.Input.Delimiter) != 1 {
		invalid = append(invalid, "delimiter must be exactly one character")
	} else if r := cfg.DelimiterRune(); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		invalid = append(invalid, "delimiter cannot be a quote or line break")
	}
	if cfg.MaxBatches < 1 {
		invalid = append(invalid, "max_batches must be >= 1")
	}
	if strings.TrimSpace(cfg.SheetName) == "" {
		missing = append(missing, "sheet_name")
	}

	if cfg.DNS.LookupWorkers < 1 {
		invalid = append(invalid, "lookup_workers must be >= 1")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			missing = append(missing, "MAILSIEVE_REDIS_ADDR (or --redis_addr) for cache_backend=redis")
		}
		if cfg.Cache.RedisDB < 0 {
			invalid = append(invalid, "redis_db must be >= 0")
		}
	default:
		invalid = append(invalid, `cache_backend must be "memory" or "redis"`)
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}
