package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultCacheDir is where fetched archive segments and the index live.
	DefaultCacheDir = "zstash"
	// DefaultIndexFile is the index database name inside the cache directory.
	DefaultIndexFile = "index.db"
	// DefaultBlockSize is the read size used while streaming archive members.
	DefaultBlockSize = 1024 * 1024
	// DefaultTimeTolerance absorbs the sub-second precision lost by the index.
	DefaultTimeTolerance = time.Second
	// NoRemote is the remote base path meaning "archive was kept local only".
	NoRemote = "none"
)

// Config holds application settings
type Config struct {
	CacheDir      string        `mapstructure:"cache-dir"`
	IndexFile     string        `mapstructure:"index-file"`
	HPSS          string        `mapstructure:"hpss"`
	Workers       int           `mapstructure:"workers"`
	BlockSize     int           `mapstructure:"block-size"`
	TimeTolerance time.Duration `mapstructure:"time-tolerance"`
	Keep          bool          `mapstructure:"keep"`
	LogFormat     string        `mapstructure:"log-format"`
	LogLevel      string        `mapstructure:"log-level"`
	LogOutput     string        `mapstructure:"log-output"`
	FailureReport string        `mapstructure:"failure-report"`
	RetryFrom     string        `mapstructure:"retry-from"`
	Progress      bool          `mapstructure:"progress"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		CacheDir:      DefaultCacheDir,
		IndexFile:     DefaultIndexFile,
		Workers:       1,
		BlockSize:     DefaultBlockSize,
		TimeTolerance: DefaultTimeTolerance,
		LogFormat:     "text",
		LogLevel:      "info",
		LogOutput:     "stderr",
	}
}

// IndexPath is the location of the local index database.
func (c Config) IndexPath() string {
	return filepath.Join(c.CacheDir, c.IndexFile)
}

// Validate rejects settings the extraction path cannot run with.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory must not be empty")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.TimeTolerance < 0 {
		return fmt.Errorf("time tolerance must not be negative, got %s", c.TimeTolerance)
	}
	return nil
}

// Load resolves configuration from flags, environment variables and an optional
// config file, in that order of precedence. Environment variables use the prefix
// "ZSTASH" with dashes replaced by underscores, e.g. ZSTASH_CACHE_DIR.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ZSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, fmt.Errorf("bind flags: %w", err)
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Keys stored in the index's config table.
const (
	KeyPath    = "path"
	KeyHPSS    = "hpss"
	KeyMaxSize = "maxsize"
	KeyKeep    = "keep"
)

// ArchiveKeys is the full set of settings recorded by the archival run.
var ArchiveKeys = []string{KeyPath, KeyHPSS, KeyMaxSize, KeyKeep}

// ArchiveSettings are the values the archival run recorded in the index.
type ArchiveSettings struct {
	Path    string
	HPSS    string
	MaxSize int64
	Keep    bool
}

// ParseArchiveSettings converts the raw key/value pairs read from the index.
// Missing keys keep their zero value.
func ParseArchiveSettings(values map[string]string) (ArchiveSettings, error) {
	var s ArchiveSettings
	s.Path = values[KeyPath]
	s.HPSS = values[KeyHPSS]
	if raw := strings.TrimSpace(values[KeyMaxSize]); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return s, fmt.Errorf("parse %s %q: %w", KeyMaxSize, raw, err)
		}
		s.MaxSize = n
	}
	if raw := strings.TrimSpace(values[KeyKeep]); raw != "" {
		// Stored as 0/1 by the archival run.
		n, err := strconv.Atoi(raw)
		if err != nil {
			b, berr := strconv.ParseBool(raw)
			if berr != nil {
				return s, fmt.Errorf("parse %s %q: %w", KeyKeep, raw, err)
			}
			s.Keep = b
		} else {
			s.Keep = n != 0
		}
	}
	return s, nil
}

// ResolveHPSS picks the remote base path. The command line always wins over
// the value recorded in the index.
func ResolveHPSS(flagValue string, settings ArchiveSettings) string {
	if flagValue != "" {
		return flagValue
	}
	if settings.HPSS != "" {
		return settings.HPSS
	}
	return NoRemote
}
