package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"fetchoraw/cache"
	"fetchoraw/downloader"
	"fetchoraw/logger"
	"fetchoraw/resolver"
	"fetchoraw/storage"
)

const (
	DefaultModeEnv = "PUBLIC_FETCHORAW_MODE"
	ConfigName     = "fetchoraw"
	EnvPrefix      = "FETCHORAW"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	KindFile    = "file"
	KindDataURL = "dataurl"
	KindSmart   = "smart"
	KindJSON    = "json"
)

type CacheConfig struct {
	File    string `mapstructure:"file"`
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
}

type ResolverConfig struct {
	Kind          string   `mapstructure:"kind"`
	OnError       string   `mapstructure:"on_error"`
	SaveRoot      string   `mapstructure:"save_root"`
	KeyString     string   `mapstructure:"key_string"`
	PrependPath   string   `mapstructure:"prepend_path"`
	InlineLimit   int64    `mapstructure:"inline_limit"`
	AllowMime     []string `mapstructure:"allow_mime"`
	RequireFile   []string `mapstructure:"require_file"`
	TargetPattern []string `mapstructure:"target_pattern"`
	HashLength    int      `mapstructure:"hash_length"`
}

type Config struct {
	ModeEnv    string `mapstructure:"mode_env"`
	FetchValue string `mapstructure:"fetch_value"`
	CacheValue string `mapstructure:"cache_value"`
	// ModeName overrides the environment when set: NONE, FETCH or CACHE.
	ModeName  string `mapstructure:"mode"`
	PublicDir string `mapstructure:"public_dir"`

	Cache    CacheConfig       `mapstructure:"cache"`
	Resolver ResolverConfig    `mapstructure:"resolver"`
	HTTP     downloader.Config `mapstructure:"http"`
	Log      logger.Config     `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode_env", DefaultModeEnv)
	v.SetDefault("fetch_value", cache.DefaultFetchValue)
	v.SetDefault("cache_value", cache.DefaultCacheValue)
	v.SetDefault("mode", "")
	v.SetDefault("public_dir", "")

	v.SetDefault("cache.file", cache.DefaultFile)
	v.SetDefault("cache.backend", BackendJSON)
	v.SetDefault("cache.prefix", cache.DefaultTablePrefix)

	v.SetDefault("resolver.kind", KindSmart)
	v.SetDefault("resolver.on_error", string(resolver.Throw))
	v.SetDefault("resolver.save_root", resolver.DefaultSaveRoot)
	v.SetDefault("resolver.key_string", "")
	v.SetDefault("resolver.prepend_path", resolver.DefaultPrependPath)
	v.SetDefault("resolver.inline_limit", resolver.DefaultInlineLimit)
	v.SetDefault("resolver.allow_mime", []string{})
	v.SetDefault("resolver.require_file", []string{})
	v.SetDefault("resolver.target_pattern", []string{})
	v.SetDefault("resolver.hash_length", resolver.DefaultHashLength)

	h := downloader.NewConfig()
	v.SetDefault("http.retries", h.Retries)
	v.SetDefault("http.delay", h.Delay)
	v.SetDefault("http.timeout", h.Timeout)
	v.SetDefault("http.max_file_size", h.MaxFileSize)
	v.SetDefault("http.user_agent", h.UserAgent)

	l := logger.NewConfig()
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.writer", l.Writer)
	v.SetDefault("log.file", l.File)
}

// Load reads defaults, then ./fetchoraw.yaml (or configFile), then FETCHORAW_* env.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Mode picks the execution mode: explicit ModeName first, then the ModeEnv variable.
func (c *Config) Mode() (cache.Mode, error) {
	if c.ModeName != "" {
		switch strings.ToUpper(c.ModeName) {
		case "NONE":
			return cache.ModeNone, nil
		case "FETCH":
			return cache.ModeFetch, nil
		case "CACHE":
			return cache.ModeCache, nil
		}
		return cache.ModeNone, fmt.Errorf("invalid mode %q (want NONE, FETCH or CACHE)", c.ModeName)
	}
	name := c.ModeEnv
	if name == "" {
		name = DefaultModeEnv
	}
	return cache.ParseMode(os.Getenv(name), c.FetchValue, c.CacheValue), nil
}

// Store opens the configured cache backend. The returned func closes it.
func (c *Config) Store(fs storage.FS, l logger.Logger) (cache.Store, func() error, error) {
	switch c.Cache.Backend {
	case "", BackendJSON:
		return cache.NewJSONStore(fs, c.Cache.File), func() error { return nil }, nil
	case BackendSQLite:
		s, err := cache.OpenSQLite(c.Cache.File, c.Cache.Prefix, l)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
}

// BuildResolver assembles the configured strategy over caps.
func (c *Config) BuildResolver(caps resolver.Capabilities) (resolver.Resolver, error) {
	rc := c.Resolver
	onError, err := resolver.ParseOnError(rc.OnError)
	if err != nil {
		return nil, err
	}
	targets, err := patterns(rc.TargetPattern)
	if err != nil {
		return nil, fmt.Errorf("target_pattern: %w", err)
	}
	allow, err := patterns(rc.AllowMime)
	if err != nil {
		return nil, fmt.Errorf("allow_mime: %w", err)
	}
	require, err := patterns(rc.RequireFile)
	if err != nil {
		return nil, fmt.Errorf("require_file: %w", err)
	}
	var key *regexp.Regexp
	if rc.KeyString != "" {
		if key, err = pattern(rc.KeyString); err != nil {
			return nil, fmt.Errorf("key_string: %w", err)
		}
	}

	common := resolver.Common{TargetPatterns: targets, OnError: onError}
	inline := resolver.InlineConfig{Common: common, InlineLimitBytes: rc.InlineLimit, AllowMimeTypes: allow}
	file := resolver.FileConfig{Common: common, SaveRoot: rc.SaveRoot, KeyPattern: key, PrependPath: rc.PrependPath}

	switch rc.Kind {
	case KindDataURL:
		return resolver.NewInline(caps, inline), nil
	case KindFile:
		return resolver.NewFileSave(caps, file), nil
	case KindJSON:
		return resolver.NewJSONSave(caps, resolver.JSONConfig{FileConfig: file, HashLength: rc.HashLength}), nil
	case "", KindSmart:
		return resolver.NewSmart(caps, resolver.SmartConfig{
			Common:              common,
			Inline:              inline,
			File:                file,
			RequireFilePatterns: require,
		}), nil
	}
	return nil, fmt.Errorf("unknown resolver kind %q (want file, dataurl, smart or json)", rc.Kind)
}

// patterns returns nil for an empty list so resolver defaults apply.
func patterns(exprs []string) ([]*regexp.Regexp, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := pattern(e)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// pattern accepts a CMS preset name or a regular expression.
func pattern(expr string) (*regexp.Regexp, error) {
	if re, ok := resolver.CMSPatterns[expr]; ok {
		return re, nil
	}
	return regexp.Compile(expr)
}
