// Package config manages build configuration from a YAML file, environment
// variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/euforicio/mathenv/internal/callout"
	"github.com/euforicio/mathenv/internal/tex"
	"github.com/euforicio/mathenv/internal/transform"
)

const envPrefix = "MATHENV_"

// Cache backends.
const (
	BackendDir   = "dir"
	BackendRedis = "redis"
)

// DefaultFile is read when present and no --config flag is given.
const DefaultFile = "mathenv.yml"

// Config holds runtime configuration for a build.
type Config struct {
	RootDir       string `yaml:"root"`
	OutputDir     string `yaml:"out"`
	HTML          bool   `yaml:"html"`
	Jobs          int    `yaml:"jobs"`
	Clean         bool   `yaml:"clean"`
	IncludeHidden bool   `yaml:"include_hidden"`
	MetricsFile   string `yaml:"metrics_file"`

	ConfigFile string `yaml:"-"`
	Watch      bool   `yaml:"-"`
	Verbose    bool   `yaml:"-"`

	Theorem     TheoremConfig   `yaml:"theorem"`
	TikZcd      DiagramConfig   `yaml:"tikzcd"`
	TikZpicture DiagramConfig   `yaml:"tikzpicture"`
	Alias       AliasConfig     `yaml:"alias"`
	Cache       CacheConfig     `yaml:"cache"`
	Toolchain   ToolchainConfig `yaml:"toolchain"`
}

// TheoremConfig enables the keyword pass and names each admonition.
type TheoremConfig struct {
	Enable         bool `yaml:"enable"`
	callout.Labels `yaml:",inline"`
}

// DiagramConfig controls one directive kind.
type DiagramConfig struct {
	Enable    bool `yaml:"enable"`
	CacheFile bool `yaml:"cachefile"`
}

// AliasConfig lists \name replacements.
type AliasConfig struct {
	Enable bool              `yaml:"enable"`
	List   map[string]string `yaml:"alias_list"`
}

// CacheConfig selects where rendered images are kept.
type CacheConfig struct {
	Dir         string        `yaml:"dir"`
	Backend     string        `yaml:"backend"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

// ToolchainConfig locates the external programs.
type ToolchainConfig struct {
	Compiler      string        `yaml:"compiler"`
	CompilerPath  string        `yaml:"compiler_path"`
	ConverterPath string        `yaml:"converter_path"`
	WorkDir       string        `yaml:"work_dir"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Default returns ready-to-use defaults prior to file/env/flag overrides.
func Default() Config {
	return Config{
		RootDir:   "docs",
		OutputDir: "site",
		Jobs:      1,
		Theorem: TheoremConfig{
			Labels: callout.DefaultLabels(),
		},
		TikZcd:      DiagramConfig{CacheFile: true},
		TikZpicture: DiagramConfig{CacheFile: true},
		Cache: CacheConfig{
			Dir:     "cache",
			Backend: BackendDir,
		},
		Toolchain: ToolchainConfig{
			Compiler: tex.DefaultCompiler,
			Timeout:  tex.DefaultTimeout,
		},
	}
}

// LoadFile merges the YAML file at path into cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDefaultFile loads DefaultFile from the working directory when it exists.
func LoadDefaultFile(cfg *Config) error {
	err := LoadFile(DefaultFile, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load returns the defaults overlaid with the configuration file named by
// --config in args (or DefaultFile when present) and then the environment.
// Flags are parsed by the caller on top of the result.
func Load(args []string) (Config, error) {
	cfg := Default()
	if path := ConfigFileFlag(args); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.ConfigFile = path
	} else if err := LoadDefaultFile(&cfg); err != nil {
		return cfg, err
	}
	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// ConfigFileFlag scans args for --config/-c ahead of full flag parsing so the
// file can be applied beneath env and flag overrides.
func ConfigFileFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return ""
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-c") && len(arg) > 2:
			return strings.TrimPrefix(arg[2:], "=")
		}
	}
	return ""
}

// RegisterFlags attaches all build flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "directory containing markdown pages")
	fs.StringVarP(&cfg.OutputDir, "out", "o", cfg.OutputDir, "output directory for transformed pages")
	fs.BoolVar(&cfg.HTML, "html", cfg.HTML, "also write an HTML preview next to each page")
	fs.IntVarP(&cfg.Jobs, "jobs", "j", cfg.Jobs, "pages transformed in parallel")
	fs.BoolVar(&cfg.Clean, "clean", cfg.Clean, "remove the output directory before building")
	fs.BoolVar(&cfg.IncludeHidden, "hidden", cfg.IncludeHidden, "include dot files and directories")
	fs.BoolVarP(&cfg.Watch, "watch", "w", cfg.Watch, "rebuild pages as they change")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write render metrics in Prometheus text format after the build")
	RegisterTransformFlags(fs, cfg)
}

// RegisterTransformFlags attaches the flags that shape page transformation:
// the passes, the cache and the toolchain.
func RegisterTransformFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "YAML configuration file (default: "+DefaultFile+" when present)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging")

	fs.BoolVar(&cfg.Theorem.Enable, "theorem", cfg.Theorem.Enable, "turn theorem keywords into admonitions")
	fs.BoolVar(&cfg.TikZcd.Enable, "tikzcd", cfg.TikZcd.Enable, `render \tikzcd blocks`)
	fs.BoolVar(&cfg.TikZcd.CacheFile, "tikzcd-cache", cfg.TikZcd.CacheFile, `cache rendered \tikzcd images`)
	fs.BoolVar(&cfg.TikZpicture.Enable, "tikzpicture", cfg.TikZpicture.Enable, `render \tikzpicture blocks`)
	fs.BoolVar(&cfg.TikZpicture.CacheFile, "tikzpicture-cache", cfg.TikZpicture.CacheFile, `cache rendered \tikzpicture images`)
	fs.BoolVar(&cfg.Alias.Enable, "alias", cfg.Alias.Enable, "expand aliases from the configuration file")

	fs.StringVar(&cfg.Cache.Dir, "cache-dir", cfg.Cache.Dir, "directory for cached SVG files")
	fs.StringVar(&cfg.Cache.Backend, "cache-backend", cfg.Cache.Backend, "cache backend: dir or redis")
	fs.StringVar(&cfg.Cache.RedisAddr, "redis-addr", cfg.Cache.RedisAddr, "redis address for the redis cache backend")
	fs.StringVar(&cfg.Cache.RedisPrefix, "redis-prefix", cfg.Cache.RedisPrefix, "key prefix for the redis cache backend")

	fs.StringVar(&cfg.Toolchain.Compiler, "compiler", cfg.Toolchain.Compiler, "TeX engine (only "+tex.DefaultCompiler+" is supported)")
	fs.StringVar(&cfg.Toolchain.CompilerPath, "compiler-path", cfg.Toolchain.CompilerPath, "path to the TeX engine binary")
	fs.StringVar(&cfg.Toolchain.ConverterPath, "converter-path", cfg.Toolchain.ConverterPath, "path to the dvisvgm binary")
	fs.StringVar(&cfg.Toolchain.WorkDir, "work-dir", cfg.Toolchain.WorkDir, "parent directory for render scratch directories")
	fs.DurationVar(&cfg.Toolchain.Timeout, "timeout", cfg.Toolchain.Timeout, "time limit for each toolchain stage")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyStringEnv("OUT", func(v string) { cfg.OutputDir = v })
	applyBoolEnv("HTML", func(v bool) { cfg.HTML = v })
	applyIntEnv("JOBS", func(v int) { cfg.Jobs = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
	applyStringEnv("METRICS_FILE", func(v string) { cfg.MetricsFile = v })
	applyStringEnv("CACHE_DIR", func(v string) { cfg.Cache.Dir = v })
	applyStringEnv("CACHE_BACKEND", func(v string) { cfg.Cache.Backend = v })
	applyStringEnv("REDIS_ADDR", func(v string) { cfg.Cache.RedisAddr = v })
	applyStringEnv("REDIS_PREFIX", func(v string) { cfg.Cache.RedisPrefix = v })
	applyStringEnv("COMPILER", func(v string) { cfg.Toolchain.Compiler = v })
	applyStringEnv("COMPILER_PATH", func(v string) { cfg.Toolchain.CompilerPath = v })
	applyStringEnv("CONVERTER_PATH", func(v string) { cfg.Toolchain.ConverterPath = v })
	applyStringEnv("WORK_DIR", func(v string) { cfg.Toolchain.WorkDir = v })
	applyDurationEnv("TIMEOUT", func(v time.Duration) { cfg.Toolchain.Timeout = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths.
func Finalize(cfg *Config) error {
	var err error
	if cfg.RootDir, err = absDir(cfg.RootDir, "docs"); err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	if cfg.OutputDir, err = absDir(cfg.OutputDir, "site"); err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	if cfg.OutputDir == cfg.RootDir {
		return fmt.Errorf("output directory must differ from root directory %s", cfg.RootDir)
	}
	if cfg.Cache.Dir, err = absDir(cfg.Cache.Dir, "cache"); err != nil {
		return fmt.Errorf("resolve cache directory: %w", err)
	}
	if cfg.Toolchain.WorkDir != "" {
		if cfg.Toolchain.WorkDir, err = filepath.Abs(cfg.Toolchain.WorkDir); err != nil {
			return fmt.Errorf("resolve work directory: %w", err)
		}
	}

	if cfg.Jobs < 1 {
		return fmt.Errorf("invalid jobs: %d", cfg.Jobs)
	}
	if cfg.Toolchain.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %s", cfg.Toolchain.Timeout)
	}
	if cfg.Toolchain.Compiler == "" {
		cfg.Toolchain.Compiler = tex.DefaultCompiler
	}
	if err := tex.ValidateCompiler(cfg.Toolchain.Compiler); err != nil {
		return err
	}

	switch cfg.Cache.Backend {
	case "", BackendDir:
		cfg.Cache.Backend = BackendDir
	case BackendRedis:
		if cfg.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis requires a redis address")
		}
	default:
		return &tex.ConfigError{Field: "cache.backend", Value: cfg.Cache.Backend}
	}
	return nil
}

func absDir(dir, fallback string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = fallback
	}
	return filepath.Abs(dir)
}

// Caching reports whether any enabled diagram kind uses the cache.
func (c Config) Caching() bool {
	return (c.TikZcd.Enable && c.TikZcd.CacheFile) || (c.TikZpicture.Enable && c.TikZpicture.CacheFile)
}

// TransformOptions converts the configuration into transformer options.
func (c Config) TransformOptions() transform.Options {
	opts := transform.Options{
		Theorem: c.Theorem.Enable,
		Labels:  c.Theorem.Labels,
		Kinds: []transform.Kind{
			{Command: "tikzcd", Enabled: c.TikZcd.Enable, Cache: c.TikZcd.CacheFile},
			{Command: "tikzpicture", Enabled: c.TikZpicture.Enable, Cache: c.TikZpicture.CacheFile},
		},
	}
	if c.Alias.Enable {
		opts.Aliases = c.Alias.List
	}
	return opts
}

// PipelineOptions converts the toolchain section into pipeline options.
func (c Config) PipelineOptions() tex.Options {
	return tex.Options{
		Compiler:      c.Toolchain.Compiler,
		CompilerPath:  c.Toolchain.CompilerPath,
		ConverterPath: c.Toolchain.ConverterPath,
		WorkDir:       c.Toolchain.WorkDir,
		Timeout:       c.Toolchain.Timeout,
	}
}
