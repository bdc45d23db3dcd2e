package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "sitegen.yaml"

// Defaults for the build section.
const (
	DefaultOutputDir     = "public"
	DefaultCacheDir      = ".cache"
	DefaultMaxIterations = 10
	DefaultNotifySubject = "sitegen.builds"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validator returns the shared struct validator. Plugin option schemas use
// the same instance so field names in messages match the YAML keys.
func Validator() *validator.Validate {
	return getValidator()
}

// Load reads, expands, defaults and validates the configuration at path.
//
// .env and .env.local next to the file are loaded first; variables already
// present in the process environment are not overridden.
func Load(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", path).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read configuration file").
			WithContext("path", path).Fatal().Build()
	}

	cfg, err := Parse(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	if err != nil {
		if c, ok := ferrors.AsClassified(err); ok {
			return nil, c.WithContext("path", path)
		}
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.path = abs
	return cfg, nil
}

// Parse decodes a configuration document from r, applies defaults and
// validates it. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ferrors.ConfigError("configuration file is empty").Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse configuration").Fatal().Build()
	}
	if cfg.Version != CurrentVersion {
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported configuration version %q (expected %q)", cfg.Version, CurrentVersion)).Build()
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return ferrors.ConfigError("invalid configuration: " + strings.Join(msgs, "; ")).Build()
		}
		return ferrors.WrapError(err, ferrors.CategoryConfig, "validate configuration").Fatal().Build()
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Plugins {
		if p.Resolve == "source-filesystem" {
			continue
		}
		if seen[p.Resolve] {
			return ferrors.ConfigError("plugin listed twice").WithContext("plugin", p.Resolve).Build()
		}
		seen[p.Resolve] = true
	}
	return nil
}

func normalize(cfg *Config) error {
	var err error
	if cfg.Build.CacheBackend, err = cacheBackendNormalizer.NormalizeWithError(string(cfg.Build.CacheBackend)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "build.cache_backend").Fatal().Build()
	}
	if cfg.Build.MissingRole, err = missingRoleNormalizer.NormalizeWithError(string(cfg.Build.MissingRole)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "build.missing_role").Fatal().Build()
	}
	if cfg.Logging.Level, err = logLevelNormalizer.NormalizeWithError(string(cfg.Logging.Level)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "logging.level").Fatal().Build()
	}
	cfg.Site.SiteURL = strings.TrimRight(cfg.Site.SiteURL, "/")
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = DefaultOutputDir
	}
	if cfg.Build.CacheDir == "" {
		cfg.Build.CacheDir = DefaultCacheDir
	}
	if cfg.Build.Workers == 0 {
		cfg.Build.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Build.MaxIterations == 0 {
		cfg.Build.MaxIterations = DefaultMaxIterations
	}
	if cfg.Notify.NATSURL != "" && cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNotifySubject
	}
}

// ResolvePath makes p absolute relative to the configuration file directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	base := "."
	if c.path != "" {
		base = filepath.Dir(c.path)
	}
	return filepath.Join(base, p)
}

func loadEnvFiles(dir string) {
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("Failed to load environment file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("Loaded environment file", slog.String("path", p))
	}
}
