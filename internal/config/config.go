package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration format version Load accepts.
const CurrentVersion = "1"

// Config is the site configuration read from sitegen.yaml.
type Config struct {
	Version string        `yaml:"version" validate:"required"`
	Site    SiteConfig    `yaml:"site"`
	Build   BuildConfig   `yaml:"build"`
	Plugins []PluginEntry `yaml:"plugins" validate:"required,min=1,dive"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// path is the file the configuration was loaded from; relative content
	// roots and output directories resolve against its directory.
	path string
}

// SiteConfig is the site metadata used by feeds and page layouts.
type SiteConfig struct {
	Title       string `yaml:"title" validate:"required"`
	Author      string `yaml:"author,omitempty"`
	Description string `yaml:"description,omitempty"`
	SiteURL     string `yaml:"site_url" validate:"required,url"`
}

// BuildConfig controls the engine itself.
type BuildConfig struct {
	OutputDir     string       `yaml:"output_dir"`
	CacheDir      string       `yaml:"cache_dir"`
	CacheBackend  CacheBackend `yaml:"cache_backend"`
	Workers       int          `yaml:"workers" validate:"gte=0"`
	MaxIterations int          `yaml:"max_iterations" validate:"gte=1,lte=1000"`
	MissingRole   MissingRole  `yaml:"missing_role"`
	Journal       *bool        `yaml:"journal,omitempty"`
}

// JournalEnabled reports whether build events are appended to the journal.
func (b BuildConfig) JournalEnabled() bool {
	return b.Journal == nil || *b.Journal
}

// NotifyConfig configures optional build event publication.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url,omitempty" validate:"omitempty,url"`
	Subject string `yaml:"subject,omitempty"`
	// Retry controls how failed publishes are retried.
	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig describes a backoff schedule.
type RetryConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty" validate:"omitempty,oneof=fixed linear exponential"`
	Initial    time.Duration    `yaml:"initial,omitempty" validate:"gte=0"`
	Max        time.Duration    `yaml:"max,omitempty" validate:"gte=0"`
	MaxRetries int              `yaml:"max_retries,omitempty" validate:"gte=0,lte=10"`
}

// RetryBackoffMode selects how retry delays grow.
type RetryBackoffMode string

// Backoff modes.
const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// LoggingConfig sets the default log level; the CLI -v flag and
// SITEGEN_LOG_LEVEL take precedence.
type LoggingConfig struct {
	Level LogLevel `yaml:"level,omitempty"`
}

// PluginEntry is one element of the plugins list. It is written either as a
// bare plugin name or as a mapping with resolve and options, mirroring the
// gatsby-config layout. Options stay as a raw YAML node so that each plugin
// can decode them into its own typed schema.
type PluginEntry struct {
	Resolve string    `yaml:"resolve" validate:"required"`
	Options yaml.Node `yaml:"options,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (p *PluginEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		p.Resolve = value.Value
		p.Options = yaml.Node{}
		return nil
	case yaml.MappingNode:
		var raw struct {
			Resolve string    `yaml:"resolve"`
			Options yaml.Node `yaml:"options"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for i := 0; i+1 < len(value.Content); i += 2 {
			switch key := value.Content[i].Value; key {
			case "resolve", "options":
			default:
				return fmt.Errorf("line %d: unknown plugin entry key %q", value.Content[i].Line, key)
			}
		}
		p.Resolve = raw.Resolve
		p.Options = raw.Options
		return nil
	default:
		return fmt.Errorf("line %d: plugin entry must be a name or a mapping", value.Line)
	}
}

// MarshalYAML writes the short form when there are no options.
func (p PluginEntry) MarshalYAML() (any, error) {
	if p.Options.Kind == 0 {
		return p.Resolve, nil
	}
	return struct {
		Resolve string     `yaml:"resolve"`
		Options *yaml.Node `yaml:"options"`
	}{p.Resolve, &p.Options}, nil
}

// HasOptions reports whether an options mapping was given.
func (p PluginEntry) HasOptions() bool {
	return p.Options.Kind != 0
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Plugin returns the first entry resolving to name.
func (c *Config) Plugin(name string) (PluginEntry, bool) {
	for _, p := range c.Plugins {
		if p.Resolve == name {
			return p, true
		}
	}
	return PluginEntry{}, false
}
