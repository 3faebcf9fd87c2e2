// Package config provides configuration management for tagserve using
// Viper for loading from files, environment variables and command-line
// flags.
//
// Settings cover the HTTP server, the tag source pattern and compiler
// options, the static asset set emitted into every page, development hot
// reload and the route manifest location.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Tags        TagsConfig        `mapstructure:"tags" yaml:"tags"`
	Assets      AssetsConfig      `mapstructure:"assets" yaml:"assets"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Routes      RoutesConfig      `mapstructure:"routes" yaml:"routes"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	RenderTimeout  time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type TagsConfig struct {
	// Pattern is a path or doublestar glob selecting tag source files.
	Pattern        string `mapstructure:"pattern" yaml:"pattern"`
	Dialect        string `mapstructure:"dialect" yaml:"dialect"`
	ResolveImports bool   `mapstructure:"resolve_imports" yaml:"resolve_imports"`
}

type AssetsConfig struct {
	StaticDir    string   `mapstructure:"static_dir" yaml:"static_dir"`
	Stylesheets  []string `mapstructure:"stylesheets" yaml:"stylesheets"`
	Scripts      []string `mapstructure:"scripts" yaml:"scripts"`
	PathPrefix   string   `mapstructure:"path_prefix" yaml:"path_prefix"`
	HeaderMarkup string   `mapstructure:"header_markup" yaml:"header_markup"`
}

type DevelopmentConfig struct {
	HotReload  bool          `mapstructure:"hot_reload" yaml:"hot_reload"`
	LiveReload bool          `mapstructure:"live_reload" yaml:"live_reload"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type RoutesConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.render_timeout", 0)

	v.SetDefault("tags.pattern", "tags/**/*.tag")
	v.SetDefault("tags.dialect", "go")
	v.SetDefault("tags.resolve_imports", false)

	v.SetDefault("assets.static_dir", "./static")
	v.SetDefault("assets.stylesheets", []string{})
	v.SetDefault("assets.scripts", []string{})

	v.SetDefault("development.hot_reload", true)
	v.SetDefault("development.live_reload", true)
	v.SetDefault("development.debounce", 300*time.Millisecond)

	v.SetDefault("routes.file", "routes.yml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v, applying defaults and validation.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	// Slices bound from env vars or flags arrive as a single string.
	config.Assets.Stylesheets = splitList(config.Assets.Stylesheets)
	config.Assets.Scripts = splitList(config.Assets.Scripts)
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateTagsConfig(&config.Tags); err != nil {
		return fmt.Errorf("tags config: %w", err)
	}
	if err := validateAssetsConfig(&config.Assets); err != nil {
		return fmt.Errorf("assets config: %w", err)
	}
	if config.Development.Debounce < 0 {
		return fmt.Errorf("development config: negative debounce %s", config.Development.Debounce)
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Port 0 lets the system pick one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.RenderTimeout < 0 {
		return fmt.Errorf("negative render_timeout %s", config.RenderTimeout)
	}
	return nil
}

func validateTagsConfig(config *TagsConfig) error {
	if strings.TrimSpace(config.Pattern) == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	switch config.Dialect {
	case "go", "riot":
	default:
		return fmt.Errorf("unsupported dialect %q (supported: go, riot)", config.Dialect)
	}
	return nil
}

func validateAssetsConfig(config *AssetsConfig) error {
	if config.StaticDir == "" {
		return fmt.Errorf("static_dir must not be empty")
	}
	if config.PathPrefix != "" && !strings.HasPrefix(config.PathPrefix, "/") {
		return fmt.Errorf("path_prefix %q must start with /", config.PathPrefix)
	}
	for _, p := range append(append([]string{}, config.Stylesheets...), config.Scripts...) {
		if strings.Contains(filepath.ToSlash(filepath.Clean(p)), "../") {
			return fmt.Errorf("asset path contains traversal: %s", p)
		}
	}
	return nil
}
