// Package config loads flowtabs settings from defaults, an optional YAML
// file and FLOWTABS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FLOWTABS"

var (
	ErrInvalid = errors.New("config: invalid")
	ErrExists  = errors.New("config: file already exists")
)

type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Poll      PollConfig      `mapstructure:"poll"`
	Windows   WindowsConfig   `mapstructure:"windows"`
	Access    AccessConfig    `mapstructure:"access"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Search    SearchConfig    `mapstructure:"search"`
	Tabs      TabsConfig      `mapstructure:"tabs"`
	Icons     IconsConfig     `mapstructure:"icons"`
	OS        OSConfig        `mapstructure:"os"`
	Log       LogConfig       `mapstructure:"log"`
}

type TransportConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	NotifyDisplaced   bool          `mapstructure:"notify_displaced"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type WindowsConfig struct {
	// Exclude lists process names (case-insensitive) never shown as windows.
	Exclude []string `mapstructure:"exclude"`
}

type AccessConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type BrowserConfig struct {
	Process string `mapstructure:"process"`
	Path    string `mapstructure:"path"`
}

type SearchConfig struct {
	URL string `mapstructure:"url"`
}

type TabsConfig struct {
	HidePrefixes []string `mapstructure:"hide_prefixes"`
}

type IconsConfig struct {
	Dir string `mapstructure:"dir"`
}

type OSConfig struct {
	Backend    string        `mapstructure:"backend"`
	ScriptsDir string        `mapstructure:"scripts_dir"`
	NirCmd     string        `mapstructure:"nircmd"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Dir returns the configuration directory. FLOWTABS_CONFIG_DIR overrides it,
// which keeps tests away from the real home directory.
func Dir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("FLOWTABS_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "flowtabs"), nil
}

// Path returns the config file location: FLOWTABS_CONFIG, else
// <Dir>/config.yaml.
func Path() (string, error) {
	if v := strings.TrimSpace(os.Getenv("FLOWTABS_CONFIG")); v != "" {
		return v, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultIconsDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "flowtabs", "icons")
}

func defaultScriptsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "scripts"
	}
	return filepath.Join(filepath.Dir(exe), "scripts")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.addr", "127.0.0.1:5000")
	v.SetDefault("transport.reconnect_interval", "5s")
	v.SetDefault("transport.notify_displaced", true)
	v.SetDefault("poll.interval", "2s")
	v.SetDefault("windows.exclude", []string{"chrome", "code"})
	v.SetDefault("access.cooldown", "0s")
	v.SetDefault("browser.process", "chrome")
	v.SetDefault("browser.path", "")
	v.SetDefault("search.url", "https://www.google.com/search?q=%s")
	v.SetDefault("tabs.hide_prefixes", []string{"chrome://newtab/"})
	v.SetDefault("icons.dir", defaultIconsDir())
	v.SetDefault("os.backend", "auto")
	v.SetDefault("os.scripts_dir", defaultScriptsDir())
	v.SetDefault("os.nircmd", "nircmd.exe")
	v.SetDefault("os.timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

// Source is a loaded configuration that can be re-read when its file changes.
type Source struct {
	v    *viper.Viper
	file string
	used bool
}

// Open layers defaults, the config file at path (or Path() when empty) and
// the environment. A missing file is not an error; a malformed one is.
func Open(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Source{v: v, file: path}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		s.used = true
	case errors.Is(err, os.ErrNotExist), errors.As(err, &notFound):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return s, nil
}

// Default returns the built-in configuration, ignoring file and environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Viper exposes the underlying instance so commands can bind flags.
func (s *Source) Viper() *viper.Viper { return s.v }

// File is the config path consulted, whether or not it existed.
func (s *Source) File() string { return s.file }

// FileUsed reports whether a config file was read.
func (s *Source) FileUsed() bool { return s.used }

// Config decodes and validates the current settings.
func (s *Source) Config() (Config, error) {
	var c Config
	if err := s.v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Windows.Exclude = splitList(c.Windows.Exclude)
	c.Tabs.HidePrefixes = splitList(c.Tabs.HidePrefixes)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// splitList accepts comma-separated env values like "chrome,code".
func splitList(in []string) []string {
	out := []string{}
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Transport.Addr) == "" {
		errs = append(errs, errors.New("transport.addr is empty"))
	}
	if c.Transport.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("transport.reconnect_interval must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Access.Cooldown < 0 {
		errs = append(errs, errors.New("access.cooldown must not be negative"))
	}
	if c.OS.Timeout <= 0 {
		errs = append(errs, errors.New("os.timeout must be positive"))
	}
	switch strings.ToLower(c.OS.Backend) {
	case "", "auto", "windows", "linux", "none":
	default:
		errs = append(errs, fmt.Errorf("os.backend %q: want auto, windows, linux or none", c.OS.Backend))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %v", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Watch re-reads the file on change and hands the new settings (or the
// decode error) to fn. It only has an effect when a config file was read.
func (s *Source) Watch(fn func(Config, error)) bool {
	if !s.used {
		return false
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(s.Config())
	})
	s.v.WatchConfig()
	return true
}

// Map renders c in the file layout, with durations as strings.
func (c Config) Map() map[string]any {
	return map[string]any{
		"transport": map[string]any{
			"addr":               c.Transport.Addr,
			"reconnect_interval": c.Transport.ReconnectInterval.String(),
			"notify_displaced":   c.Transport.NotifyDisplaced,
		},
		"poll":    map[string]any{"interval": c.Poll.Interval.String()},
		"windows": map[string]any{"exclude": c.Windows.Exclude},
		"access":  map[string]any{"cooldown": c.Access.Cooldown.String()},
		"browser": map[string]any{"process": c.Browser.Process, "path": c.Browser.Path},
		"search":  map[string]any{"url": c.Search.URL},
		"tabs":    map[string]any{"hide_prefixes": c.Tabs.HidePrefixes},
		"icons":   map[string]any{"dir": c.Icons.Dir},
		"os": map[string]any{
			"backend":     c.OS.Backend,
			"scripts_dir": c.OS.ScriptsDir,
			"nircmd":      c.OS.NirCmd,
			"timeout":     c.OS.Timeout.String(),
		},
		"log": map[string]any{"level": c.Log.Level, "format": c.Log.Format, "file": c.Log.File},
	}
}

// WriteFile writes c as YAML to path via a temp file and rename. It refuses
// to replace an existing file unless force is set.
func WriteFile(path string, c Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(c.Map())
	if err != nil {
		return err
	}
	return atomicWriteFile(dir, ".config-*.yaml", path, b, 0o644)
}

func atomicWriteFile(dir, tmpPattern, path string, b []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, perm)
	return os.Rename(tmp, path)
}
