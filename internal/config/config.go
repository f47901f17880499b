package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LoadedFiles []string          `yaml:"-"` // Track all files loaded for this config
	Include     []string          `yaml:"include"`
	Debug       bool              `yaml:"debug"`
	HotReload   bool              `yaml:"hotReload"`
	Loggers     []LoggerConfig    `yaml:"loggers"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	History     HistoryConfig     `yaml:"history"`
	SwitchStore SwitchStoreConfig `yaml:"switchStore"`
	Target      TargetConfig      `yaml:"target"`
	Relay       RelayConfig       `yaml:"relay"`
}

type LoggerConfig struct {
	Stdout     bool   `yaml:"stdout,omitempty"`
	File       string `yaml:"file,omitempty"`
	Level      string `yaml:"level"`
	Source     bool   `yaml:"source"`
	HideTime   bool   `yaml:"hideTime,omitempty"`
	TimeFormat string `yaml:"timeFormat,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SwitchStoreConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TargetConfig configures the simulated host that TN3270 clients connect to.
type TargetConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	Port          int           `yaml:"port"`
	TLSMode       string        `yaml:"tlsMode"`
	CertFile      string        `yaml:"certFile"`
	KeyFile       string        `yaml:"keyFile"`
	LUPoolSize    int           `yaml:"luPoolSize"`
	LUPrefix      string        `yaml:"luPrefix"`
	SystemName    string        `yaml:"systemName"`
	TN3270E       bool          `yaml:"tn3270e"`
	BindImage     bool          `yaml:"bindImage"`
	Devname       bool          `yaml:"devname"`
	Query         bool          `yaml:"query"`
	InitialApp    string        `yaml:"initialApp"`
	ProxyProtocol bool          `yaml:"proxyProtocol"`
	ReadPoll      time.Duration `yaml:"readPoll"`
}

// RelayConfig configures the STARTTLS front end for a real host.
type RelayConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	Port          int           `yaml:"port"`
	Host          string        `yaml:"host"`
	TLSMode       string        `yaml:"tlsMode"`
	CertFile      string        `yaml:"certFile"`
	KeyFile       string        `yaml:"keyFile"`
	Mandatory     bool          `yaml:"mandatory"`
	ProxyProtocol bool          `yaml:"proxyProtocol"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	KeepAlive     time.Duration `yaml:"keepAlive"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
}

func (t TargetConfig) Addr() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

func (r RelayConfig) Addr() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// Defaults returns the configuration used for anything a file leaves out.
func Defaults() *Config {
	return &Config{
		LoadedFiles: []string{},
		Metrics:     MetricsConfig{Address: "127.0.0.1:9270"},
		History:     HistoryConfig{Path: "data/history.sqlite3"},
		Target: TargetConfig{
			Enabled:    true,
			Port:       3270,
			TLSMode:    "none",
			LUPoolSize: 100,
			LUPrefix:   "TERM",
			SystemName: "SYS",
			TN3270E:    true,
			BindImage:  true,
			Devname:    true,
			Query:      true,
			InitialApp: "banner",
			ReadPoll:   time.Second,
		},
		Relay: RelayConfig{
			Port:        2323,
			TLSMode:     "negotiated",
			Mandatory:   true,
			IdleTimeout: 30 * time.Minute,
			KeepAlive:   time.Minute,
			DialTimeout: 10 * time.Second,
		},
	}
}

func Load(filename string) (*Config, error) {
	// Start with the defaults
	cfg := Defaults()

	// Keep track of processed files to avoid infinite loops
	processed := make(map[string]bool)

	if err := loadRecursive(filename, cfg, processed); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRecursive(filename string, cfg *Config, processed map[string]bool) error {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return err
	}

	if processed[absPath] {
		return nil // Already processed
	}
	processed[absPath] = true
	cfg.LoadedFiles = append(cfg.LoadedFiles, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	// Load includes first so this file overrides them
	var tempCfg struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal(expandedData, &tempCfg); err != nil {
		return fmt.Errorf("%s: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	for _, includePath := range tempCfg.Include {
		// Resolve relative paths relative to the current config file
		fullPath := includePath
		if !filepath.IsAbs(includePath) {
			fullPath = filepath.Join(baseDir, includePath)
		}

		if err := loadRecursive(fullPath, cfg, processed); err != nil {
			return fmt.Errorf("failed to load included config %s: %w", fullPath, err)
		}
	}

	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return fmt.Errorf("%s: %w", absPath, err)
	}
	return nil
}

var validTLSModes = map[string]bool{"none": true, "immediate": true, "negotiated": true}

// Validate checks settings that would otherwise fail at listen time.
func (c *Config) Validate() error {
	var errs []error
	if c.Target.Enabled {
		errs = append(errs, checkTLS("target", c.Target.TLSMode, c.Target.CertFile, c.Target.KeyFile))
		if c.Target.LUPoolSize < 0 {
			errs = append(errs, fmt.Errorf("target: luPoolSize must not be negative"))
		}
	}
	if c.Relay.Enabled {
		errs = append(errs, checkTLS("relay", c.Relay.TLSMode, c.Relay.CertFile, c.Relay.KeyFile))
		if c.Relay.Host == "" {
			errs = append(errs, fmt.Errorf("relay: host is required"))
		}
	}
	return errors.Join(errs...)
}

func checkTLS(section, mode, cert, key string) error {
	if mode == "" {
		mode = "none"
	}
	if !validTLSModes[mode] {
		return fmt.Errorf("%s: unknown tlsMode %q", section, mode)
	}
	if mode != "none" && (cert == "" || key == "") {
		return fmt.Errorf("%s: tlsMode %s needs certFile and keyFile", section, mode)
	}
	return nil
}
