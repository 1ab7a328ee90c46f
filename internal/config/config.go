// Package config resolves teemux settings from a config file, TEEMUX_*
// environment variables and defaults. Flags are layered on top by the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = 8336
	DefaultTail        = 1000
	DefaultHost        = "0.0.0.0"
	DefaultViewerQueue = 4096

	EnvPrefix = "TEEMUX_"
)

type Config struct {
	// Name labels the wrapped process. Empty means the command name.
	Name string `json:"name" yaml:"name"`
	// Host is the listen address when this process wins the port.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// Tail is the ring buffer capacity.
	Tail int `json:"tail" yaml:"tail"`

	ForceLeader  bool   `json:"force_leader" yaml:"force_leader"`
	RedisURL     string `json:"redis_url" yaml:"redis_url"`
	LogFile      string `json:"log_file" yaml:"log_file"`
	ClientBundle string `json:"client_bundle" yaml:"client_bundle"`
	ViewerQueue  int    `json:"viewer_queue" yaml:"viewer_queue"`
	Debug        bool   `json:"debug" yaml:"debug"`
}

func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads path when it is non-empty and applies defaults. YAML is used for
// .yaml/.yml files and JSON for everything else.
func Load(path string) (Config, error) {
	var cfg Config
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
			}
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from TEEMUX_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if c == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("NAME"); ok {
		c.Name = v
	}
	if v, ok := get("HOST"); ok {
		c.Host = v
	}
	if v, ok := get("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		c.Port = n
	}
	if v, ok := get("TAIL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTAIL: %w", EnvPrefix, err)
		}
		c.Tail = n
	}
	if v, ok := get("FORCE_LEADER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sFORCE_LEADER: %w", EnvPrefix, err)
		}
		c.ForceLeader = b
	}
	if v, ok := get("REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := get("LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := get("CLIENT_BUNDLE"); ok {
		c.ClientBundle = v
	}
	if v, ok := get("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c == nil {
		return
	}
	c.Name = strings.TrimSpace(c.Name)
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Tail <= 0 {
		c.Tail = DefaultTail
	}
	if c.ViewerQueue <= 0 {
		c.ViewerQueue = DefaultViewerQueue
	}
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.ClientBundle = strings.TrimSpace(c.ClientBundle)
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Tail <= 0 {
		return errors.New("tail must be positive")
	}
	return nil
}

// ListenAddr is the address the aggregation server binds.
func (c Config) ListenAddr() string {
	return hostPort(c.Host, c.Port)
}

// DialAddr is the loopback address clients forward to.
func (c Config) DialAddr() string {
	return hostPort("127.0.0.1", c.Port)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(port))
}
