// Package factory opens a node store from a YAML configuration file, so the
// backend choice lives in deployment config instead of code.
package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
)

// Config is the arbor.yaml configuration file.
type Config struct {
	// Backend selects the store implementation: "memory", "redis" or
	// "etcd". Defaults to "memory".
	Backend string `yaml:"backend,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
	Etcd  *EtcdConfig  `yaml:"etcd,omitempty"`

	// Mapper carries mapper-level toggles applied by NewMapper.
	Mapper *MapperConfig `yaml:"mapper,omitempty"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	// URL is a redis connection URL, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url"`

	// KeyPrefix namespaces every key. Default: "arbor".
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// Timeouts are Go duration strings (e.g. "5s", "1m").
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
	WriteTimeout   string `yaml:"write_timeout,omitempty"`
}

// GetConnectTimeout parses the connect timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (r *RedisConfig) GetConnectTimeout() time.Duration {
	return parseDuration(r.durationField("connect"), 5*time.Second)
}

// GetReadTimeout parses the read timeout string and returns a duration.
func (r *RedisConfig) GetReadTimeout() time.Duration {
	return parseDuration(r.durationField("read"), 3*time.Second)
}

// GetWriteTimeout parses the write timeout string and returns a duration.
func (r *RedisConfig) GetWriteTimeout() time.Duration {
	return parseDuration(r.durationField("write"), 3*time.Second)
}

func (r *RedisConfig) durationField(which string) string {
	if r == nil {
		return ""
	}
	switch which {
	case "connect":
		return r.ConnectTimeout
	case "read":
		return r.ReadTimeout
	default:
		return r.WriteTimeout
	}
}

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	// Endpoints lists the cluster members.
	Endpoints []string `yaml:"endpoints"`

	// Namespace prefixes every key. Default: "arbor".
	Namespace string `yaml:"namespace,omitempty"`

	// DialTimeout is a Go duration string. Default: 5s.
	DialTimeout string `yaml:"dial_timeout,omitempty"`
}

// GetDialTimeout parses the dial timeout string and returns a duration.
func (e *EtcdConfig) GetDialTimeout() time.Duration {
	if e == nil {
		return 5 * time.Second
	}
	return parseDuration(e.DialTimeout, 5*time.Second)
}

// MapperConfig carries mapper construction toggles.
type MapperConfig struct {
	// DynamicInstantiation resolves concrete types from stored
	// discriminators on read.
	DynamicInstantiation bool `yaml:"dynamic_instantiation,omitempty"`

	// RawNames disables node-name cleaning.
	RawNames bool `yaml:"raw_names,omitempty"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Validate checks that the selected backend has the configuration it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendMemory:
		return nil
	case BackendRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			return fmt.Errorf("factory: redis backend requires redis.url")
		}
		return nil
	case BackendEtcd:
		if c.Etcd == nil || len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("factory: etcd backend requires etcd.endpoints")
		}
		return nil
	default:
		return fmt.Errorf("factory: unknown backend %q", c.Backend)
	}
}

// Load reads and parses an arbor.yaml file from the given path. If the path
// is a directory, it looks for arbor.yaml or arbor.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("factory: failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		yamlPath := filepath.Join(path, "arbor.yaml")
		if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			ymlPath := filepath.Join(path, "arbor.yml")
			if _, err := os.Stat(ymlPath); err != nil {
				return nil, fmt.Errorf("factory: no arbor.yaml or arbor.yml found in %s", path)
			}
			configPath = ymlPath
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("factory: failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("factory: failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
