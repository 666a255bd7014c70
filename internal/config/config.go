// Package config defines the engine configuration schema and its loader.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Defaults applied when corresponding fields are unset.
const (
	DefaultPort          = 3000
	DefaultQueueBuffer   = 2
	DefaultImageLimit    = 5
	DefaultMaxRetries    = 2
	DefaultStrategy      = "least_busy"
	DefaultKeepaliveMode = "comment"

	DefaultDataDir = "data"

	// DefaultShutdownGrace bounds the in-flight drain on shutdown.
	DefaultShutdownGrace = 30 * time.Second
)

// Config is the root of the engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server" toml:"server"`
	Browser BrowserConfig `yaml:"browser" json:"browser" toml:"browser"`
	Queue   QueueConfig   `yaml:"queue" json:"queue" toml:"queue"`
	Backend BackendConfig `yaml:"backend" json:"backend" toml:"backend"`

	// DataDir is the root of all persisted state. Unset means "data".
	DataDir string `yaml:"dataDir" json:"dataDir" toml:"dataDir"`
}

type ServerConfig struct {
	Port      int             `yaml:"port" json:"port" toml:"port"`
	Auth      string          `yaml:"auth" json:"auth" toml:"auth"`
	Keepalive KeepaliveConfig `yaml:"keepalive" json:"keepalive" toml:"keepalive"`
}

type KeepaliveConfig struct {
	// Mode is "comment" (SSE comment heartbeats) or "content"
	// (empty-delta chunks for clients that strip comments).
	Mode string `yaml:"mode" json:"mode" toml:"mode"`
}

type BrowserConfig struct {
	// Bin overrides the browser binary; empty lets the launcher resolve it.
	Bin      string       `yaml:"bin" json:"bin" toml:"bin"`
	Headless bool         `yaml:"headless" json:"headless" toml:"headless"`
	Proxy    *ProxyConfig `yaml:"proxy" json:"proxy" toml:"proxy"`
}

type ProxyConfig struct {
	Enable bool   `yaml:"enable" json:"enable" toml:"enable"`
	Type   string `yaml:"type" json:"type" toml:"type"` // http | socks5
	Host   string `yaml:"host" json:"host" toml:"host"`
	Port   int    `yaml:"port" json:"port" toml:"port"`
	User   string `yaml:"user" json:"user" toml:"user"`
	Passwd string `yaml:"passwd" json:"passwd" toml:"passwd"`
}

// URL renders the proxy as scheme://host:port for the browser launcher.
func (p *ProxyConfig) URL() string {
	if p == nil || p.Host == "" {
		return ""
	}
	scheme := p.Type
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}

type QueueConfig struct {
	// QueueBuffer is the extra non-streaming admission headroom beyond
	// one task per worker.
	QueueBuffer *int `yaml:"queueBuffer" json:"queueBuffer" toml:"queueBuffer"`
	// ImageLimit caps attached images per request.
	ImageLimit *int `yaml:"imageLimit" json:"imageLimit" toml:"imageLimit"`
}

type BackendConfig struct {
	Pool PoolConfig `yaml:"pool" json:"pool" toml:"pool"`
	// Adapter holds adapter-specific option blocks keyed by adapter type.
	Adapter map[string]AdapterOptions `yaml:"adapter" json:"adapter" toml:"adapter"`
}

// AdapterOptions is an opaque option bag an adapter interprets itself.
type AdapterOptions map[string]any

// String returns the string value of key, or def when absent.
func (o AdapterOptions) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

type PoolConfig struct {
	Strategy  string           `yaml:"strategy" json:"strategy" toml:"strategy"`
	Failover  FailoverConfig   `yaml:"failover" json:"failover" toml:"failover"`
	Instances []InstanceConfig `yaml:"instances" json:"instances" toml:"instances"`
}

type FailoverConfig struct {
	Enabled    *bool `yaml:"enabled" json:"enabled" toml:"enabled"`
	MaxRetries *int  `yaml:"maxRetries" json:"maxRetries" toml:"maxRetries"`
}

// On reports whether cross-candidate failover is enabled (default true).
func (f FailoverConfig) On() bool { return f.Enabled == nil || *f.Enabled }

// Retries returns the effective retry budget (default 2).
func (f FailoverConfig) Retries() int {
	if f.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *f.MaxRetries
}

type InstanceConfig struct {
	Name         string         `yaml:"name" json:"name" toml:"name"`
	UserDataMark string         `yaml:"userDataMark" json:"userDataMark" toml:"userDataMark"`
	Proxy        *ProxyConfig   `yaml:"proxy" json:"proxy" toml:"proxy"`
	Workers      []WorkerConfig `yaml:"workers" json:"workers" toml:"workers"`
}

type WorkerConfig struct {
	Name string `yaml:"name" json:"name" toml:"name"`
	// Type names the adapter for a single worker. MergeTypes, when set,
	// makes this a merge worker; Type is then ignored.
	Type         string   `yaml:"type" json:"type" toml:"type"`
	MergeTypes   []string `yaml:"mergeTypes" json:"mergeTypes" toml:"mergeTypes"`
	MergeMonitor string   `yaml:"mergeMonitor" json:"mergeMonitor" toml:"mergeMonitor"`
}

// Types returns the worker's adapter types in configured order.
func (w WorkerConfig) Types() []string {
	if len(w.MergeTypes) > 0 {
		return w.MergeTypes
	}
	if w.Type != "" {
		return []string{w.Type}
	}
	return nil
}

// IsMerge reports whether the worker aggregates multiple adapter types.
func (w WorkerConfig) IsMerge() bool { return len(w.MergeTypes) > 0 }

// QueueBufferOrDefault returns the configured queue buffer or the default.
func (c *Config) QueueBufferOrDefault() int {
	if c.Queue.QueueBuffer == nil {
		return DefaultQueueBuffer
	}
	return *c.Queue.QueueBuffer
}

// ImageLimitOrDefault returns the configured image limit or the default.
func (c *Config) ImageLimitOrDefault() int {
	if c.Queue.ImageLimit == nil {
		return DefaultImageLimit
	}
	return *c.Queue.ImageLimit
}

// DataDirOrDefault returns the configured data root or "data".
func (c *Config) DataDirOrDefault() string {
	if c.DataDir == "" {
		return DefaultDataDir
	}
	return c.DataDir
}

// TempDir is where transient download artifacts and the log file live.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDirOrDefault(), "temp")
}

// UserDataDir computes an instance's browser profile directory.
func (c *Config) UserDataDir(mark string) string {
	name := "chromiumUserData"
	if mark != "" {
		name += "_" + mark
	}
	return filepath.Join(c.DataDirOrDefault(), name)
}

// ResolveProxy applies instance-over-global proxy precedence: a present
// and enabled instance block wins; a present but disabled block forces a
// direct connection even when a global proxy exists; an absent block
// falls back to the enabled global proxy.
func ResolveProxy(global, instance *ProxyConfig) *ProxyConfig {
	if instance != nil {
		if instance.Enable {
			return instance
		}
		return nil
	}
	if global != nil && global.Enable {
		return global
	}
	return nil
}
