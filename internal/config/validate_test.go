package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Auth: "0123456789ab"},
		Backend: BackendConfig{
			Pool: PoolConfig{
				Instances: []InstanceConfig{{
					Name:    "i1",
					Workers: []WorkerConfig{{Name: "w1", Type: "chat"}},
				}},
			},
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	neg := -1
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"short auth", func(c *Config) { c.Server.Auth = "short" }, "server.auth"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad keepalive", func(c *Config) { c.Server.Keepalive.Mode = "ping" }, "keepalive.mode"},
		{"bad strategy", func(c *Config) { c.Backend.Pool.Strategy = "fastest" }, "strategy"},
		{"negative buffer", func(c *Config) { c.Queue.QueueBuffer = &neg }, "queueBuffer"},
		{"negative image limit", func(c *Config) { c.Queue.ImageLimit = &neg }, "imageLimit"},
		{"negative retries", func(c *Config) { c.Backend.Pool.Failover.MaxRetries = &neg }, "maxRetries"},
		{"no instances", func(c *Config) { c.Backend.Pool.Instances = nil }, "instances"},
		{"unnamed instance", func(c *Config) { c.Backend.Pool.Instances[0].Name = "" }, "name is required"},
		{"no workers", func(c *Config) { c.Backend.Pool.Instances[0].Workers = nil }, "workers"},
		{"unnamed worker", func(c *Config) { c.Backend.Pool.Instances[0].Workers[0].Name = "" }, "worker name"},
		{"untyped worker", func(c *Config) { c.Backend.Pool.Instances[0].Workers[0].Type = "" }, "mergeTypes"},
		{"monitor without merge", func(c *Config) {
			c.Backend.Pool.Instances[0].Workers[0].MergeMonitor = "https://x.example"
		}, "mergeMonitor"},
		{"bad proxy type", func(c *Config) {
			c.Browser.Proxy = &ProxyConfig{Enable: true, Type: "ftp", Host: "h", Port: 1}
		}, "http or socks5"},
		{"proxy missing host", func(c *Config) {
			c.Browser.Proxy = &ProxyConfig{Enable: true, Type: "http", Port: 1}
		}, "host is required"},
		{"proxy bad port", func(c *Config) {
			c.Browser.Proxy = &ProxyConfig{Enable: true, Host: "h", Port: 0}
		}, "port out of range"},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.Pool.Instances = append(cfg.Backend.Pool.Instances, InstanceConfig{
		Name:         "i2",
		UserDataMark: "i2",
		Workers:      []WorkerConfig{{Name: "w1", Type: "chat"}},
	})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate worker name") {
		t.Fatalf("got %v, want duplicate worker error", err)
	}

	cfg = validConfig()
	cfg.Backend.Pool.Instances = append(cfg.Backend.Pool.Instances, InstanceConfig{
		Name:         "i1",
		UserDataMark: "other",
		Workers:      []WorkerConfig{{Name: "w2", Type: "chat"}},
	})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate instance name") {
		t.Fatalf("got %v, want duplicate instance error", err)
	}
}

func TestValidateUserDataDirCollision(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.Pool.Instances = append(cfg.Backend.Pool.Instances, InstanceConfig{
		Name:    "i2",
		Workers: []WorkerConfig{{Name: "w2", Type: "chat"}},
	})
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "user-data dir") {
		t.Fatalf("two unmarked instances share a profile dir, got %v", err)
	}
	cfg.Backend.Pool.Instances[1].UserDataMark = "second"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("distinct marks must validate: %v", err)
	}
}

func TestValidateDisabledProxyIsIgnored(t *testing.T) {
	cfg := validConfig()
	cfg.Browser.Proxy = &ProxyConfig{Enable: false, Type: "ftp"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled proxy must not be validated: %v", err)
	}
}

func TestResolveProxyPrecedence(t *testing.T) {
	global := &ProxyConfig{Enable: true, Host: "global", Port: 8080}
	instOn := &ProxyConfig{Enable: true, Host: "inst", Port: 1080, Type: "socks5"}
	instOff := &ProxyConfig{Enable: false, Host: "inst", Port: 1080}

	if got := ResolveProxy(global, instOn); got != instOn {
		t.Fatalf("enabled instance proxy must win, got %+v", got)
	}
	if got := ResolveProxy(global, instOff); got != nil {
		t.Fatalf("disabled instance block must force direct, got %+v", got)
	}
	if got := ResolveProxy(global, nil); got != global {
		t.Fatalf("absent instance block falls back to global, got %+v", got)
	}
	if got := ResolveProxy(&ProxyConfig{Enable: false, Host: "off"}, nil); got != nil {
		t.Fatalf("disabled global proxy must resolve to nil")
	}
}

func TestProxyURL(t *testing.T) {
	if got := (&ProxyConfig{Host: "p.example", Port: 1080, Type: "socks5"}).URL(); got != "socks5://p.example:1080" {
		t.Fatalf("URL = %q", got)
	}
	if got := (&ProxyConfig{Host: "p.example", Port: 3128}).URL(); got != "http://p.example:3128" {
		t.Fatalf("scheme default = %q", got)
	}
	var p *ProxyConfig
	if p.URL() != "" {
		t.Fatalf("nil proxy must render empty")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := &Config{}
	if c.QueueBufferOrDefault() != DefaultQueueBuffer {
		t.Fatalf("queue buffer default = %d", c.QueueBufferOrDefault())
	}
	if c.ImageLimitOrDefault() != DefaultImageLimit {
		t.Fatalf("image limit default = %d", c.ImageLimitOrDefault())
	}
	if c.DataDirOrDefault() != DefaultDataDir {
		t.Fatalf("data dir default = %q", c.DataDirOrDefault())
	}
	if got := c.UserDataDir(""); got != "data/chromiumUserData" {
		t.Fatalf("user data dir = %q", got)
	}
	if got := c.UserDataDir("alt"); got != "data/chromiumUserData_alt" {
		t.Fatalf("marked user data dir = %q", got)
	}
	var f FailoverConfig
	if !f.On() || f.Retries() != DefaultMaxRetries {
		t.Fatalf("failover defaults = %v %d", f.On(), f.Retries())
	}
	off := false
	f.Enabled = &off
	if f.On() {
		t.Fatalf("explicit disable must stick")
	}
}

func TestWorkerConfigTypes(t *testing.T) {
	single := WorkerConfig{Name: "w", Type: "chat"}
	if single.IsMerge() || len(single.Types()) != 1 || single.Types()[0] != "chat" {
		t.Fatalf("single worker types = %v", single.Types())
	}
	merge := WorkerConfig{Name: "w", Type: "ignored", MergeTypes: []string{"a", "b"}}
	if !merge.IsMerge() {
		t.Fatalf("mergeTypes must flag a merge worker")
	}
	if got := merge.Types(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("merge types = %v", got)
	}
	if (WorkerConfig{Name: "w"}).Types() != nil {
		t.Fatalf("untyped worker has no types")
	}
}
