package config

import (
	"fmt"
)

// Validate checks cross-field constraints at configuration load. It is the
// single gate for duplicate names and enum typos; the engine trusts a
// validated config thereafter.
func (c *Config) Validate() error {
	if len(c.Server.Auth) < 10 {
		return fmt.Errorf("server.auth must be at least 10 characters")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Server.Keepalive.Mode {
	case "", "comment", "content":
	default:
		return fmt.Errorf("server.keepalive.mode must be comment or content, got %q", c.Server.Keepalive.Mode)
	}
	switch c.Backend.Pool.Strategy {
	case "", "least_busy", "round_robin", "random":
	default:
		return fmt.Errorf("backend.pool.strategy must be least_busy, round_robin or random, got %q", c.Backend.Pool.Strategy)
	}
	if err := validateProxy("browser.proxy", c.Browser.Proxy); err != nil {
		return err
	}
	if qb := c.Queue.QueueBuffer; qb != nil && *qb < 0 {
		return fmt.Errorf("queue.queueBuffer must be >= 0")
	}
	if il := c.Queue.ImageLimit; il != nil && *il < 0 {
		return fmt.Errorf("queue.imageLimit must be >= 0")
	}
	if mr := c.Backend.Pool.Failover.MaxRetries; mr != nil && *mr < 0 {
		return fmt.Errorf("backend.pool.failover.maxRetries must be >= 0")
	}

	if len(c.Backend.Pool.Instances) == 0 {
		return fmt.Errorf("backend.pool.instances must not be empty")
	}
	instNames := map[string]bool{}
	dataDirs := map[string]bool{}
	workerNames := map[string]bool{}
	for i, inst := range c.Backend.Pool.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance[%d]: name is required", i)
		}
		if instNames[inst.Name] {
			return fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		instNames[inst.Name] = true
		dir := c.UserDataDir(inst.UserDataMark)
		if dataDirs[dir] {
			return fmt.Errorf("instance %q: user-data dir %q already used by another instance", inst.Name, dir)
		}
		dataDirs[dir] = true
		if err := validateProxy(fmt.Sprintf("instance %q proxy", inst.Name), inst.Proxy); err != nil {
			return err
		}
		if len(inst.Workers) == 0 {
			return fmt.Errorf("instance %q: workers must not be empty", inst.Name)
		}
		for _, w := range inst.Workers {
			if w.Name == "" {
				return fmt.Errorf("instance %q: worker name is required", inst.Name)
			}
			if workerNames[w.Name] {
				return fmt.Errorf("duplicate worker name %q", w.Name)
			}
			workerNames[w.Name] = true
			if len(w.Types()) == 0 {
				return fmt.Errorf("worker %q: type or mergeTypes is required", w.Name)
			}
			if w.MergeMonitor != "" && !w.IsMerge() {
				return fmt.Errorf("worker %q: mergeMonitor requires mergeTypes", w.Name)
			}
		}
	}
	return nil
}

func validateProxy(where string, p *ProxyConfig) error {
	if p == nil || !p.Enable {
		return nil
	}
	switch p.Type {
	case "", "http", "socks5":
	default:
		return fmt.Errorf("%s: type must be http or socks5, got %q", where, p.Type)
	}
	if p.Host == "" {
		return fmt.Errorf("%s: host is required when enabled", where)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%s: port out of range: %d", where, p.Port)
	}
	return nil
}
