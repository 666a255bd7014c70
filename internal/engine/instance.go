package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"browserd/internal/browser"
	"browserd/internal/config"
)

// Instance is one browser process hosting one or more workers as isolated
// tabs. It owns the cookie/storage identity (the user-data directory) and
// the proxy binding. The browser handle is created lazily on the first
// worker init and lives for the instance's lifetime.
type Instance struct {
	cfg      config.InstanceConfig
	dataDir  string
	proxy    *config.ProxyConfig
	launcher browser.Launcher
	headless bool
	log      zerolog.Logger

	mu      sync.Mutex
	browser browser.Browser
	workers []*Worker
}

// NewInstance wires an instance from validated configuration. The proxy
// is resolved here once: instance block over global, explicit disable
// forcing direct.
func NewInstance(cfg config.InstanceConfig, global *config.Config, launcher browser.Launcher, log zerolog.Logger) *Instance {
	return &Instance{
		cfg:      cfg,
		dataDir:  global.UserDataDir(cfg.UserDataMark),
		proxy:    config.ResolveProxy(global.Browser.Proxy, cfg.Proxy),
		launcher: launcher,
		headless: global.Browser.Headless,
		log:      log.With().Str("module", "instance").Str("instance", cfg.Name).Logger(),
	}
}

func (in *Instance) Name() string               { return in.cfg.Name }
func (in *Instance) UserDataDir() string        { return in.dataDir }
func (in *Instance) Proxy() *config.ProxyConfig { return in.proxy }

func (in *Instance) addWorker(w *Worker) {
	in.mu.Lock()
	in.workers = append(in.workers, w)
	in.mu.Unlock()
}

// Workers returns the instance's workers in configuration order.
func (in *Instance) Workers() []*Worker {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]*Worker(nil), in.workers...)
}

// EnsureBrowser launches the instance's browser on first use; later
// callers reuse the running process and get tabs appended to it.
func (in *Instance) EnsureBrowser(ctx context.Context) (browser.Browser, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.browser != nil {
		return in.browser, nil
	}
	if err := os.MkdirAll(in.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("instance %s: user-data dir: %w", in.cfg.Name, err)
	}
	opts := browser.LaunchOptions{
		UserDataDir: in.dataDir,
		Headless:    in.headless,
	}
	if in.proxy != nil {
		opts.ProxyURL = in.proxy.URL()
		opts.ProxyUser = in.proxy.User
		opts.ProxyPass = in.proxy.Passwd
	}
	in.log.Info().Str("user_data_dir", in.dataDir).Bool("proxied", opts.ProxyURL != "").Msg("launching browser")
	b, err := in.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", in.cfg.Name, err)
	}
	in.browser = b
	return b, nil
}

// NewPage appends a tab to the instance's browser.
func (in *Instance) NewPage(ctx context.Context, url string) (browser.Page, error) {
	b, err := in.EnsureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	return b.NewPage(ctx, url)
}

// Close shuts the browser down, invalidating all tabs. Called on engine
// shutdown only; worker pages are never released individually.
func (in *Instance) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.browser == nil {
		return nil
	}
	err := in.browser.Close()
	in.browser = nil
	return err
}
