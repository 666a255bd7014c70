// Package e2e wires the real engine and HTTP surface together over a
// fake browser substrate and talks to the result through an actual TCP
// listener. Everything except the browser itself is production code.
package e2e

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"browserd/internal/browser"
	"browserd/internal/config"
	"browserd/internal/engine"
	"browserd/internal/httpapi"
)

const e2eToken = "sk-e2e-0123456789"

type scriptedPage struct {
	mu     sync.Mutex
	url    string
	closed bool
	onNav  []func(string)
	body   []byte
	delay  time.Duration
}

func (p *scriptedPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	cbs := append(([]func(string))(nil), p.onNav...)
	p.mu.Unlock()
	for _, fn := range cbs {
		fn(url)
	}
	return nil
}

func (p *scriptedPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *scriptedPage) Reload(ctx context.Context) error                 { return nil }
func (p *scriptedPage) InsertText(ctx context.Context, text string) error { return nil }
func (p *scriptedPage) PressEnter(ctx context.Context) error              { return nil }
func (p *scriptedPage) Upload(ctx context.Context, sel string, paths []string) error {
	return nil
}

func (p *scriptedPage) WaitResponse(ctx context.Context, urlSubstr string) (browser.Response, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return browser.Response{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	body := p.body
	if body == nil {
		body = []byte(`{"text":"pong"}`)
	}
	return browser.Response{Status: 200, Body: body}, nil
}

func (p *scriptedPage) Cookies(ctx context.Context, domain string) ([]browser.Cookie, error) {
	return []browser.Cookie{{Name: "session", Value: "e2e", Domain: domain}}, nil
}

func (p *scriptedPage) OnNavigated(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNav = append(p.onNav, fn)
}

func (p *scriptedPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *scriptedPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type scriptedBrowser struct {
	delay time.Duration
}

func (b *scriptedBrowser) NewPage(ctx context.Context, url string) (browser.Page, error) {
	return &scriptedPage{url: url, delay: b.delay}, nil
}

func (b *scriptedBrowser) Close() error { return nil }

type scriptedLauncher struct {
	delay time.Duration
}

func (l *scriptedLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	return &scriptedBrowser{delay: l.delay}, nil
}

func e2eConfig(t *testing.T, workers int) *config.Config {
	t.Helper()
	inst := config.InstanceConfig{Name: "i1"}
	for i := 0; i < workers; i++ {
		inst.Workers = append(inst.Workers, config.WorkerConfig{
			Name: "w" + string(rune('1'+i)),
			Type: "chat",
		})
	}
	return &config.Config{
		DataDir: t.TempDir(),
		Server:  config.ServerConfig{Auth: e2eToken},
		Backend: config.BackendConfig{
			Adapter: map[string]config.AdapterOptions{
				"chat": {"baseURL": "https://chat.example/app"},
			},
			Pool: config.PoolConfig{Instances: []config.InstanceConfig{inst}},
		},
	}
}

// startGateway boots engine plus HTTP surface and returns the base URL.
func startGateway(t *testing.T, cfg *config.Config, delay time.Duration) string {
	t.Helper()
	eng, err := engine.New(cfg, &scriptedLauncher{delay: delay}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Start(ctx, false); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown(0) })

	mux := httpapi.NewMux(eng, httpapi.Options{
		AuthToken:     cfg.Server.Auth,
		KeepaliveMode: httpapi.KeepaliveComment,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}
