package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"browserd/internal/adapters"
	"browserd/internal/browser"
	"browserd/internal/config"
)

// fakeAdapter is a scriptable adapter for engine tests.
type fakeAdapter struct {
	typ      string
	models   []adapters.ModelDescriptor
	handlers []adapters.NavigationHandler
	generate func(ctx context.Context, sub adapters.SubContext, prompt string, images []string, modelKey string, meta adapters.Meta) (adapters.Result, error)
}

func (f *fakeAdapter) Type() string        { return f.typ }
func (f *fakeAdapter) DisplayName() string { return f.typ }
func (f *fakeAdapter) TargetURL(opts config.AdapterOptions, w config.WorkerConfig) (string, error) {
	return "https://" + f.typ + ".example/app", nil
}
func (f *fakeAdapter) NavigationHandlers() []adapters.NavigationHandler { return f.handlers }
func (f *fakeAdapter) Models() []adapters.ModelDescriptor               { return f.models }
func (f *fakeAdapter) Generate(ctx context.Context, sub adapters.SubContext, prompt string, images []string, modelKey string, meta adapters.Meta) (adapters.Result, error) {
	if f.generate != nil {
		return f.generate(ctx, sub, prompt, images, modelKey, meta)
	}
	return adapters.Result{Text: "ok from " + f.typ}, nil
}

func textAdapter(typ string, ids ...string) *fakeAdapter {
	a := &fakeAdapter{typ: typ}
	for _, id := range ids {
		a.models = append(a.models, adapters.ModelDescriptor{
			ID: id, Upstream: id + "-up", Modality: adapters.ModalityText, Images: adapters.ImagesForbidden,
		})
	}
	return a
}

// fakePage satisfies browser.Page with canned behavior.
type fakePage struct {
	mu        sync.Mutex
	url       string
	closed    bool
	navs      []string
	onNav     []func(string)
	inserted  []string
	uploaded  [][]string
	responses []browser.Response
	respErr   error
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.navs = append(p.navs, url)
	cbs := append(([]func(string))(nil), p.onNav...)
	p.mu.Unlock()
	for _, fn := range cbs {
		fn(url)
	}
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Reload(ctx context.Context) error { return nil }

func (p *fakePage) InsertText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inserted = append(p.inserted, text)
	return nil
}

func (p *fakePage) PressEnter(ctx context.Context) error { return nil }

func (p *fakePage) Upload(ctx context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded = append(p.uploaded, paths)
	return nil
}

func (p *fakePage) WaitResponse(ctx context.Context, urlSubstr string) (browser.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.respErr != nil {
		return browser.Response{}, p.respErr
	}
	if len(p.responses) == 0 {
		return browser.Response{Status: 200, Body: []byte(`{"text":"done"}`)}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func (p *fakePage) Cookies(ctx context.Context, domain string) ([]browser.Cookie, error) {
	return []browser.Cookie{{Name: "sid", Value: "abc", Domain: domain}}, nil
}

func (p *fakePage) OnNavigated(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNav = append(p.onNav, fn)
}

func (p *fakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBrowser struct {
	mu    sync.Mutex
	pages []*fakePage
}

func (b *fakeBrowser) NewPage(ctx context.Context, url string) (browser.Page, error) {
	p := &fakePage{url: url}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeLauncher struct {
	mu       sync.Mutex
	launched int
	last     browser.LaunchOptions
}

func (l *fakeLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched++
	l.last = opts
	return &fakeBrowser{}, nil
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

func configWorker(name string, types []string) config.WorkerConfig {
	wc := config.WorkerConfig{Name: name}
	if len(types) == 1 {
		wc.Type = types[0]
	} else {
		wc.MergeTypes = types
	}
	return wc
}

func testInstance(t interface{ TempDir() string }, name string) *Instance {
	global := &config.Config{DataDir: t.TempDir()}
	return NewInstance(config.InstanceConfig{Name: name}, global, &fakeLauncher{}, testLogger())
}

func failoverOn(retries int) config.FailoverConfig {
	on := true
	return config.FailoverConfig{Enabled: &on, MaxRetries: &retries}
}

// testWorker assembles an initialized worker over fakes.
func testWorker(name string, reg *Registry, types []string, dir string) (*Worker, *Instance) {
	wc := config.WorkerConfig{Name: name}
	if len(types) == 1 {
		wc.Type = types[0]
	} else {
		wc.MergeTypes = types
	}
	global := &config.Config{DataDir: dir}
	inst := NewInstance(config.InstanceConfig{Name: name + "-inst"}, global, &fakeLauncher{}, testLogger())
	w := NewWorker(wc, reg, inst, config.FailoverConfig{}, testLogger())
	return w, inst
}
