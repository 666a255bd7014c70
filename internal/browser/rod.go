package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodLauncher launches Chromium through rod with a dedicated user-data
// directory and optional proxy binding per browser process.
type RodLauncher struct {
	// Bin overrides the browser binary path; empty lets rod resolve it.
	Bin string
}

func NewRodLauncher() *RodLauncher { return &RodLauncher{} }

func (rl *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	l := launcher.New().
		UserDataDir(opts.UserDataDir).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run")
	if rl.Bin != "" {
		l = l.Bin(rl.Bin)
	}
	if opts.ProxyURL != "" {
		l = l.Proxy(opts.ProxyURL)
	}
	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if opts.ProxyURL != "" && opts.ProxyUser != "" {
		release := b.HandleAuth(opts.ProxyUser, opts.ProxyPass)
		go func() { _ = release() }()
	}
	return &rodBrowser{b: b}, nil
}

type rodBrowser struct {
	b *rod.Browser
}

func (rb *rodBrowser) NewPage(ctx context.Context, url string) (Page, error) {
	p, err := rb.b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	rp := &rodPage{p: p}
	rp.watchNavigation()
	if url != "" {
		if err := rp.Navigate(ctx, url); err != nil {
			_ = rp.Close()
			return nil, err
		}
	}
	return rp, nil
}

func (rb *rodBrowser) Close() error { return rb.b.Close() }

type rodPage struct {
	p *rod.Page

	mu       sync.Mutex
	handlers []func(url string)
	closed   bool
}

func (rp *rodPage) watchNavigation() {
	go rp.p.EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame.ParentID != "" {
			return
		}
		rp.mu.Lock()
		hs := append(([]func(string))(nil), rp.handlers...)

		rp.mu.Unlock()
		for _, h := range hs {
			h(e.Frame.URL)
		}
	})()
}

func (rp *rodPage) Navigate(ctx context.Context, url string) error {
	p := rp.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return rp.mapErr(err)
	}
	if err := p.WaitLoad(); err != nil {
		return rp.mapErr(err)
	}
	return nil
}

func (rp *rodPage) URL() string {
	info, err := rp.p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (rp *rodPage) Reload(ctx context.Context) error {
	if err := rp.p.Context(ctx).Reload(); err != nil {
		return rp.mapErr(err)
	}
	return nil
}

func (rp *rodPage) InsertText(ctx context.Context, text string) error {
	if err := rp.p.Context(ctx).InsertText(text); err != nil {
		return rp.mapErr(err)
	}
	return nil
}

func (rp *rodPage) PressEnter(ctx context.Context) error {
	if err := rp.p.Context(ctx).Keyboard.Press(input.Enter); err != nil {
		return rp.mapErr(err)
	}
	return nil
}

func (rp *rodPage) Upload(ctx context.Context, selector string, paths []string) error {
	el, err := rp.p.Context(ctx).Element(selector)
	if err != nil {
		return rp.mapErr(err)
	}
	if err := el.SetFiles(paths); err != nil {
		return rp.mapErr(err)
	}
	return nil
}

func (rp *rodPage) WaitResponse(ctx context.Context, urlSubstr string) (Response, error) {
	p := rp.p.Context(ctx)
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return Response{}, rp.mapErr(err)
	}
	var resp Response
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if !strings.Contains(e.Response.URL, urlSubstr) {
			return false
		}
		resp.URL = e.Response.URL
		resp.Status = e.Response.Status
		body, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(p)
		if err == nil {
			resp.Body = []byte(body.Body)
		}
		return true
	})
	wait()
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("Timeout waiting for %q: %w", urlSubstr, err)
	}
	if resp.Status >= 400 {
		return resp, fmt.Errorf("HTTP %d from %s", resp.Status, resp.URL)
	}
	return resp, nil
}

func (rp *rodPage) Cookies(ctx context.Context, domain string) ([]Cookie, error) {
	cs, err := rp.p.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, rp.mapErr(err)
	}
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		if domain != "" && !strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), domain) {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  int64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out, nil
}

func (rp *rodPage) OnNavigated(fn func(url string)) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.handlers = append(rp.handlers, fn)
}

func (rp *rodPage) Closed() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.closed
}

func (rp *rodPage) Close() error {
	rp.mu.Lock()
	rp.closed = true
	rp.mu.Unlock()
	return rp.p.Close()
}

// mapErr folds substrate failures into the stable page-lifecycle errors
// the failover tier classifies on.
func (rp *rodPage) mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "target closed"), strings.Contains(msg, "session closed"):
		rp.mu.Lock()
		rp.closed = true
		rp.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	case strings.Contains(msg, "crash"):
		return fmt.Errorf("%w: %v", ErrPageCrashed, err)
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("Timeout: %v", err)
	default:
		return err
	}
}
