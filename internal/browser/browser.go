// Package browser defines the narrow substrate the engine drives pages
// through, plus the rod-backed implementation of the external launcher.
// Adapters never touch rod types directly; they see Page only.
package browser

import (
	"context"
	"errors"
)

// Sentinel errors surfaced with stable strings so the failover tier can
// classify them without importing this package's internals.
var (
	ErrPageClosed  = errors.New("PAGE_CLOSED")
	ErrPageCrashed = errors.New("PAGE_CRASHED")
	ErrPageInvalid = errors.New("PAGE_INVALID")
)

// Cookie is a browser cookie in substrate-neutral form.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  int64
	HTTPOnly bool
	Secure   bool
}

// Response is an upstream HTTP response observed on a page.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// Page is one browser tab. All blocking operations honor ctx.
type Page interface {
	// Navigate drives the tab to url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// URL returns the current top-frame URL, or "" when unavailable.
	URL() string
	Reload(ctx context.Context) error

	// InsertText types text into the focused element.
	InsertText(ctx context.Context, text string) error
	PressEnter(ctx context.Context) error
	// Upload attaches local files to the file input matching selector.
	Upload(ctx context.Context, selector string, paths []string) error

	// WaitResponse blocks until a network response whose URL contains
	// urlSubstr arrives, then returns its status and body.
	WaitResponse(ctx context.Context, urlSubstr string) (Response, error)

	// Cookies returns the page context's cookies, optionally filtered by
	// domain suffix.
	Cookies(ctx context.Context, domain string) ([]Cookie, error)

	// OnNavigated registers fn to run on every top-frame navigation.
	// Registration order is preserved.
	OnNavigated(fn func(url string))

	Closed() bool
	Close() error
}

// Browser is one browser process. Pages share its cookies and storage.
type Browser interface {
	NewPage(ctx context.Context, url string) (Page, error)
	Close() error
}

// LaunchOptions configure one browser process.
type LaunchOptions struct {
	UserDataDir string
	// ProxyURL is scheme://host:port; empty means direct connection.
	ProxyURL  string
	ProxyUser string
	ProxyPass string
	Headless  bool
}

// Launcher starts browser processes. The production implementation wraps
// rod's launcher; tests substitute fakes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
