// Package adapters defines the narrow contract every web-UI driver
// satisfies, plus the built-in drivers. Adapters own their upstream
// protocol (entry URL, response matching, payload parsing) but drive the
// page only through the browser substrate interfaces.
package adapters

import (
	"context"

	"browserd/internal/browser"
	"browserd/internal/config"
)

// Modality classifies what a model produces.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ImagePolicy declares whether a model accepts attached images.
type ImagePolicy string

const (
	ImagesForbidden ImagePolicy = "forbidden"
	ImagesOptional  ImagePolicy = "optional"
	ImagesRequired  ImagePolicy = "required"
)

// ModelDescriptor binds a public model id to an adapter's upstream
// identifier. Descriptors are registered at startup and immutable.
type ModelDescriptor struct {
	// ID is the stable public name.
	ID string
	// Upstream is the opaque identifier passed to the web UI.
	Upstream string
	Modality Modality
	Images   ImagePolicy
}

// SubContext carries everything an adapter may read while generating.
// It is read-only from the adapter's standpoint.
type SubContext struct {
	Page        browser.Page
	Options     config.AdapterOptions
	Proxy       *config.ProxyConfig
	UserDataDir string
}

// Meta carries per-task request context into the adapter.
type Meta struct {
	TaskID string
	Stream bool
	// Cancelled reports whether the client went away. Adapters consult it
	// between suspension points; they are not required to short-circuit
	// mid-upload.
	Cancelled func() bool
}

// Result is what a generation produced. Text and Images may both be set;
// some upstreams return media data URIs concatenated into Text.
type Result struct {
	Text   string
	Images []string
}

// AuthLock is the page-auth cooperative mutex a navigation handler must
// hold before performing any input that could race the in-flight task.
type AuthLock interface {
	Lock(ctx context.Context) error
	Unlock()
}

// NavContext is handed to navigation handlers on every page navigation.
type NavContext struct {
	Page browser.Page
	Auth AuthLock
	URL  string
}

// NavigationHandler reacts to page navigations (login expiry, cookie
// refresh, banner dismissal). Handlers of all merge members are composed
// into one ordered chain at worker init.
type NavigationHandler struct {
	Name string
	Fn   func(ctx context.Context, nav NavContext) error
}

// Adapter is the protocol every web-UI driver implements. Adapters are a
// fixed set of values keyed by type tag; new ones require a source change.
type Adapter interface {
	// Type is the stable tag configuration refers to.
	Type() string
	DisplayName() string

	// TargetURL computes the entry URL from the adapter's global option
	// block and the worker's configuration.
	TargetURL(opts config.AdapterOptions, worker config.WorkerConfig) (string, error)

	// NavigationHandlers returns the ordered handler chain to install on
	// every navigation of a page bound to this adapter.
	NavigationHandlers() []NavigationHandler

	// Models lists the descriptors this adapter registers.
	Models() []ModelDescriptor

	// Generate drives the page through one request/response cycle:
	// navigate to a clean conversation state, upload images, type the
	// prompt, submit, await the upstream response, extract the payload.
	Generate(ctx context.Context, sub SubContext, prompt string, imagePaths []string, modelKey string, meta Meta) (Result, error)
}

// Resolve finds the descriptor for id among the adapter's models.
func Resolve(a Adapter, id string) (ModelDescriptor, bool) {
	for _, d := range a.Models() {
		if d.ID == id {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// Builtin returns the fixed adapter set, in registration order.
func Builtin() []Adapter {
	return []Adapter{
		NewChatAdapter(),
		NewDrawAdapter(),
		NewMonitorAdapter(),
	}
}
