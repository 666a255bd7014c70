package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"browserd/internal/adapters"
	"browserd/internal/browser"
	"browserd/internal/config"
)

// entryNavTimeout bounds each candidate entry URL during worker init.
const entryNavTimeout = 30 * time.Second

// navHandlerTimeout bounds a single navigation handler invocation.
const navHandlerTimeout = 45 * time.Second

// GenerateResult is the outcome of a completed generation: the assistant
// text plus any produced image data URIs.
type GenerateResult struct {
	Text   string
	Images []string
}

// Worker is one browser tab bound to an adapter type (single) or an
// ordered set of types (merge). It serializes task execution through a
// busy flag and owns the page-auth mutex shared between the in-flight
// task and the navigation handlers.
type Worker struct {
	cfg        config.WorkerConfig
	reg        *Registry
	inst       *Instance
	failoverOn bool
	maxRetries int
	log        zerolog.Logger

	busy int32

	mu          sync.Mutex
	page        browser.Page
	initialized bool
	auth        PageAuth
}

// NewWorker binds a worker to its instance. Init is deferred so startup
// can sequence browser launches.
func NewWorker(cfg config.WorkerConfig, reg *Registry, inst *Instance, fo config.FailoverConfig, log zerolog.Logger) *Worker {
	w := &Worker{
		cfg:        cfg,
		reg:        reg,
		inst:       inst,
		failoverOn: fo.On(),
		maxRetries: fo.Retries(),
		log:        log.With().Str("module", "worker").Str("worker", cfg.Name).Logger(),
	}
	inst.addWorker(w)
	return w
}

func (w *Worker) Name() string              { return w.cfg.Name }
func (w *Worker) Instance() *Instance       { return w.inst }
func (w *Worker) Types() []string           { return w.cfg.Types() }
func (w *Worker) IsMerge() bool             { return w.cfg.IsMerge() }
func (w *Worker) Config() config.WorkerConfig { return w.cfg }

// TryReserve flips the worker busy. Returns false if already reserved.
func (w *Worker) TryReserve() bool {
	return atomic.CompareAndSwapInt32(&w.busy, 0, 1)
}

// Release clears the busy flag.
func (w *Worker) Release() {
	atomic.StoreInt32(&w.busy, 0)
}

// Busy reports whether a task currently holds the worker.
func (w *Worker) Busy() bool {
	return atomic.LoadInt32(&w.busy) == 1
}

// AuthHeld reports whether a navigation handler currently holds the
// page-auth mutex, for status introspection.
func (w *Worker) AuthHeld() bool { return w.auth.Held() }

// Initialized reports whether Init has completed successfully.
func (w *Worker) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Supports reports whether any member adapter of this worker can serve
// key. A qualified key binds to its named member only.
func (w *Worker) Supports(key string) bool {
	for _, t := range w.cfg.Types() {
		if w.reg.SupportsModel(t, key) {
			return true
		}
	}
	return false
}

// ImagePolicy folds the policies of all members supporting key:
// optional wins over required wins over forbidden, so a worker that can
// take images opportunistically reports that ability.
func (w *Worker) ImagePolicy(key string) adapters.ImagePolicy {
	best := adapters.ImagesForbidden
	for _, t := range w.cfg.Types() {
		if !w.reg.SupportsModel(t, key) {
			continue
		}
		switch w.reg.ImagePolicy(t, key) {
		case adapters.ImagesOptional:
			return adapters.ImagesOptional
		case adapters.ImagesRequired:
			best = adapters.ImagesRequired
		}
	}
	return best
}

// ModelType returns the modality of key as seen by the first supporting
// member.
func (w *Worker) ModelType(key string) (adapters.Modality, bool) {
	for _, t := range w.cfg.Types() {
		if m, ok := w.reg.ModelType(t, key); ok {
			return m, true
		}
	}
	return "", false
}

// supportingTypes returns the member types able to serve key, in
// configuration order. These are the merge-member failover candidates.
func (w *Worker) supportingTypes(key string) []string {
	var out []string
	for _, t := range w.cfg.Types() {
		if w.reg.SupportsModel(t, key) {
			out = append(out, t)
		}
	}
	return out
}

// Init creates the worker's tab and installs the navigation-handler
// chain. It walks the member entry URLs in order until one loads within
// its budget. Idempotent: a second call on an initialized worker is a
// no-op. In login mode the handler chain is skipped so a human can
// drive the page.
func (w *Worker) Init(ctx context.Context, loginMode bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized && w.page != nil && !w.page.Closed() {
		return nil
	}
	page, entry, err := w.openEntryPage(ctx)
	if err != nil {
		return err
	}
	w.page = page
	if !loginMode {
		w.installHandlers(page)
	}
	w.initialized = true
	w.log.Info().Str("url", entry).Bool("login_mode", loginMode).Msg("worker initialized")
	return nil
}

// openEntryPage tries each member type's target URL in order, giving
// each a bounded navigation budget. The first page that loads wins;
// later members are reached by in-task navigation, not separate tabs.
func (w *Worker) openEntryPage(ctx context.Context) (browser.Page, string, error) {
	var lastErr error
	for _, t := range w.cfg.Types() {
		url, err := w.reg.TargetURL(t, w.cfg)
		if err != nil {
			lastErr = err
			continue
		}
		navCtx, cancel := context.WithTimeout(ctx, entryNavTimeout)
		page, err := w.inst.NewPage(navCtx, url)
		cancel()
		if err == nil {
			return page, url, nil
		}
		lastErr = err
		w.log.Warn().Str("type", t).Str("url", url).Err(err).Msg("entry navigation failed, trying next member")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("worker %s: no member produced an entry URL", w.cfg.Name)
	}
	return nil, "", fmt.Errorf("worker %s: init: %w", w.cfg.Name, lastErr)
}

// installHandlers merges the handler chains of all member adapters in
// member order and registers a single navigation callback running them
// sequentially. Handlers execute on a background context so a finished
// request cannot cancel a login refresh in flight.
func (w *Worker) installHandlers(page browser.Page) {
	var chain []adapters.NavigationHandler
	for _, t := range w.cfg.Types() {
		chain = append(chain, w.reg.NavigationHandlers(t)...)
	}
	if len(chain) == 0 {
		return
	}
	page.OnNavigated(func(url string) {
		for _, h := range chain {
			hctx, cancel := context.WithTimeout(context.Background(), navHandlerTimeout)
			err := h.Fn(hctx, adapters.NavContext{Page: page, Auth: &w.auth, URL: url})
			cancel()
			if err != nil {
				w.log.Warn().Str("handler", h.Name).Str("url", url).Err(err).Msg("navigation handler failed")
			}
		}
	})
}

// Page returns the worker's tab, recreating it when the old one died.
// Callers must hold the busy reservation.
func (w *Worker) Page(ctx context.Context) (browser.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return nil, NewError(CodeInternalError, fmt.Sprintf("worker %s not initialized", w.cfg.Name))
	}
	if w.page != nil && !w.page.Closed() {
		return w.page, nil
	}
	w.log.Warn().Msg("page lost, reopening")
	page, _, err := w.openEntryPage(ctx)
	if err != nil {
		return nil, err
	}
	w.page = page
	w.installHandlers(page)
	return page, nil
}

// Generate runs one task on this worker. For merge workers with
// failover enabled the supporting members form the candidate list and
// the retry policy applies; otherwise the first supporting member is
// invoked directly.
func (w *Worker) Generate(ctx context.Context, prompt string, imagePaths []string, modelKey string, meta adapters.Meta) (GenerateResult, error) {
	types := w.supportingTypes(modelKey)
	if len(types) == 0 {
		return GenerateResult{}, NewError(CodeInvalidModel, fmt.Sprintf("model %q not served by worker %s", modelKey, w.cfg.Name))
	}
	if w.cfg.IsMerge() && w.failoverOn && len(types) > 1 {
		candidates := make([]Candidate, 0, len(types))
		for _, t := range types {
			candidates = append(candidates, Candidate{Type: t, ModelKey: modelKey})
		}
		return Failover(ctx, candidates, w.maxRetries,
			func(ctx context.Context, c Candidate) (GenerateResult, error) {
				return w.invoke(ctx, c.Type, prompt, imagePaths, modelKey, meta)
			},
			func(c Candidate, err error, attempt int) {
				w.log.Warn().Str("member", c.label()).Int("attempt", attempt).Err(err).Msg("member attempt failed, trying next")
			})
	}
	return w.invoke(ctx, types[0], prompt, imagePaths, modelKey, meta)
}

// invoke dispatches one attempt to member adapter t.
func (w *Worker) invoke(ctx context.Context, t string, prompt string, imagePaths []string, modelKey string, meta adapters.Meta) (GenerateResult, error) {
	a, ok := w.reg.Adapter(t)
	if !ok {
		return GenerateResult{}, NewError(CodeInternalError, fmt.Sprintf("adapter %q vanished", t))
	}
	page, err := w.Page(ctx)
	if err != nil {
		return GenerateResult{}, err
	}
	sub := adapters.SubContext{
		Page:        page,
		Options:     w.reg.Options(t),
		Proxy:       w.inst.Proxy(),
		UserDataDir: w.inst.UserDataDir(),
	}
	res, err := a.Generate(ctx, sub, prompt, imagePaths, modelKey, meta)
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{Text: res.Text, Images: res.Images}, nil
}

// NavigateToMonitor parks an idle merge worker on its monitor member's
// page. Skipped when the worker is busy, not a merge, has no monitor,
// or is already on the monitor's host.
func (w *Worker) NavigateToMonitor(ctx context.Context) error {
	if !w.cfg.IsMerge() || w.cfg.MergeMonitor == "" {
		return nil
	}
	if !w.TryReserve() {
		return nil
	}
	defer w.Release()
	url, err := w.reg.TargetURL(w.cfg.MergeMonitor, w.cfg)
	if err != nil {
		return err
	}
	page, err := w.Page(ctx)
	if err != nil {
		return err
	}
	if cur := page.URL(); cur != "" && sameHostPrefix(cur, url) {
		return nil
	}
	navCtx, cancel := context.WithTimeout(ctx, entryNavTimeout)
	defer cancel()
	return page.Navigate(navCtx, url)
}

func sameHostPrefix(cur, target string) bool {
	trim := func(u string) string {
		u = strings.TrimPrefix(u, "https://")
		u = strings.TrimPrefix(u, "http://")
		host, _, _ := strings.Cut(u, "/")
		return host
	}
	return trim(cur) != "" && trim(cur) == trim(target)
}

// Cookies reads the worker page's cookies for domain.
func (w *Worker) Cookies(ctx context.Context, domain string) ([]browser.Cookie, error) {
	page, err := w.Page(ctx)
	if err != nil {
		return nil, err
	}
	return page.Cookies(ctx, domain)
}
