package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"browserd/internal/adapters"
	"browserd/internal/browser"
	"browserd/internal/config"
	"browserd/pkg/types"
)

// monitorParkInterval is how often idle merge workers are steered back
// to their monitor page.
const monitorParkInterval = 60 * time.Second

// Engine is the routing and execution core behind the HTTP surface. It
// owns the registry, the instances and their workers, the pool and the
// admission queue.
type Engine struct {
	cfg       *config.Config
	reg       *Registry
	pool      *Pool
	queue     *Queue
	instances []*Instance
	metrics   *Metrics
	log       zerolog.Logger

	startedAt time.Time
	stopPark  chan struct{}
}

// New assembles the engine from validated configuration. Browser
// processes are not launched here; Start does that so callers control
// startup ordering.
func New(cfg *config.Config, launcher browser.Launcher, promReg prometheus.Registerer, log zerolog.Logger) (*Engine, error) {
	reg, err := NewRegistry(adapters.Builtin(), cfg.Backend.Adapter)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		reg:      reg,
		log:      log.With().Str("module", "engine").Logger(),
		stopPark: make(chan struct{}),
	}
	var workers []*Worker
	for _, ic := range cfg.Backend.Pool.Instances {
		inst := NewInstance(ic, cfg, launcher, log)
		e.instances = append(e.instances, inst)
		for _, wc := range ic.Workers {
			workers = append(workers, NewWorker(wc, reg, inst, cfg.Backend.Pool.Failover, log))
		}
	}
	e.pool = NewPool(cfg.Backend.Pool.Strategy, workers, time.Now().UnixNano(), log)
	e.queue = NewQueue(e.pool, cfg.QueueBufferOrDefault(), log)
	if promReg != nil {
		e.metrics = NewMetrics(promReg, e.queue, e.pool)
	}
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.reg }
func (e *Engine) Pool() *Pool         { return e.pool }

// Start launches every instance's browser and initializes its workers
// in configuration order. One worker failing aborts startup; a gateway
// with a dead tab lies about its capacity. In login mode navigation
// handlers stay uninstalled so a human can complete interactive logins.
func (e *Engine) Start(ctx context.Context, loginMode bool) error {
	e.startedAt = time.Now()
	for _, inst := range e.instances {
		if _, err := inst.EnsureBrowser(ctx); err != nil {
			return err
		}
		for _, w := range inst.Workers() {
			if err := w.Init(ctx, loginMode); err != nil {
				return err
			}
		}
	}
	if !loginMode {
		go e.parkLoop()
	}
	e.log.Info().Int("instances", len(e.instances)).Int("workers", e.pool.Size()).Str("strategy", e.pool.Strategy()).Msg("engine started")
	return nil
}

// parkLoop periodically steers idle merge workers onto their monitor
// member so session cookies stay warm between tasks.
func (e *Engine) parkLoop() {
	t := time.NewTicker(monitorParkInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopPark:
			return
		case <-t.C:
			for _, w := range e.pool.Workers() {
				ctx, cancel := context.WithTimeout(context.Background(), entryNavTimeout)
				if err := w.NavigateToMonitor(ctx); err != nil {
					e.log.Warn().Str("worker", w.Name()).Err(err).Msg("monitor parking failed")
				}
				cancel()
			}
		}
	}
}

// Execute runs one chat-completion request end to end: validation,
// admission, queue wait, dispatch and pool-level failover. It returns
// only when the generation finished or failed; streaming transport
// framing is the HTTP layer's concern.
func (e *Engine) Execute(ctx context.Context, req types.ChatCompletionRequest) (GenerateResult, error) {
	task, err := BuildTask(req, e.cfg.ImageLimitOrDefault(), e.cfg.TempDir())
	if err != nil {
		return GenerateResult{}, err
	}
	defer task.Finish()

	if err := e.checkModel(task); err != nil {
		return GenerateResult{}, err
	}
	if err := e.queue.Submit(task); err != nil {
		return GenerateResult{}, err
	}
	first, err := e.queue.Await(ctx, task)
	if err != nil {
		return GenerateResult{}, err
	}
	e.metrics.observeQueueWait(task.EnqueuedAt)

	start := time.Now()
	res, err := e.runPlaced(ctx, task, first)
	err = Classify(err)
	e.queue.TaskDone()
	e.metrics.observeTask(errOrNil(err), start)
	return res, err
}

func errOrNil(err error) Code {
	if err == nil {
		return ""
	}
	return CodeOf(err)
}

// checkModel validates the model key and the request's image shape
// against the pool before admission: a request no worker could ever
// serve must not consume a queue slot.
func (e *Engine) checkModel(t *Task) error {
	if t.ModelKey == "" || !e.pool.SupportsModel(t.ModelKey) {
		return NewError(CodeInvalidModel, fmt.Sprintf("model %q is not served by any worker", t.ModelKey))
	}
	if len(e.pool.Candidates(t.ModelKey, t.HasImages())) == 0 {
		if t.HasImages() {
			return NewError(CodeImageForbidden, fmt.Sprintf("model %q does not accept images", t.ModelKey))
		}
		return NewError(CodeImageRequired, fmt.Sprintf("model %q requires at least one image", t.ModelKey))
	}
	return nil
}

var errCandidateBusy = errors.New("candidate worker busy")

// runPlaced executes the task starting on the worker the dispatcher
// reserved. With pool failover on, the remaining eligible workers form
// the candidate tail; each is reserved on the fly and a busy one is
// skipped without consuming retry budget.
func (e *Engine) runPlaced(ctx context.Context, t *Task, first *Worker) (GenerateResult, error) {
	meta := adapters.Meta{TaskID: t.ID, Stream: t.Stream, Cancelled: t.Cancelled}

	fo := e.cfg.Backend.Pool.Failover
	if !fo.On() {
		defer func() { first.Release(); e.queue.Kick() }()
		return first.Generate(ctx, t.Prompt, t.ImagePaths, t.ModelKey, meta)
	}

	ordered := []Candidate{{Worker: first, ModelKey: t.ModelKey}}
	for _, c := range e.pool.Candidates(t.ModelKey, t.HasImages()) {
		if c.Worker != first {
			ordered = append(ordered, c)
		}
	}
	firstUsed := false
	attempt := func(ctx context.Context, c Candidate) (GenerateResult, error) {
		w := c.Worker
		if w == first && !firstUsed {
			firstUsed = true
		} else if !w.TryReserve() {
			return GenerateResult{}, errCandidateBusy
		}
		defer func() { w.Release(); e.queue.Kick() }()
		return w.Generate(ctx, t.Prompt, t.ImagePaths, t.ModelKey, meta)
	}
	onRetry := func(c Candidate, err error, attempt int) {
		if errors.Is(err, errCandidateBusy) {
			return
		}
		e.log.Warn().Str("task", t.ID).Str("candidate", c.label()).Int("attempt", attempt).Err(err).Msg("worker attempt failed, failing over")
	}
	res, err := Failover(ctx, ordered, fo.Retries(), attempt, onRetry)
	if !firstUsed {
		// No attempt ever consumed the dispatcher's reservation.
		first.Release()
		e.queue.Kick()
	}
	return res, err
}

// ListModels flattens every adapter's descriptors into the public model
// list, qualified ids included so clients can pin an adapter.
func (e *Engine) ListModels() types.ModelsResponse {
	created := e.startedAt.Unix()
	if created == 0 {
		created = time.Now().Unix()
	}
	var out []types.ModelEntry
	seen := map[string]bool{}
	for _, t := range e.reg.Types() {
		for _, d := range e.reg.ListModels(t) {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, types.ModelEntry{ID: d.ID, Object: "model", Created: created, OwnedBy: "internal_server"})
			}
			qualified := t + "/" + d.ID
			if !seen[qualified] {
				seen[qualified] = true
				out = append(out, types.ModelEntry{ID: qualified, Object: "model", Created: created, OwnedBy: t})
			}
		}
	}
	return types.ModelsResponse{Object: "list", Data: out}
}

// Cookies reads the named worker's cookies for domain. An empty worker
// name targets the first worker.
func (e *Engine) Cookies(ctx context.Context, workerName, domain string) (types.CookiesResponse, error) {
	var target *Worker
	for _, w := range e.pool.Workers() {
		if workerName == "" || w.Name() == workerName {
			target = w
			break
		}
	}
	if target == nil {
		return types.CookiesResponse{}, NewError(CodeInternalError, fmt.Sprintf("no such worker %q", workerName))
	}
	raw, err := target.Cookies(ctx, domain)
	if err != nil {
		return types.CookiesResponse{}, err
	}
	resp := types.CookiesResponse{Worker: target.Name(), Cookies: make([]types.Cookie, 0, len(raw))}
	for _, c := range raw {
		resp.Cookies = append(resp.Cookies, types.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, HTTPOnly: c.HTTPOnly, Secure: c.Secure,
		})
	}
	return resp, nil
}

// Status snapshots the engine for the admin surface.
func (e *Engine) Status() types.StatusResponse {
	pending, inflight := e.queue.Depth()
	resp := types.StatusResponse{
		State:          "running",
		QueueLen:       pending,
		Inflight:       inflight,
		UptimeSeconds:  int64(time.Since(e.startedAt).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, w := range e.pool.Workers() {
		kind := "single"
		if w.IsMerge() {
			kind = "merge"
		}
		busy := 0
		if w.Busy() {
			busy = 1
		}
		resp.Workers = append(resp.Workers, types.WorkerStatus{
			Name:        w.Name(),
			Kind:        kind,
			Instance:    w.Instance().Name(),
			Types:       w.Types(),
			Busy:        busy,
			Initialized: w.Initialized(),
		})
	}
	return resp
}

// Shutdown stops admission, waits up to grace for inflight work to
// drain, then closes every browser.
func (e *Engine) Shutdown(grace time.Duration) error {
	close(e.stopPark)
	e.queue.Close()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		pending, inflight := e.queue.Depth()
		if pending == 0 && inflight == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	var firstErr error
	for _, inst := range e.instances {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.log.Info().Msg("engine stopped")
	return firstErr
}
