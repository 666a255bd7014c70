package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"browserd/internal/engine"
	"browserd/internal/logbuf"
	"browserd/pkg/types"
)

// Service is what the HTTP layer needs from the engine.
type Service interface {
	Execute(ctx context.Context, req types.ChatCompletionRequest) (engine.GenerateResult, error)
	ListModels() types.ModelsResponse
	Cookies(ctx context.Context, worker, domain string) (types.CookiesResponse, error)
	Status() types.StatusResponse
}

// Options carries the HTTP-surface configuration.
type Options struct {
	// AuthToken guards /v1 and /admin when non-empty.
	AuthToken string
	// KeepaliveMode selects the streaming heartbeat frame shape.
	KeepaliveMode string
	// Logs backs GET /admin/logs when set.
	Logs *logbuf.Buffer
}

// NewMux builds the router: OpenAI surface under /v1, operator surface
// under /admin, plus liveness and metrics.
func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Log-Level"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready := true
		for _, ws := range svc.Status().Workers {
			if !ws.Initialized {
				ready = false
				break
			}
		}
		if ready {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	auth := authMiddleware(opts.AuthToken)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Post("/chat/completions", chatCompletions(svc, opts.KeepaliveMode))
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.ListModels())
		})
		r.Get("/cookies", func(w http.ResponseWriter, r *http.Request) {
			resp, err := svc.Cookies(r.Context(), r.URL.Query().Get("worker"), r.URL.Query().Get("domain"))
			if err != nil {
				writeOpenAIError(w, err)
				return
			}
			writeJSON(w, resp)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Status())
		})
		r.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
			if opts.Logs == nil {
				writeJSONError(w, http.StatusNotFound, "log buffer disabled")
				return
			}
			n := 0
			v := r.URL.Query().Get("lines")
			if v == "" {
				v = r.URL.Query().Get("n")
			}
			if v != "" {
				n, _ = strconv.Atoi(v)
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			for _, line := range opts.Logs.Tail(n) {
				w.Write([]byte(line))
				w.Write([]byte("\n"))
			}
		})
		r.Delete("/logs", func(w http.ResponseWriter, r *http.Request) {
			if opts.Logs == nil {
				writeJSONError(w, http.StatusNotFound, "log buffer disabled")
				return
			}
			opts.Logs.Reset()
			w.WriteHeader(http.StatusNoContent)
		})
	})

	MountSwagger(r)
	return r
}

// authMiddleware enforces the bearer token. No token configured means
// the check is disabled, which validation refuses outside of tests.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSONErrorTyped(w, http.StatusUnauthorized, "invalid or missing API key", "UNAUTHORIZED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONErrorTyped(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorBody{Error: types.ErrorDetail{
		Message: msg,
		Type:    "invalid_request",
		Code:    code,
	}})
}

// chatCompletions is the main endpoint. Non-streaming requests block
// until the engine finishes; streaming requests open the SSE channel
// first so keepalive frames cover queue wait and generation alike.
func chatCompletions(svc Service, keepaliveMode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo {
			logEvent(r).Str("model", req.Model).Bool("stream", req.Stream).Msg("chat start")
		}

		if !req.Stream {
			res, err := svc.Execute(ctx, req)
			if err != nil {
				if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
					return
				}
				if he, ok := err.(HTTPError); ok && he.StatusCode() == http.StatusTooManyRequests {
					IncrementBackpressure("queue_full")
				}
				writeOpenAIError(w, err)
				if lvl >= LevelInfo {
					logEvent(r).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
				}
				return
			}
			writeJSON(w, completionResponse(req.Model, res))
			if lvl >= LevelInfo {
				logEvent(r).Dur("dur", time.Since(start)).Msg("chat end")
			}
			return
		}

		stream := newSSEStream(w, req.Model, keepaliveMode)
		res, err := svc.Execute(ctx, req)
		if err != nil {
			if r.Context().Err() != nil {
				stream.Close()
				return
			}
			stream.WriteError(err)
			if lvl >= LevelInfo {
				logEvent(r).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
			}
			return
		}
		stream.WriteResult(renderContent(res))
		if lvl >= LevelInfo {
			logEvent(r).Dur("dur", time.Since(start)).Msg("chat end")
		}
	}
}

// completionID mints a synthetic completion id from the current wall
// clock in milliseconds.
func completionID() string {
	return "chatcmpl-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// completionResponse shapes a finished generation as the non-streaming
// body.
func completionResponse(model string, res engine.GenerateResult) types.ChatCompletionResponse {
	stop := "stop"
	return types.ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      &types.ResponseMessage{Role: "assistant", Content: renderContent(res)},
			FinishReason: &stop,
		}},
	}
}

// renderContent folds produced images into the assistant text as
// markdown so clients without tool support still see them.
func renderContent(res engine.GenerateResult) string {
	if len(res.Images) == 0 {
		return res.Text
	}
	var b strings.Builder
	b.WriteString(res.Text)
	for _, img := range res.Images {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("![generated](")
		b.WriteString(img)
		b.WriteString(")")
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
