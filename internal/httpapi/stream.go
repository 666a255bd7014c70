package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"browserd/pkg/types"
)

// keepaliveInterval is the heartbeat period while a streaming request
// waits on the queue or the upstream. Well inside common proxy idle
// timeouts.
const keepaliveInterval = 12 * time.Second

// Keepalive frame modes.
const (
	KeepaliveComment = "comment"
	KeepaliveContent = "content"
)

// sseStream frames one chat completion as server-sent events. The
// heartbeat goroutine and the result writer share the ended guard so no
// frame can trail the terminal [DONE].
type sseStream struct {
	w     http.ResponseWriter
	flush func()
	mode  string
	id    string
	model string

	mu    sync.Mutex
	ended bool
	stop  chan struct{}
}

// newSSEStream writes the SSE response headers and starts the heartbeat.
func newSSEStream(w http.ResponseWriter, model, mode string) *sseStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseStream{
		w:     w,
		mode:  mode,
		id:    completionID(),
		model: model,
		stop:  make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	s.writeFrame(nil) // flush headers immediately
	go s.heartbeat()
	return s
}

func (s *sseStream) heartbeat() {
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.Lock()
			if s.ended {
				s.mu.Unlock()
				return
			}
			if s.mode == KeepaliveContent {
				s.emitChunkLocked(types.Delta{}, nil)
			} else {
				fmt.Fprint(s.w, ": keepalive\n\n")
				if s.flush != nil {
					s.flush()
				}
			}
			s.mu.Unlock()
		}
	}
}

// WriteResult emits the full completion as a delta sequence and closes
// the stream: one content frame, one terminal frame, [DONE].
func (s *sseStream) WriteResult(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.emitChunkLocked(types.Delta{Role: "assistant", Content: content}, nil)
	stop := "stop"
	s.emitChunkLocked(types.Delta{}, &stop)
	s.endLocked()
}

// WriteError emits the error envelope as a data frame and closes the
// stream. The HTTP status is already 200 at this point; the envelope is
// the only error channel left.
func (s *sseStream) WriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	b, _ := json.Marshal(errorBody(err))
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.endLocked()
}

// Close ends the stream without a terminal frame, for client
// disconnects.
func (s *sseStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.stop)
}

func (s *sseStream) endLocked() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flush != nil {
		s.flush()
	}
	s.ended = true
	close(s.stop)
}

func (s *sseStream) emitChunkLocked(d types.Delta, finish *string) {
	chunk := types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []types.Choice{{Index: 0, Delta: &d, FinishReason: finish}},
	}
	b, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	if s.flush != nil {
		s.flush()
	}
}

// writeFrame with nil payload just flushes, pushing headers to the
// client before the first real frame.
func (s *sseStream) writeFrame(_ []byte) {
	if s.flush != nil {
		s.flush()
	}
}
