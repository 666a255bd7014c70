package engine

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"browserd/pkg/types"
)

// Task is one admitted generation request moving through the queue.
type Task struct {
	ID         string
	ModelKey   string
	Prompt     string
	ImagePaths []string
	Stream     bool
	EnqueuedAt time.Time

	// ready receives the reserved worker when the dispatcher places the
	// task. Buffered so the dispatcher never blocks on a gone client.
	ready chan *Worker

	// done is closed by the owning request goroutine on exit, letting the
	// dispatcher drop cancelled tasks without placing them.
	done chan struct{}
}

func (t *Task) HasImages() bool { return len(t.ImagePaths) > 0 }

// Cancelled reports whether the owning request already gave up.
func (t *Task) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// BuildTask validates the request body and materializes it as a task:
// the prompt is assembled from the message transcript and inline image
// parts are decoded to files under tmpDir. imageLimit bounds the
// attachment count before any decoding happens.
func BuildTask(req types.ChatCompletionRequest, imageLimit int, tmpDir string) (*Task, error) {
	if len(req.Messages) == 0 {
		return nil, NewError(CodeNoMessages, "messages must not be empty")
	}
	hasUser := false
	for _, m := range req.Messages {
		if m.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, NewError(CodeNoUserMessages, "at least one user message is required")
	}

	var imageURLs []string
	for _, m := range req.Messages {
		imageURLs = append(imageURLs, m.Content.ImageParts()...)
	}
	if imageLimit >= 0 && len(imageURLs) > imageLimit {
		return nil, NewError(CodeTooManyImages, fmt.Sprintf("request carries %d images, limit is %d", len(imageURLs), imageLimit))
	}

	t := &Task{
		ID:         uuid.NewString(),
		ModelKey:   req.Model,
		Prompt:     assemblePrompt(req.Messages),
		Stream:     req.Stream,
		EnqueuedAt: time.Now(),
		ready:      make(chan *Worker, 1),
		done:       make(chan struct{}),
	}
	if len(imageURLs) > 0 {
		paths, err := decodeImages(imageURLs, tmpDir, t.ID)
		if err != nil {
			return nil, err
		}
		t.ImagePaths = paths
	}
	return t, nil
}

// Finish marks the task abandoned or complete and removes its decoded
// image files. Safe to call more than once.
func (t *Task) Finish() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	for _, p := range t.ImagePaths {
		_ = os.Remove(p)
	}
}

// assemblePrompt folds the message transcript into the single text the
// web UI receives. A lone user message passes through untouched; a
// longer transcript is rendered as role-prefixed lines so the upstream
// sees the conversation context.
func assemblePrompt(msgs []types.Message) string {
	var userTexts []string
	total := 0
	for _, m := range msgs {
		if txt := strings.TrimSpace(strings.Join(m.Content.TextParts(), "\n")); txt != "" {
			total++
			if m.Role == "user" {
				userTexts = append(userTexts, txt)
			}
		}
	}
	if total == len(userTexts) && len(userTexts) == 1 {
		return userTexts[0]
	}
	var b strings.Builder
	for _, m := range msgs {
		txt := strings.TrimSpace(strings.Join(m.Content.TextParts(), "\n"))
		if txt == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(txt)
	}
	return b.String()
}

// decodeImages writes each data-URI attachment to a file the browser
// upload input can consume. Non-data URLs are rejected; the page cannot
// fetch remote media on the client's behalf.
func decodeImages(urls []string, tmpDir, taskID string) ([]string, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, WrapError(CodeInternalError, "image temp dir", err)
	}
	paths := make([]string, 0, len(urls))
	for i, u := range urls {
		mime, data, err := parseDataURI(u)
		if err != nil {
			for _, p := range paths {
				_ = os.Remove(p)
			}
			return nil, WrapError(CodeImageForbidden, fmt.Sprintf("image %d: %v", i, err), err)
		}
		name := fmt.Sprintf("%s_%d%s", taskID, i, extFor(mime))
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			for _, p := range paths {
				_ = os.Remove(p)
			}
			return nil, WrapError(CodeInternalError, "writing image attachment", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func parseDataURI(u string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, fmt.Errorf("only data: image URLs are accepted")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mime, _, _ = strings.Cut(meta, ";")
	if !strings.Contains(meta, ";base64") {
		return "", nil, fmt.Errorf("data URI must be base64-encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return mime, data, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
