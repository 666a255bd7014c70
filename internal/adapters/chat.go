package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"browserd/internal/browser"
	"browserd/internal/config"
)

const (
	upstreamWaitTimeout = 120 * time.Second
	uploadTimeout       = 60 * time.Second
)

// ChatAdapter drives a conversational web UI that answers with text.
type ChatAdapter struct {
	models []ModelDescriptor
}

func NewChatAdapter() *ChatAdapter {
	return &ChatAdapter{
		models: []ModelDescriptor{
			{ID: "chat-default", Upstream: "default", Modality: ModalityText, Images: ImagesOptional},
			{ID: "chat-mini", Upstream: "mini", Modality: ModalityText, Images: ImagesForbidden},
		},
	}
}

func (a *ChatAdapter) Type() string        { return "chat" }
func (a *ChatAdapter) DisplayName() string { return "Chat Web" }

func (a *ChatAdapter) TargetURL(opts config.AdapterOptions, _ config.WorkerConfig) (string, error) {
	base := opts.String("baseURL", "")
	if base == "" {
		return "", fmt.Errorf("chat: baseURL is not configured")
	}
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("chat: bad baseURL: %w", err)
	}
	return base, nil
}

func (a *ChatAdapter) NavigationHandlers() []NavigationHandler {
	return []NavigationHandler{
		{
			Name: "chat.login-refresh",
			Fn: func(ctx context.Context, nav NavContext) error {
				if !strings.Contains(nav.URL, "/login") {
					return nil
				}
				if err := nav.Auth.Lock(ctx); err != nil {
					return err
				}
				defer nav.Auth.Unlock()
				// A bounced session usually recovers on reload once the
				// refreshed cookie lands.
				return nav.Page.Reload(ctx)
			},
		},
		{
			Name: "chat.banner-dismiss",
			Fn: func(ctx context.Context, nav NavContext) error {
				if err := nav.Auth.Lock(ctx); err != nil {
					return err
				}
				defer nav.Auth.Unlock()
				return nav.Page.PressEnter(ctx)
			},
		},
	}
}

func (a *ChatAdapter) Models() []ModelDescriptor { return a.models }

func (a *ChatAdapter) Generate(ctx context.Context, sub SubContext, prompt string, imagePaths []string, modelKey string, meta Meta) (Result, error) {
	desc, ok := Resolve(a, modelKey)
	if !ok {
		return Result{}, fmt.Errorf("chat: unknown model %q", modelKey)
	}
	page := sub.Page
	if page == nil || page.Closed() {
		return Result{}, browser.ErrPageInvalid
	}
	target, err := a.TargetURL(sub.Options, config.WorkerConfig{})
	if err != nil {
		return Result{}, err
	}
	if err := freshConversation(ctx, page, target); err != nil {
		return Result{}, err
	}
	if meta.Cancelled != nil && meta.Cancelled() {
		return Result{}, context.Canceled
	}
	if len(imagePaths) > 0 {
		upCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		err := page.Upload(upCtx, `input[type="file"]`, imagePaths)
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("chat: upload: %w", err)
		}
	}
	if err := page.InsertText(ctx, prompt); err != nil {
		return Result{}, err
	}
	if err := page.PressEnter(ctx); err != nil {
		return Result{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, upstreamWaitTimeout)
	defer cancel()
	resp, err := page.WaitResponse(waitCtx, a.responseMatch(sub))
	if err != nil {
		return Result{}, err
	}
	text, err := extractChatText(resp.Body, desc.Upstream)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// responseMatch is the URL substring identifying the upstream answer.
func (a *ChatAdapter) responseMatch(sub SubContext) string {
	return sub.Options.String("responseMatch", "/api/conversation")
}

// freshConversation brings the page to a clean conversation state:
// cross-host pages navigate to the entry URL, same-host pages reload.
func freshConversation(ctx context.Context, page browser.Page, target string) error {
	cur := page.URL()
	if sameHost(cur, target) {
		return page.Reload(ctx)
	}
	return page.Navigate(ctx, target)
}

func sameHost(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}

// extractChatText pulls the assistant text out of the upstream payload.
// Upstreams answering with an error sentinel surface it verbatim so the
// failover tier can classify (captcha, HTTP codes).
func extractChatText(body []byte, upstream string) (string, error) {
	var payload struct {
		Message string `json:"message"`
		Text    string `json:"text"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Non-JSON bodies are treated as plain text answers.
		s := strings.TrimSpace(string(body))
		if s == "" {
			return "", fmt.Errorf("chat: empty response for model %s", upstream)
		}
		return s, nil
	}
	if payload.Error != "" {
		return "", fmt.Errorf("%s", payload.Error)
	}
	if payload.Message != "" {
		return payload.Message, nil
	}
	if payload.Text != "" {
		return payload.Text, nil
	}
	return "", fmt.Errorf("chat: response carried no text for model %s", upstream)
}
