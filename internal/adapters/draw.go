package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"browserd/internal/browser"
	"browserd/internal/config"
)

// DrawAdapter drives an image generation web UI.
type DrawAdapter struct {
	models []ModelDescriptor
}

func NewDrawAdapter() *DrawAdapter {
	return &DrawAdapter{
		models: []ModelDescriptor{
			{ID: "draw-std", Upstream: "standard", Modality: ModalityImage, Images: ImagesForbidden},
			{ID: "draw-remix", Upstream: "remix", Modality: ModalityImage, Images: ImagesRequired},
		},
	}
}

func (a *DrawAdapter) Type() string        { return "draw" }
func (a *DrawAdapter) DisplayName() string { return "Draw Web" }

func (a *DrawAdapter) TargetURL(opts config.AdapterOptions, _ config.WorkerConfig) (string, error) {
	base := opts.String("baseURL", "")
	if base == "" {
		return "", fmt.Errorf("draw: baseURL is not configured")
	}
	return base, nil
}

func (a *DrawAdapter) NavigationHandlers() []NavigationHandler {
	return []NavigationHandler{
		{
			Name: "draw.cookie-refresh",
			Fn: func(ctx context.Context, nav NavContext) error {
				if !strings.Contains(nav.URL, "/auth") {
					return nil
				}
				if err := nav.Auth.Lock(ctx); err != nil {
					return err
				}
				defer nav.Auth.Unlock()
				return nav.Page.Reload(ctx)
			},
		},
	}
}

func (a *DrawAdapter) Models() []ModelDescriptor { return a.models }

func (a *DrawAdapter) Generate(ctx context.Context, sub SubContext, prompt string, imagePaths []string, modelKey string, meta Meta) (Result, error) {
	desc, ok := Resolve(a, modelKey)
	if !ok {
		return Result{}, fmt.Errorf("draw: unknown model %q", modelKey)
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
	if desc.Images == ImagesRequired && len(imagePaths) == 0 {
		return Result{}, fmt.Errorf("draw: model %s requires a source image", desc.ID)
	}
	if meta.Cancelled != nil && meta.Cancelled() {
		return Result{}, context.Canceled
	}
	if len(imagePaths) > 0 {
		upCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		err := page.Upload(upCtx, `input[type="file"]`, imagePaths)
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("draw: upload: %w", err)
		}
	}
	if err := page.InsertText(ctx, prompt); err != nil {
		return Result{}, err
	}
	if err := page.PressEnter(ctx); err != nil {
		return Result{}, err
	}

	// Image generation is slow; the full upstream budget applies.
	waitCtx, cancel := context.WithTimeout(ctx, upstreamWaitTimeout)
	defer cancel()
	resp, err := page.WaitResponse(waitCtx, sub.Options.String("responseMatch", "/api/generate"))
	if err != nil {
		return Result{}, err
	}
	return extractDrawResult(resp.Body)
}

// extractDrawResult decodes the generation payload. Images arrive as
// base64 bodies; video outputs come back as ready data URIs and are
// concatenated into Text for compatibility with clients that only read
// message content.
func extractDrawResult(body []byte) (Result, error) {
	var payload struct {
		Images []struct {
			Mime string `json:"mime"`
			B64  string `json:"b64"`
		} `json:"images"`
		Videos []string `json:"videos"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("draw: bad generation payload: %w", err)
	}
	if payload.Error != "" {
		return Result{}, fmt.Errorf("%s", payload.Error)
	}
	var res Result
	for _, img := range payload.Images {
		mime := img.Mime
		if mime == "" {
			mime = "image/jpeg"
		}
		res.Images = append(res.Images, "data:"+mime+";base64,"+img.B64)
	}
	if len(payload.Videos) > 0 {
		res.Text = strings.Join(payload.Videos, "\n")
	}
	if len(res.Images) == 0 && res.Text == "" {
		return Result{}, fmt.Errorf("draw: generation produced no media")
	}
	return res, nil
}
