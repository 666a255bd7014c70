package adapters

import (
	"context"
	"strings"
	"testing"

	"browserd/internal/browser"
	"browserd/internal/config"
)

func drawOpts() config.AdapterOptions {
	return config.AdapterOptions{"baseURL": "https://draw.example/create"}
}

func TestDrawGenerateReturnsDataURIs(t *testing.T) {
	a := NewDrawAdapter()
	page := &stubPage{resp: browser.Response{
		Status: 200,
		Body:   []byte(`{"images":[{"mime":"image/png","b64":"QUJD"},{"b64":"REVG"}]}`),
	}}
	res, err := a.Generate(context.Background(), SubContext{Page: page, Options: drawOpts()}, "a cat", nil, "draw-std", Meta{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("images = %v", res.Images)
	}
	if res.Images[0] != "data:image/png;base64,QUJD" {
		t.Fatalf("first image = %q", res.Images[0])
	}
	if res.Images[1] != "data:image/jpeg;base64,REVG" {
		t.Fatalf("missing mime must default to jpeg: %q", res.Images[1])
	}
}

func TestDrawGenerateRemixRequiresImage(t *testing.T) {
	a := NewDrawAdapter()
	page := &stubPage{resp: browser.Response{Status: 200, Body: []byte(`{"images":[{"b64":"QQ=="}]}`)}}
	_, err := a.Generate(context.Background(), SubContext{Page: page, Options: drawOpts()}, "remix this", nil, "draw-remix", Meta{})
	if err == nil || !strings.Contains(err.Error(), "requires a source image") {
		t.Fatalf("got %v", err)
	}
	if _, err := a.Generate(context.Background(), SubContext{Page: page, Options: drawOpts()}, "remix this", []string{"/tmp/src.png"}, "draw-remix", Meta{}); err != nil {
		t.Fatalf("remix with source image: %v", err)
	}
	if len(page.uploads) != 1 {
		t.Fatalf("source image must be uploaded")
	}
}

func TestDrawGenerateVideoFallsBackToText(t *testing.T) {
	a := NewDrawAdapter()
	page := &stubPage{resp: browser.Response{
		Status: 200,
		Body:   []byte(`{"videos":["data:video/mp4;base64,AAA","data:video/mp4;base64,BBB"]}`),
	}}
	res, err := a.Generate(context.Background(), SubContext{Page: page, Options: drawOpts()}, "a movie", nil, "draw-std", Meta{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Images) != 0 {
		t.Fatalf("video payload must not register as images")
	}
	if res.Text != "data:video/mp4;base64,AAA\ndata:video/mp4;base64,BBB" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestExtractDrawResultErrors(t *testing.T) {
	if _, err := extractDrawResult([]byte(`not json`)); err == nil {
		t.Fatalf("bad payload must error")
	}
	if _, err := extractDrawResult([]byte(`{"error":"quota exceeded"}`)); err == nil || err.Error() != "quota exceeded" {
		t.Fatalf("upstream error must surface verbatim, got %v", err)
	}
	if _, err := extractDrawResult([]byte(`{}`)); err == nil {
		t.Fatalf("empty generation must error")
	}
}

func TestDrawTargetURLRequiresBase(t *testing.T) {
	a := NewDrawAdapter()
	if _, err := a.TargetURL(config.AdapterOptions{}, config.WorkerConfig{}); err == nil {
		t.Fatalf("missing baseURL must error")
	}
}

func TestMonitorAdapterIsInert(t *testing.T) {
	a := NewMonitorAdapter()
	if got := a.Models(); got != nil {
		t.Fatalf("monitor registers no models: %v", got)
	}
	if got := a.NavigationHandlers(); got != nil {
		t.Fatalf("monitor installs no handlers: %v", got)
	}
	url, err := a.TargetURL(config.AdapterOptions{}, config.WorkerConfig{})
	if err != nil || url != "about:blank" {
		t.Fatalf("TargetURL = %q, %v", url, err)
	}
	url, _ = a.TargetURL(config.AdapterOptions{"baseURL": "https://park.example"}, config.WorkerConfig{})
	if url != "https://park.example" {
		t.Fatalf("configured park URL = %q", url)
	}
	if _, err := a.Generate(context.Background(), SubContext{}, "", nil, "", Meta{}); err == nil {
		t.Fatalf("monitor must refuse to generate")
	}
}
