package engine

import (
	"testing"

	"browserd/internal/adapters"
)

func poolFixture(t *testing.T) (*Registry, []*Worker) {
	t.Helper()
	text := textAdapter("text", "shared")
	vis := &fakeAdapter{typ: "vis", models: []adapters.ModelDescriptor{
		{ID: "shared", Upstream: "shared-up", Modality: adapters.ModalityText, Images: adapters.ImagesOptional},
	}}
	req := &fakeAdapter{typ: "req", models: []adapters.ModelDescriptor{
		{ID: "remix", Upstream: "remix-up", Modality: adapters.ModalityImage, Images: adapters.ImagesRequired},
	}}
	reg, err := NewRegistry([]adapters.Adapter{text, vis, req}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dir := t.TempDir()
	w1, _ := testWorker("w-text", reg, []string{"text"}, dir)
	w2, _ := testWorker("w-vis", reg, []string{"vis"}, dir)
	w3, _ := testWorker("w-req", reg, []string{"req"}, dir)
	return reg, []*Worker{w1, w2, w3}
}

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Worker.Name()
	}
	return out
}

func TestPoolCandidatesImageAware(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("least_busy", ws, 1, testLogger())

	// Text-only request for "shared": both the text and vis workers serve it.
	got := names(p.Candidates("shared", false))
	if len(got) != 2 || got[0] != "w-text" || got[1] != "w-vis" {
		t.Fatalf("text request candidates = %v", got)
	}

	// With images attached, the forbidden-only text worker drops out.
	got = names(p.Candidates("shared", true))
	if len(got) != 1 || got[0] != "w-vis" {
		t.Fatalf("image request candidates = %v", got)
	}

	// A required-images model never serves a bare-text request.
	if got := p.Candidates("remix", false); len(got) != 0 {
		t.Fatalf("remix without images should have no candidates, got %v", names(got))
	}
	if got := names(p.Candidates("remix", true)); len(got) != 1 || got[0] != "w-req" {
		t.Fatalf("remix with images candidates = %v", got)
	}
}

func TestPoolLeastBusyPrefersIdle(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("least_busy", ws, 1, testLogger())

	if !ws[0].TryReserve() {
		t.Fatalf("reserve w-text")
	}
	got := names(p.Candidates("shared", false))
	if got[0] != "w-vis" || got[1] != "w-text" {
		t.Fatalf("busy worker must sort last, got %v", got)
	}
	ws[0].Release()
}

func TestPoolRoundRobinRotates(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("round_robin", ws, 1, testLogger())

	first := names(p.Candidates("shared", false))
	second := names(p.Candidates("shared", false))
	if first[0] == second[0] {
		t.Fatalf("round robin should rotate the head: %v then %v", first, second)
	}
}

func TestPoolRandomKeepsEligibleSet(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("random", ws, 42, testLogger())
	got := names(p.Candidates("shared", false))
	if len(got) != 2 {
		t.Fatalf("random must preserve the eligible set, got %v", got)
	}
	seen := map[string]bool{}
	for _, n := range got {
		seen[n] = true
	}
	if !seen["w-text"] || !seen["w-vis"] {
		t.Fatalf("random lost a candidate: %v", got)
	}
}

func TestPoolReserve(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("least_busy", ws, 1, testLogger())

	w, ok := p.Reserve("shared", false)
	if !ok {
		t.Fatalf("first reserve must succeed")
	}
	w2, ok := p.Reserve("shared", false)
	if !ok || w2 == w {
		t.Fatalf("second reserve should pick the other worker")
	}
	if _, ok := p.Reserve("shared", false); ok {
		t.Fatalf("all eligible workers busy, reserve must fail")
	}
	w.Release()
	if _, ok := p.Reserve("shared", false); !ok {
		t.Fatalf("reserve must succeed again after release")
	}
	if p.BusyCount() != 2 {
		t.Fatalf("BusyCount = %d, want 2", p.BusyCount())
	}
}

func TestPoolSupportsModel(t *testing.T) {
	_, ws := poolFixture(t)
	p := NewPool("least_busy", ws, 1, testLogger())
	if !p.SupportsModel("shared") || !p.SupportsModel("remix") {
		t.Fatalf("pool should support registered models")
	}
	if p.SupportsModel("ghost") {
		t.Fatalf("pool must not support unknown models")
	}
}
