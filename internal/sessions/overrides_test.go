package sessions

import "testing"

func TestOverrideStoreSetThenGetRoundTrips(t *testing.T) {
	store := NewOverrideStore(t.TempDir())

	if err := store.Set("sess1", Override{Model: "anthropic/claude-x", Verbosity: "high"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.Get("sess1")
	if got.Model != "anthropic/claude-x" || got.Verbosity != "high" {
		t.Fatalf("got %+v", got)
	}
}

func TestOverrideStoreGetMissingReturnsZeroValue(t *testing.T) {
	store := NewOverrideStore(t.TempDir())
	got := store.Get("nobody")
	if !got.empty() {
		t.Fatalf("expected empty override, got %+v", got)
	}
}

func TestOverrideStoreClearRemovesEntry(t *testing.T) {
	store := NewOverrideStore(t.TempDir())
	_ = store.Set("sess1", Override{Model: "m1"})

	if err := store.Clear("sess1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Get("sess1"); !got.empty() {
		t.Fatalf("expected override cleared, got %+v", got)
	}
}

func TestOverrideStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewOverrideStore(dir)
	_ = first.Set("sess1", Override{Model: "m1"})

	second := NewOverrideStore(dir)
	if got := second.Get("sess1"); got.Model != "m1" {
		t.Fatalf("expected override to survive a fresh store, got %+v", got)
	}
}

func TestOverrideApplyFallsThroughToDefault(t *testing.T) {
	var empty Override
	if got := empty.Apply("default-model"); got != "default-model" {
		t.Fatalf("expected default-model, got %q", got)
	}

	set := Override{Model: "override-model"}
	if got := set.Apply("default-model"); got != "override-model" {
		t.Fatalf("expected override-model, got %q", got)
	}
}
