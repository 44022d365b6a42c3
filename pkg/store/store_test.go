package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/entrhq/locus/pkg/locator"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locators.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s, path
}

func TestGetMissingKey(t *testing.T) {
	s, _ := newTestStore(t)
	if _, ok := s.Get("https://example.com::missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestSetPersistsBeforeReturning(t *testing.T) {
	s, path := newTestStore(t)

	res := &locator.Result{
		Best:       "//button[@data-testid='go']",
		Alternates: []string{"#go"},
		IsTemplate: false,
	}
	if err := s.Set("https://example.com::go button", res); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The file must already contain the entry when Set returns.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading store file: %v", err)
	}
	var onDisk map[string]*locator.Result
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("store file is not valid JSON: %v", err)
	}
	got, ok := onDisk["https://example.com::go button"]
	if !ok {
		t.Fatal("entry missing from persisted file")
	}
	if got.Best != res.Best {
		t.Errorf("persisted Best = %q, want %q", got.Best, res.Best)
	}
}

func TestReloadAfterSet(t *testing.T) {
	s, path := newTestStore(t)

	res := &locator.Result{Best: "//input[@name='q']", IsTemplate: true}
	if err := s.Set("k", res); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok := reopened.Get("k")
	if !ok {
		t.Fatal("entry lost after reload")
	}
	if got.Best != res.Best || got.IsTemplate != res.IsTemplate {
		t.Errorf("reloaded entry = %+v, want %+v", got, res)
	}
}

func TestOverwriteOnReResolution(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Set("k", &locator.Result{Best: "//old"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("k", &locator.Result{Best: "//healed"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, _ := s.Get("k")
	if got.Best != "//healed" {
		t.Errorf("Best = %q, want overwritten //healed", got.Best)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locators.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore should not fail on corruption: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0 for corrupt file", s.Len())
	}

	// The store stays usable and the next Set rewrites the file whole.
	if err := s.Set("k", &locator.Result{Best: "//a"}); err != nil {
		t.Fatalf("Set after corruption failed: %v", err)
	}
	if _, ok := s.Get("k"); !ok {
		t.Error("entry missing after recovery")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Set("k", &locator.Result{Best: "//a", Alternates: []string{"//b"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, _ := s.Get("k")
	got.Best = "mutated"
	got.Alternates[0] = "mutated"

	again, _ := s.Get("k")
	if again.Best != "//a" || again.Alternates[0] != "//b" {
		t.Error("mutating a returned result leaked into the store")
	}
}
