package configx

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleManifest = `
adapters:
  - id: llama-7b-local
    name: llama-7b
    modalities: [text]
    formats: [gguf]
    quantisation: [Q4]
    priority: 50
    min_memory_mb: 4096
scheduler:
  capacity_mb: 16384
  defer_threshold: 0.75
  reject_threshold: 0.90
  queue_max_size: 256
  queue_max_retries: 5
`

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadParsesAdaptersAndScheduler(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, sampleManifest)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Adapters) != 1 || m.Adapters[0].ID != "llama-7b-local" {
		t.Fatalf("unexpected adapters: %+v", m.Adapters)
	}
	if m.Scheduler.CapacityMB != 16384 {
		t.Fatalf("capacity = %d, want 16384", m.Scheduler.CapacityMB)
	}
}

func TestAdapterSpecToDescriptor(t *testing.T) {
	spec := AdapterSpec{ID: "a", Name: "a-name", Modalities: []string{"text"}, Formats: []string{"gguf"}, Quantisation: []string{"Q4"}, Priority: 10, MinMemoryMB: 2048}
	d := spec.ToDescriptor()
	if d.ID != "a" || d.Priority != 10 || d.MinMemoryMB != 2048 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, sampleManifest)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	updated := sampleManifest + "\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case m := <-w.Updates():
		if m == nil {
			t.Fatalf("expected non-nil reloaded manifest")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
}

func TestWatcherKeepsPreviousManifestOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, sampleManifest)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case err := <-w.Errors():
		if err == nil {
			t.Fatalf("expected parse error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error")
	}
	if w.Current() == nil || len(w.Current().Adapters) != 1 {
		t.Fatalf("expected previous manifest retained, got %+v", w.Current())
	}
}
