// Package configx loads the adapter-descriptor manifest and scheduler
// tuning knobs from a flat YAML file, with optional hot reload via
// fsnotify. It deliberately skips the teacher's multi-layer
// global/crawling/processing/output/policy merge model — a single
// manifest version is the unit of atomic swap here, not a set of
// overlaid partial specs.
package configx

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"ioac/adapter"
	"ioac/models"
)

// AdapterSpec is the on-disk representation of one backend registration.
type AdapterSpec struct {
	ID                    string   `yaml:"id"`
	Name                  string   `yaml:"name"`
	Modalities            []string `yaml:"modalities"`
	Formats               []string `yaml:"formats"`
	Quantisation          []string `yaml:"quantisation"`
	Priority              int      `yaml:"priority"`
	MinMemoryMB           uint64   `yaml:"min_memory_mb"`
	RequiresGPU           bool     `yaml:"requires_gpu"`
	RequiredGPUType       string   `yaml:"required_gpu_type,omitempty"`
}

// SchedulerSpec overrides the scheduler's tuning knobs.
type SchedulerSpec struct {
	CapacityMB      uint64  `yaml:"capacity_mb"`
	DeferThreshold  float64 `yaml:"defer_threshold"`
	RejectThreshold float64 `yaml:"reject_threshold"`
	QueueMaxSize    int     `yaml:"queue_max_size"`
	QueueMaxRetries int     `yaml:"queue_max_retries"`
}

// Manifest is the full on-disk configuration payload.
type Manifest struct {
	Adapters  []AdapterSpec `yaml:"adapters"`
	Scheduler SchedulerSpec `yaml:"scheduler"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// ToDescriptor converts an AdapterSpec into an adapter.CapabilityDescriptor.
func (s AdapterSpec) ToDescriptor() adapter.CapabilityDescriptor {
	d := adapter.NewDescriptor(s.ID, s.Name).
		WithPriority(s.Priority).
		WithMinMemoryMB(s.MinMemoryMB)
	for _, m := range s.Modalities {
		if mod := models.ParseModality(m); mod != models.ModalityUnknown {
			d = d.WithModality(mod)
		}
	}
	for _, f := range s.Formats {
		if format := models.ParseFormat(f); format != models.FormatUnknown {
			d = d.WithFormat(format)
		}
	}
	for _, q := range s.Quantisation {
		d = d.WithQuantization(q)
	}
	if s.RequiresGPU {
		d = d.WithGPURequirement(models.ParseGPUType(s.RequiredGPUType))
	}
	return d
}

// Watcher hot-reloads a manifest file, publishing each successfully parsed
// version to Updates(). A parse failure logs to Errors() and leaves the
// previously loaded manifest in place — a malformed edit never blanks the
// registry.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	current atomic.Pointer[Manifest]
	updates chan *Manifest
	errs    chan error
	done    chan struct{}
}

// NewWatcher loads path once, then begins watching its parent directory for
// writes. Callers drain Updates() to re-apply the manifest.
func NewWatcher(path string) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{path: path, watcher: fw, updates: make(chan *Manifest, 1), errs: make(chan error, 1), done: make(chan struct{})}
	w.current.Store(initial)
	if err := fw.Add(dirOf(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch manifest dir: %w", err)
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.updates)
	defer close(w.errs)
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if e.Name != w.path || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(50 * time.Millisecond)
		case <-debounce.C:
			m, err := Load(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			w.current.Store(m)
			select {
			case w.updates <- m:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently loaded manifest.
func (w *Watcher) Current() *Manifest { return w.current.Load() }

// Updates delivers each successfully reloaded manifest.
func (w *Watcher) Updates() <-chan *Manifest { return w.updates }

// Errors delivers parse/watch errors that did not replace the manifest.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
