// Package mapping implements the ModelMapping data type from spec §3: a
// key→value table from client-declared model names to an intermediate
// internal name, mutable at runtime and hot-reloaded from the config file
// koanf watches (spec §5, "ModelMapping is protected by a read-write
// discipline").
package mapping

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Snapshot is an immutable point-in-time view of the mapping table. A
// request takes one Snapshot at entry and keeps using it for the whole
// request, per §5's "readers take a snapshot reference that must remain
// valid for the duration of one request."
type Snapshot struct {
	table map[string]string
}

// Resolve implements spec §4.C3 phase 1 for the Anthropic path: the first
// entry whose key is a substring of name wins; otherwise name is returned
// unchanged. Map iteration order in Go is randomized, so ties are broken
// by preferring the longest matching key — this keeps behavior
// deterministic without depending on iteration order, while remaining
// consistent with "first entry whose key is a substring" for the common
// case of non-overlapping keys.
func (s Snapshot) Resolve(name string) string {
	if s.table == nil {
		return name
	}
	best := ""
	bestVal := ""
	for k, v := range s.table {
		if strings.Contains(name, k) && len(k) > len(best) {
			best = k
			bestVal = v
		}
	}
	if best == "" {
		return name
	}
	return bestVal
}

// Watcher owns a hot-reloadable Snapshot, refreshed from a YAML file's
// anthropic_model_mapping section via koanf's fsnotify-backed
// file.Provider.Watch.
type Watcher struct {
	path    string
	key     string
	current atomic.Pointer[Snapshot]
}

// NewWatcher builds a Watcher over the mapping section at key (dotted
// koanf path, e.g. "anthropic_model_mapping") within the YAML file at
// path, loads it once synchronously, and starts watching for changes.
func NewWatcher(path, key string) (*Watcher, error) {
	w := &Watcher{path: path, key: key}
	if err := w.reload(); err != nil {
		return nil, err
	}

	provider := file.Provider(path)
	if err := provider.Watch(func(event any, err error) {
		if err != nil {
			log.Printf("model mapping watch error: %v", err)
			return
		}
		if err := w.reload(); err != nil {
			log.Printf("model mapping reload failed, keeping previous snapshot: %v", err)
		} else {
			log.Printf("model mapping reloaded from %s", path)
		}
	}); err != nil {
		log.Printf("model mapping hot-reload unavailable for %s: %v (serving static snapshot)", path, err)
	}

	return w, nil
}

func (w *Watcher) reload() error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(w.path), yaml.Parser()); err != nil {
		return err
	}
	table := k.StringMap(w.key)
	snap := &Snapshot{table: table}
	w.current.Store(snap)
	return nil
}

// Current returns the latest loaded Snapshot. Safe for concurrent use by
// many readers; the writer (reload) swaps the pointer atomically so no
// in-flight reader ever observes a partially updated table.
func (w *Watcher) Current() Snapshot {
	s := w.current.Load()
	if s == nil {
		return Snapshot{}
	}
	return *s
}

// NewStaticSnapshot builds a Snapshot directly from a map, for callers
// (tests, or configs with no hot-reload) that don't need file watching.
func NewStaticSnapshot(table map[string]string) Snapshot {
	return Snapshot{table: table}
}
