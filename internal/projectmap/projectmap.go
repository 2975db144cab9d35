// Package projectmap persists the mapping from mirror folder names to
// Origin project ids, so repeated runs do not re-resolve every project
// against the API.
package projectmap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// json with sorted keys keeps the persisted file diff friendly.
var json = sonic.ConfigStd

// Resolver looks up a project id by display name. Satisfied by the Origin
// client.
type Resolver interface {
	ResolveProjectID(ctx context.Context, name string) (int64, error)
}

// Map is a persisted {project name -> project id} table, safe for
// concurrent use.
type Map struct {
	path string

	mu      sync.RWMutex
	entries map[string]int64
}

// Load reads the map from path. A missing file yields an empty map; a
// corrupt one is logged and treated as empty rather than aborting startup.
func Load(path string) *Map {
	m := &Map{path: path, entries: make(map[string]int64)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m
	}
	if err != nil {
		slog.Warn("project map unreadable, starting empty", "path", path, "error", err)
		return m
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		slog.Warn("project map corrupt, starting empty", "path", path, "error", err)
		m.entries = make(map[string]int64)
	}
	return m
}

// Get returns the cached id for a project name.
func (m *Map) Get(name string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[name]
	return id, ok
}

// Put records a mapping and persists the file.
func (m *Map) Put(name string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = id
	return m.saveLocked()
}

// Resolve returns the project id for name, consulting the resolver on a
// cache miss and persisting the answer.
func (m *Map) Resolve(ctx context.Context, r Resolver, name string) (int64, error) {
	if id, ok := m.Get(name); ok {
		return id, nil
	}
	if r == nil {
		return 0, fmt.Errorf("project %q not in map and no resolver configured", name)
	}
	id, err := r.ResolveProjectID(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := m.Put(name, id); err != nil {
		slog.Warn("project map not persisted", "path", m.path, "error", err)
	}
	return id, nil
}

// Names returns the known project names.
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for name := range m.entries {
		out = append(out, name)
	}
	return out
}

func (m *Map) saveLocked() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
