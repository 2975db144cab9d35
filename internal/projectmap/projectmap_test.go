package projectmap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ids   map[string]int64
	calls int
}

func (f *fakeResolver) ResolveProjectID(_ context.Context, name string) (int64, error) {
	f.calls++
	id, ok := f.ids[name]
	if !ok {
		return 0, fmt.Errorf("project %q not found", name)
	}
	return id, nil
}

func TestLoadMissing(t *testing.T) {
	m := Load(filepath.Join(t.TempDir(), "nope.json"))
	_, ok := m.Get("Smith v. Jones")
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	m := Load(path)
	assert.Empty(t, m.Names())
}

func TestResolvePersistsAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	r := &fakeResolver{ids: map[string]int64{"Smith v. Jones": 42}}

	m := Load(path)
	id, err := m.Resolve(context.Background(), r, "Smith v. Jones")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 1, r.calls)

	// cached, no second resolver call
	id, err = m.Resolve(context.Background(), r, "Smith v. Jones")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 1, r.calls)

	// survives reload
	m2 := Load(path)
	id, ok := m2.Get("Smith v. Jones")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestResolveNoResolver(t *testing.T) {
	m := Load(filepath.Join(t.TempDir(), "map.json"))
	_, err := m.Resolve(context.Background(), nil, "Unknown")
	assert.Error(t, err)
}
