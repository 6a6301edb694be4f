package render

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc5/glacier/pkg/types"
)

type nopSink struct{}

func (nopSink) Update(string, types.TaskState) {}

func registrySupervisor(t *testing.T, scratch, taskID string) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(taskID, filepath.Join(scratch, taskID+".blend"), "1", "2", nopSink{},
		Options{UploadFacility: scratch, BlenderBin: "/bin/true"})
	require.NoError(t, err)
	return s
}

func TestRegistry(t *testing.T) {
	scratch := t.TempDir()
	registry := NewRegistry()

	assert.Equal(t, 0, registry.Len())
	assert.Nil(t, registry.Get("task-0"))
	assert.Empty(t, registry.Snapshot())

	first := registrySupervisor(t, scratch, "task-1")
	second := registrySupervisor(t, scratch, "task-2")

	registry.Add(first)
	registry.Add(second)
	assert.Equal(t, 2, registry.Len())
	assert.Same(t, first, registry.Get("task-1"))
	assert.Same(t, second, registry.Get("task-2"))

	registry.Remove("task-1")
	assert.Equal(t, 1, registry.Len())
	assert.Nil(t, registry.Get("task-1"))

	// Removing twice is harmless
	registry.Remove("task-1")
	assert.Equal(t, 1, registry.Len())
}

// TestRegistry_SnapshotOrder verifies snapshots follow insertion order, which
// the scheduler relies on for fair task advancement.
func TestRegistry_SnapshotOrder(t *testing.T) {
	scratch := t.TempDir()
	registry := NewRegistry()

	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("task-%d", i)
		ids = append(ids, id)
		registry.Add(registrySupervisor(t, scratch, id))
	}

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, len(ids))
	for i, s := range snapshot {
		assert.Equal(t, ids[i], s.TaskID())
	}

	registry.Remove("task-2")
	snapshot = registry.Snapshot()
	require.Len(t, snapshot, 4)
	want := []string{"task-0", "task-1", "task-3", "task-4"}
	for i, s := range snapshot {
		assert.Equal(t, want[i], s.TaskID())
	}
}

// TestRegistry_DuplicateAdd verifies re-adding a task id keeps the original
func TestRegistry_DuplicateAdd(t *testing.T) {
	scratch := t.TempDir()
	registry := NewRegistry()

	first := registrySupervisor(t, scratch, "task-1")
	registry.Add(first)

	otherScratch := t.TempDir()
	impostor := registrySupervisor(t, otherScratch, "task-1")
	registry.Add(impostor)

	assert.Equal(t, 1, registry.Len())
	assert.Same(t, first, registry.Get("task-1"))
}
