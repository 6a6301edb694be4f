package client_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc5/glacier/pkg/api"
	"github.com/cnc5/glacier/pkg/auth"
	"github.com/cnc5/glacier/pkg/client"
	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/events"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/scheduler"
	"github.com/cnc5/glacier/pkg/storage"
	"github.com/cnc5/glacier/pkg/types"
)

const renderScript = `echo "Fra:1 Rendering"
touch "$6/frame0001.png"`

// startFarm stands up the full server stack, scheduler included, over an
// in-memory store with a shell script standing in for the render binary.
func startFarm(t *testing.T, scriptBody string) (*client.Client, string) {
	t.Helper()
	scratch := t.TempDir()

	script := filepath.Join(scratch, "blender-stub.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+scriptBody+"\n"), 0o755))

	store := storage.NewMemoryStore()
	registry := render.NewRegistry()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := auth.NewManager(store, registry, broker, &config.RenderConfig{
		UploadFacility: scratch,
		BlenderBin:     script,
	})
	mgr.SetVerifyBudget(0)
	require.NoError(t, mgr.AddUser("alice", "hunter2"))

	sched := scheduler.NewScheduler(registry)
	sched.Start()
	t.Cleanup(sched.Stop)

	srv := httptest.NewServer(api.NewServer(mgr, store, registry).Handler())
	t.Cleanup(srv.Close)

	return client.NewClient(srv.URL), scratch
}

func writeScene(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scene.blend")
	require.NoError(t, os.WriteFile(path, []byte("scene bytes"), 0o644))
	return path
}

func TestClient_Login(t *testing.T) {
	c, _ := startFarm(t, renderScript)
	ctx := context.Background()

	err := c.Login(ctx, "alice", "wrong")
	assert.Error(t, err)
	assert.Empty(t, c.SessionID())

	require.NoError(t, c.Login(ctx, "alice", "hunter2"))
	assert.Len(t, c.SessionID(), 32)
}

// TestClient_RenderRoundTrip submits a scene, waits for the scheduler to
// drive it to PACKED, and downloads the artifact.
func TestClient_RenderRoundTrip(t *testing.T) {
	c, _ := startFarm(t, renderScript)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Login(ctx, "alice", "hunter2"))

	scene := writeScene(t, t.TempDir())
	taskID, err := c.SubmitTask(ctx, "shot-01", scene, "1", "2")
	require.NoError(t, err)
	assert.Len(t, taskID, 36)

	view, err := c.WaitForState(ctx, taskID, types.TaskStatePacked, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "shot-01", view.TaskName)
	assert.Equal(t, "alice", view.Username)

	dest := filepath.Join(t.TempDir(), "result.tar.gz")
	require.NoError(t, c.DownloadResult(ctx, taskID, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// The first download retires the task
	view, err = c.StatTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateDone, view.State)
	assert.Error(t, c.DownloadResult(ctx, taskID, dest))
}

func TestClient_ListAndDelete(t *testing.T) {
	c, _ := startFarm(t, renderScript)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Login(ctx, "alice", "hunter2"))
	sceneDir := t.TempDir()
	first, err := c.SubmitTask(ctx, "shot-01", writeScene(t, sceneDir), "1", "2")
	require.NoError(t, err)
	second, err := c.SubmitTask(ctx, "shot-02", writeScene(t, sceneDir), "3", "4")
	require.NoError(t, err)

	views, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, first, views[0].TaskID)
	assert.Equal(t, second, views[1].TaskID)

	require.NoError(t, c.DeleteTask(ctx, first))
	views, err = c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, second, views[0].TaskID)
}

func TestClient_KillTask(t *testing.T) {
	c, _ := startFarm(t, "sleep 30")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Login(ctx, "alice", "hunter2"))
	taskID, err := c.SubmitTask(ctx, "shot-01", writeScene(t, t.TempDir()), "1", "2")
	require.NoError(t, err)

	_, err = c.WaitForState(ctx, taskID, types.TaskStateRunning, 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.KillTask(ctx, taskID))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		view, err := c.StatTask(ctx, taskID)
		require.NoError(t, err)
		if view.State == types.TaskStateKilled {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("task never reached KILLED after kill")
}

func TestClient_Sessions(t *testing.T) {
	c, _ := startFarm(t, renderScript)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "alice", "hunter2"))

	sessions, err := c.ListSessions(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, c.SessionID(), sessions[0].SessionID)

	require.NoError(t, c.RemoveSession(ctx, "alice", "hunter2", c.SessionID()))

	sessions, err = c.ListSessions(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
