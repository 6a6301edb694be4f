package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnc5/glacier/pkg/auth"
	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/events"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/storage"
	"github.com/cnc5/glacier/pkg/types"
)

type testEnv struct {
	server   *Server
	auth     *auth.Manager
	store    *storage.MemoryStore
	registry *render.Registry
}

// newTestEnv stands up the full handler stack over an in-memory store, with
// a shell script in place of the render binary and two provisioned users.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	scratch := t.TempDir()

	script := filepath.Join(scratch, "blender-stub.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch \"$6/frame0001.png\"\n"), 0o755))

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
	require.NoError(t, mgr.AddUser("bob", "letmein"))

	return &testEnv{
		server:   NewServer(mgr, store, registry),
		auth:     mgr,
		store:    store,
		registry: registry,
	}
}

func (e *testEnv) get(t *testing.T, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// postScene submits a multipart render request
func (e *testEnv) postScene(t *testing.T, fields map[string]string, scene []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if scene != nil {
		part, err := writer.CreateFormFile("file", "scene.blend")
		require.NoError(t, err)
		_, err = part.Write(scene)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/task/request", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.get(t, "/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["session_id"]
}

func (e *testEnv) createTask(t *testing.T, sessionID, name string) string {
	t.Helper()
	rec := e.postScene(t, map[string]string{
		"session_id":  sessionID,
		"task_name":   name,
		"start_frame": "1",
		"end_frame":   "2",
	}, []byte("scene bytes"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["task_id"]
}

func waitForState(t *testing.T, s *render.Supervisor, want types.TaskState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %q after %v, want %q", s.State(), timeout, want)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgUnauthorized, rec.Body.String())

	rec = env.get(t, "/login", url.Values{"username": {"nobody"}, "password": {"hunter2"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sessionID := env.login(t, "alice", "hunter2")
	assert.Len(t, sessionID, 32)

	// A second login returns the same session
	assert.Equal(t, sessionID, env.login(t, "alice", "hunter2"))
}

func TestSessionList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/session/list", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/session/list", url.Values{"username": {"alice"}, "password": {"hunter2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []types.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sessions)

	sessionID := env.login(t, "alice", "hunter2")

	rec = env.get(t, "/session/list", url.Values{"username": {"alice"}, "password": {"hunter2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, sessionID, resp.Sessions[0].SessionID)
	assert.Equal(t, "alice", resp.Sessions[0].Username)
}

func TestSessionRemove(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")

	rec := env.get(t, "/session/remove", url.Values{
		"username": {"alice"}, "password": {"wrong"}, "session_id": {sessionID},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/session/remove", url.Values{
		"username": {"alice"}, "password": {"hunter2"}, "session_id": {"deadbeef"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNoSession, rec.Body.String())

	// Bob cannot remove Alice's session even with his own valid credentials
	rec = env.get(t, "/session/remove", url.Values{
		"username": {"bob"}, "password": {"letmein"}, "session_id": {sessionID},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/session/remove", url.Values{
		"username": {"alice"}, "password": {"hunter2"}, "session_id": {sessionID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := env.store.GetSessionByID(sessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestSessionRemove_Cascade verifies removing a session deletes its tasks
func TestSessionRemove_Cascade(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	taskID := env.createTask(t, sessionID, "shot-01")

	rec := env.get(t, "/session/remove", url.Values{
		"username": {"alice"}, "password": {"hunter2"}, "session_id": {sessionID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := env.store.GetTaskByID(taskID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Nil(t, env.registry.Get(taskID))
}

func TestTaskRequest(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")

	rec := env.postScene(t, map[string]string{
		"session_id": "deadbeef", "task_name": "x", "start_frame": "1", "end_frame": "2",
	}, []byte("scene"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgUnauthorized, rec.Body.String())

	for _, frames := range [][2]string{{"one", "2"}, {"1", "2.5"}, {"", "2"}, {"-1", "2"}} {
		rec = env.postScene(t, map[string]string{
			"session_id":  sessionID,
			"task_name":   "shot-01",
			"start_frame": frames[0],
			"end_frame":   frames[1],
		}, []byte("scene"))
		assert.Equal(t, http.StatusForbidden, rec.Code, "frames %v", frames)
		assert.Equal(t, msgNonDigitFrames, rec.Body.String())
	}

	rec = env.postScene(t, map[string]string{
		"session_id": sessionID, "task_name": "shot-01", "start_frame": "1", "end_frame": "2",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	taskID := env.createTask(t, sessionID, "shot-01")
	assert.Len(t, taskID, 36)

	task, err := env.store.GetTaskByID(taskID)
	require.NoError(t, err)
	assert.Equal(t, "shot-01", task.TaskName)
	assert.Equal(t, types.TaskStateScheduled, task.State)
	require.NotNil(t, env.registry.Get(taskID))
}

func TestTaskStat(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	taskID := env.createTask(t, sessionID, "shot-01")

	rec := env.get(t, "/task/stat", url.Values{"session_id": {"deadbeef"}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/stat", url.Values{"session_id": {sessionID}, "task_id": {"missing"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bob's session cannot stat Alice's task
	bobSession := env.login(t, "bob", "letmein")
	rec = env.get(t, "/task/stat", url.Values{"session_id": {bobSession}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/stat", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, taskID, view["task_id"])
	assert.Equal(t, "shot-01", view["task_name"])
	assert.Equal(t, sessionID, view["parent_session_id"])
	assert.Equal(t, "alice", view["username"])
	assert.Equal(t, "SCHEDULED", view["state"])
	assert.Equal(t, "", view["progress"])
}

func TestTaskList(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	bobSession := env.login(t, "bob", "letmein")

	rec := env.get(t, "/task/list", url.Values{"session_id": {"deadbeef"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var taskIDs []string
	for i := 0; i < 3; i++ {
		taskIDs = append(taskIDs, env.createTask(t, sessionID, fmt.Sprintf("shot-%02d", i)))
	}
	env.createTask(t, bobSession, "bob-shot")

	rec = env.get(t, "/task/list", url.Values{"session_id": {sessionID}})
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	for i, view := range views {
		assert.Equal(t, taskIDs[i], view["task_id"])
	}
}

func TestTaskKill(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	taskID := env.createTask(t, sessionID, "shot-01")

	rec := env.get(t, "/task/kill", url.Values{"session_id": {"deadbeef"}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/kill", url.Values{"session_id": {sessionID}, "task_id": {"missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNoTask, rec.Body.String())

	bobSession := env.login(t, "bob", "letmein")
	rec = env.get(t, "/task/kill", url.Values{"session_id": {bobSession}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/kill", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	require.Equal(t, http.StatusOK, rec.Code)

	// The kill flag is latched; the render converges to KILLED once started
	supervisor := env.registry.Get(taskID)
	require.NotNil(t, supervisor)
	supervisor.Render()
	waitForState(t, supervisor, types.TaskStateKilled, 5*time.Second)
}

func TestTaskDelete(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	taskID := env.createTask(t, sessionID, "shot-01")

	rec := env.get(t, "/task/delete", url.Values{"session_id": {"deadbeef"}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/delete", url.Values{"session_id": {sessionID}, "task_id": {"missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bobSession := env.login(t, "bob", "letmein")
	rec = env.get(t, "/task/delete", url.Values{"session_id": {bobSession}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/task/delete", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := env.store.GetTaskByID(taskID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Nil(t, env.registry.Get(taskID))
}

func TestTaskResult(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.login(t, "alice", "hunter2")
	taskID := env.createTask(t, sessionID, "shot-01")

	rec := env.get(t, "/task/result", url.Values{"session_id": {"deadbeef"}, "task_id": {taskID}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Not yet rendered
	rec = env.get(t, "/task/result", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNotComplete, rec.Body.String())

	// Drive the task to PACKED the way the scheduler would
	supervisor := env.registry.Get(taskID)
	require.NotNil(t, supervisor)
	supervisor.Render()
	waitForState(t, supervisor, types.TaskStateCompleted, 5*time.Second)
	supervisor.PackOutput()
	require.Equal(t, types.TaskStatePacked, supervisor.State())

	rec = env.get(t, "/task/result", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())
	assert.Equal(t, types.TaskStateDone, supervisor.State())

	// The artifact is served once; the task is retired afterwards
	rec = env.get(t, "/task/result", url.Values{"session_id": {sessionID}, "task_id": {taskID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNotComplete, rec.Body.String())
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/health", url.Values{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/metrics", url.Values{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "glacier_")
}
