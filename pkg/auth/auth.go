package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/events"
	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/metrics"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/storage"
	"github.com/cnc5/glacier/pkg/types"
)

// DefaultVerifyBudget is the fixed wall-clock cost of a password check. The
// check sleeps out the remainder of the budget on every path, including the
// unknown-user path, so response timing does not reveal whether a username
// exists.
const DefaultVerifyBudget = 5 * time.Second

// Manager is the session and task lifecycle layer over the store. It also
// implements render.StateSink: every supervisor transition lands here to be
// persisted, logged, counted, and published.
type Manager struct {
	store        storage.Store
	registry     *render.Registry
	broker       *events.Broker
	renderOpts   render.Options
	verifyBudget time.Duration
	logger       zerolog.Logger
}

// NewManager creates an auth manager wired to the shared registry and broker
func NewManager(store storage.Store, registry *render.Registry, broker *events.Broker, renderCfg *config.RenderConfig) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		broker:   broker,
		renderOpts: render.Options{
			UploadFacility: renderCfg.UploadFacility,
			BlenderBin:     renderCfg.BlenderBin,
		},
		verifyBudget: DefaultVerifyBudget,
		logger:       log.WithComponent("auth"),
	}
}

// SetVerifyBudget overrides the fixed verification budget. Tests use this to
// avoid the 5 second wall-clock cost per login.
func (m *Manager) SetVerifyBudget(budget time.Duration) {
	m.verifyBudget = budget
}

// VerifyPassword checks credentials against the stored Argon2id hash. It
// always consumes the full verification budget before returning.
func (m *Manager) VerifyPassword(username, password string) bool {
	start := time.Now()
	defer func() {
		if remaining := m.verifyBudget - time.Since(start); remaining > 0 {
			time.Sleep(remaining)
		}
	}()

	user, err := m.store.GetUserByUsername(username)
	if err != nil {
		return false
	}

	ok, err := VerifyHash(password, user.PasswordHash)
	if err != nil {
		m.logger.Error().Err(err).Str("username", username).Msg("stored password hash is unusable")
		return false
	}
	return ok
}

// Login verifies credentials and returns the user's session id, minting one
// if none exists. At most one session per username.
func (m *Manager) Login(username, password string) (string, error) {
	if !m.VerifyPassword(username, password) {
		return "", storage.ErrNotFound
	}

	sessions, err := m.store.GetSessionsByUsername(username)
	if err != nil {
		return "", err
	}
	if len(sessions) > 0 {
		return sessions[0].SessionID, nil
	}

	sessionID, err := newHexToken(sessionTokenBytes)
	if err != nil {
		return "", err
	}
	session := &types.Session{
		Username:     username,
		SessionID:    sessionID,
		CreationTime: strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := m.store.AddSession(session); err != nil {
		return "", err
	}

	m.logger.Info().Str("username", username).Str("session_id", sessionID).Msg("session created")
	m.broker.Publish(&events.Event{
		Type:      events.EventSessionCreated,
		SessionID: sessionID,
		Username:  username,
	})
	return sessionID, nil
}

// IsSession reports whether the session id exists in the store
func (m *Manager) IsSession(sessionID string) bool {
	_, err := m.store.GetSessionByID(sessionID)
	return err == nil
}

// AddTask persists a new task, writes the uploaded scene bytes to the scratch
// directory, and constructs its supervisor. Returns the minted task id.
func (m *Manager) AddTask(taskName, sessionID string, blend []byte, startFrame, endFrame string) (string, error) {
	session, err := m.store.GetSessionByID(sessionID)
	if err != nil {
		return "", err
	}

	taskID, err := newHexToken(taskTokenBytes)
	if err != nil {
		return "", err
	}

	blendPath := filepath.Join(m.renderOpts.UploadFacility, taskID+".blend")
	if err := os.WriteFile(blendPath, blend, 0o644); err != nil {
		return "", fmt.Errorf("failed to write scene file: %w", err)
	}

	task := &types.Task{
		TaskID:          taskID,
		TaskName:        taskName,
		ParentSessionID: sessionID,
		Username:        session.Username,
		BlendFilePath:   blendPath,
		State:           types.TaskStateCreated,
	}
	if err := m.store.AddTask(task); err != nil {
		os.Remove(blendPath)
		return "", err
	}

	supervisor, err := render.NewSupervisor(taskID, blendPath, startFrame, endFrame, m, m.renderOpts)
	if err != nil {
		m.store.DeleteTaskByID(taskID)
		os.Remove(blendPath)
		return "", err
	}
	m.registry.Add(supervisor)

	m.logger.Info().
		Str("task_id", taskID).
		Str("task_name", taskName).
		Str("username", session.Username).
		Msg("task created")
	m.broker.Publish(&events.Event{
		Type:      events.EventTaskCreated,
		TaskID:    taskID,
		SessionID: sessionID,
		Username:  session.Username,
	})
	return taskID, nil
}

// Update implements render.StateSink. It is invoked synchronously from every
// supervisor transition.
func (m *Manager) Update(taskID string, state types.TaskState) {
	if err := m.store.UpdateTaskState(taskID, state); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist task state")
	}

	m.logger.Info().Str("task_id", taskID).Str("state", string(state)).Msg("task state changed")

	switch state {
	case types.TaskStateRunning:
		metrics.RendersStarted.Inc()
	case types.TaskStateKilled:
		metrics.RendersKilled.Inc()
	case types.TaskStateFailedBlender, types.TaskStateFailedTar:
		metrics.RendersFailed.Inc()
	case types.TaskStateDone:
		metrics.ResultsDownloaded.Inc()
	}

	m.broker.Publish(&events.Event{
		Type:   events.EventTaskState,
		TaskID: taskID,
		State:  state,
	})
}

// IsTask reports whether the task id exists in the store
func (m *Manager) IsTask(taskID string) bool {
	_, err := m.store.GetTaskByID(taskID)
	return err == nil
}

// DeleteTask kills the task's supervisor if one exists, releases its scratch
// files, and removes the row.
func (m *Manager) DeleteTask(taskID string) error {
	task, err := m.store.GetTaskByID(taskID)
	if err != nil {
		return err
	}

	if supervisor := m.registry.Get(taskID); supervisor != nil {
		supervisor.Kill()
		if err := supervisor.Cleanup(); err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID).Msg("scratch cleanup incomplete")
		}
		m.registry.Remove(taskID)
	} else {
		m.cleanupOrphan(task)
	}

	if err := m.store.DeleteTaskByID(taskID); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:      events.EventTaskDeleted,
		TaskID:    taskID,
		SessionID: task.ParentSessionID,
	})
	return nil
}

// DeleteSession removes a session and cascades to every task whose
// parent_session_id matches.
func (m *Manager) DeleteSession(sessionID string) error {
	tasks, err := m.store.GetTasksBySessionID(sessionID)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if supervisor := m.registry.Get(task.TaskID); supervisor != nil {
			supervisor.Kill()
			if err := supervisor.Cleanup(); err != nil {
				m.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("scratch cleanup incomplete")
			}
			m.registry.Remove(task.TaskID)
		} else {
			m.cleanupOrphan(task)
		}
	}

	if err := m.store.DeleteTasksBySessionID(sessionID); err != nil {
		return err
	}
	if err := m.store.DeleteSessionByID(sessionID); err != nil {
		return err
	}

	m.logger.Info().Str("session_id", sessionID).Int("tasks", len(tasks)).Msg("session removed")
	m.broker.Publish(&events.Event{
		Type:      events.EventSessionDeleted,
		SessionID: sessionID,
	})
	return nil
}

// cleanupOrphan removes the scratch artifacts of a task that has no
// supervisor (persisted before a restart).
func (m *Manager) cleanupOrphan(task *types.Task) {
	if task.BlendFilePath != "" {
		os.Remove(task.BlendFilePath)
	}
	outputDir := filepath.Join(m.renderOpts.UploadFacility, task.TaskID)
	os.RemoveAll(outputDir)
	os.Remove(outputDir + ".tar.gz")
}

// RecoverOrphans marks every persisted non-terminal task as failed. After a
// restart those tasks have no supervisor and their renders are gone; leaving
// them in an active-looking state would strand clients polling forever.
func (m *Manager) RecoverOrphans() error {
	tasks, err := m.store.ListTasks()
	if err != nil {
		return err
	}

	recovered := 0
	for _, task := range tasks {
		if task.State.Terminal() {
			continue
		}
		if err := m.store.UpdateTaskState(task.TaskID, types.TaskStateFailedBlender); err != nil {
			m.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to mark orphaned task")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		m.logger.Warn().Int("tasks", recovered).Msg("marked orphaned tasks as failed after restart")
	}
	return nil
}

// AddUser provisions a user account. Used by the useradd utility, never by
// the server.
func (m *Manager) AddUser(username, password string) error {
	if _, err := m.store.GetUserByUsername(username); err == nil {
		return fmt.Errorf("user %s already exists", username)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return m.store.AddUser(&types.User{
		Username:     username,
		PasswordHash: hash,
	})
}
