package storage

import (
	"sync"

	"github.com/cnc5/glacier/pkg/types"
)

// MemoryStore implements Store with in-process maps. It backs unit tests and
// preserves the Postgres store's error taxonomy so callers cannot tell the
// difference through the interface.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*types.User
	sessions map[string]*types.Session
	tasks    map[string]*types.Task
	taskIDs  []string // insertion order for deterministic ListTasks
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*types.User),
		sessions: make(map[string]*types.Session),
		tasks:    make(map[string]*types.Task),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) AddUser(user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return ErrDuplicate
	}
	u := *user
	s.users[user.Username] = &u
	return nil
}

func (s *MemoryStore) GetUserByUsername(username string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *MemoryStore) AddSession(session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; ok {
		return ErrDuplicate
	}
	sess := *session
	s.sessions[session.SessionID] = &sess
	return nil
}

func (s *MemoryStore) GetSessionByID(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess := *session
	return &sess, nil
}

func (s *MemoryStore) GetSessionsByUsername(username string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []*types.Session
	for _, session := range s.sessions {
		if session.Username == username {
			sess := *session
			sessions = append(sessions, &sess)
		}
	}
	return sessions, nil
}

func (s *MemoryStore) ListSessions() ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []*types.Session
	for _, session := range s.sessions {
		sess := *session
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

func (s *MemoryStore) DeleteSessionByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) AddTask(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; ok {
		return ErrDuplicate
	}
	t := *task
	s.tasks[task.TaskID] = &t
	s.taskIDs = append(s.taskIDs, task.TaskID)
	return nil
}

func (s *MemoryStore) GetTaskByID(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := *task
	return &t, nil
}

func (s *MemoryStore) GetTasksBySessionID(sessionID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*types.Task
	for _, id := range s.taskIDs {
		task, ok := s.tasks[id]
		if ok && task.ParentSessionID == sessionID {
			t := *task
			tasks = append(tasks, &t)
		}
	}
	return tasks, nil
}

func (s *MemoryStore) ListTasks() ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*types.Task
	for _, id := range s.taskIDs {
		if task, ok := s.tasks[id]; ok {
			t := *task
			tasks = append(tasks, &t)
		}
	}
	return tasks, nil
}

func (s *MemoryStore) UpdateTaskState(taskID string, state types.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	task.State = state
	return nil
}

func (s *MemoryStore) DeleteTaskByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) DeleteTasksBySessionID(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if task.ParentSessionID == sessionID {
			delete(s.tasks, id)
		}
	}
	return nil
}
