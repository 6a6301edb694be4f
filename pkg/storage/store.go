package storage

import (
	"errors"

	"github.com/cnc5/glacier/pkg/types"
)

var (
	// ErrNotFound is returned when a lookup by primary or foreign key misses
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with an existing
	// primary key. The server gates inserts on pre-reads, so this is a
	// defensive signal rather than part of the normal control flow.
	ErrDuplicate = errors.New("duplicate key")
)

// Store defines durable table-backed storage for users, sessions, and tasks.
// Implemented by the Postgres store; the in-memory store backs unit tests.
type Store interface {
	// Users
	AddUser(user *types.User) error
	GetUserByUsername(username string) (*types.User, error)

	// Sessions
	AddSession(session *types.Session) error
	GetSessionByID(id string) (*types.Session, error)
	GetSessionsByUsername(username string) ([]*types.Session, error)
	ListSessions() ([]*types.Session, error)
	DeleteSessionByID(id string) error

	// Tasks
	AddTask(task *types.Task) error
	GetTaskByID(id string) (*types.Task, error)
	GetTasksBySessionID(sessionID string) ([]*types.Task, error)
	ListTasks() ([]*types.Task, error)
	UpdateTaskState(taskID string, state types.TaskState) error
	DeleteTaskByID(id string) error
	DeleteTasksBySessionID(sessionID string) error

	// Utility
	Close() error
}
