package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/types"
)

const (
	// The database container may come up after the server; connecting
	// before the endpoint accepts TCP makes lib/pq fail immediately.
	dbWaitTimeout  = 180 * time.Second
	dbWaitInterval = 500 * time.Millisecond
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Store on top of a Postgres database
type PostgresStore struct {
	db *sqlx.DB
}

// WaitForDatabase polls the endpoint until it accepts TCP connections,
// failing after dbWaitTimeout.
func WaitForDatabase(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	logger := log.WithComponent("storage")
	deadline := time.Now().Add(dbWaitTimeout)

	for {
		conn, err := net.DialTimeout("tcp", addr, dbWaitInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database %s is not up after %s: %w", addr, dbWaitTimeout, err)
		}
		logger.Debug().Str("addr", addr).Msg("waiting for database")
		time.Sleep(dbWaitInterval)
	}
}

// NewPostgresStore waits for the endpoint, connects, and creates the schema
func NewPostgresStore(cfg *config.DatabaseConfig) (*PostgresStore, error) {
	if err := WaitForDatabase(cfg.Host, cfg.Port); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Pass, cfg.Name)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect db %s: %w", cfg.Name, err)
	}

	s := &PostgresStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_table (
			username TEXT PRIMARY KEY,
			password_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS session_table (
			session_id TEXT PRIMARY KEY,
			username TEXT,
			creation_time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_table (
			task_id TEXT PRIMARY KEY,
			task_name TEXT,
			parent_session_id TEXT,
			username TEXT,
			blend_file_path TEXT,
			state TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// translateErr maps driver errors onto the store's error taxonomy
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicate
	}
	return err
}

// User operations

func (s *PostgresStore) AddUser(user *types.User) error {
	query, args, err := psql.Insert("user_table").
		Columns("username", "password_hash").
		Values(user.Username, user.PasswordHash).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

func (s *PostgresStore) GetUserByUsername(username string) (*types.User, error) {
	query, args, err := psql.Select("username", "password_hash").
		From("user_table").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var user types.User
	if err := s.db.Get(&user, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return &user, nil
}

// Session operations

func (s *PostgresStore) AddSession(session *types.Session) error {
	query, args, err := psql.Insert("session_table").
		Columns("session_id", "username", "creation_time").
		Values(session.SessionID, session.Username, session.CreationTime).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

func (s *PostgresStore) GetSessionByID(id string) (*types.Session, error) {
	query, args, err := psql.Select("session_id", "username", "creation_time").
		From("session_table").
		Where(sq.Eq{"session_id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := s.db.Get(&session, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return &session, nil
}

func (s *PostgresStore) GetSessionsByUsername(username string) ([]*types.Session, error) {
	query, args, err := psql.Select("session_id", "username", "creation_time").
		From("session_table").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var sessions []*types.Session
	if err := s.db.Select(&sessions, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return sessions, nil
}

func (s *PostgresStore) ListSessions() ([]*types.Session, error) {
	query, args, err := psql.Select("session_id", "username", "creation_time").
		From("session_table").
		ToSql()
	if err != nil {
		return nil, err
	}
	var sessions []*types.Session
	if err := s.db.Select(&sessions, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSessionByID(id string) error {
	query, args, err := psql.Delete("session_table").
		Where(sq.Eq{"session_id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

// Task operations

func (s *PostgresStore) AddTask(task *types.Task) error {
	query, args, err := psql.Insert("task_table").
		Columns("task_id", "task_name", "parent_session_id", "username", "blend_file_path", "state").
		Values(task.TaskID, task.TaskName, task.ParentSessionID, task.Username, task.BlendFilePath, task.State).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

func (s *PostgresStore) GetTaskByID(id string) (*types.Task, error) {
	query, args, err := taskSelect().Where(sq.Eq{"task_id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var task types.Task
	if err := s.db.Get(&task, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return &task, nil
}

func (s *PostgresStore) GetTasksBySessionID(sessionID string) ([]*types.Task, error) {
	query, args, err := taskSelect().Where(sq.Eq{"parent_session_id": sessionID}).ToSql()
	if err != nil {
		return nil, err
	}
	var tasks []*types.Task
	if err := s.db.Select(&tasks, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListTasks() ([]*types.Task, error) {
	query, args, err := taskSelect().ToSql()
	if err != nil {
		return nil, err
	}
	var tasks []*types.Task
	if err := s.db.Select(&tasks, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return tasks, nil
}

func (s *PostgresStore) UpdateTaskState(taskID string, state types.TaskState) error {
	query, args, err := psql.Update("task_table").
		Set("state", state).
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTaskByID(id string) error {
	query, args, err := psql.Delete("task_table").
		Where(sq.Eq{"task_id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

func (s *PostgresStore) DeleteTasksBySessionID(sessionID string) error {
	query, args, err := psql.Delete("task_table").
		Where(sq.Eq{"parent_session_id": sessionID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(query, args...)
	return translateErr(err)
}

func taskSelect() sq.SelectBuilder {
	return psql.Select("task_id", "task_name", "parent_session_id", "username", "blend_file_path", "state").
		From("task_table")
}
