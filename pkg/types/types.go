package types

// User is a provisioned account. Rows are created by the useradd utility and
// never mutated or deleted by the server.
type User struct {
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
}

// Session is an authenticated client handle. A username holds at most one
// session at a time; deleting a session cascades to its tasks.
type Session struct {
	Username     string `db:"username" json:"username"`
	SessionID    string `db:"session_id" json:"session_id"`
	CreationTime string `db:"creation_time" json:"creation_time"` // seconds since epoch
}

// Task is one render job: a scene file plus a frame range. State is mutated
// only through the renderer's state sink.
type Task struct {
	TaskID          string    `db:"task_id" json:"task_id"`
	TaskName        string    `db:"task_name" json:"task_name"`
	ParentSessionID string    `db:"parent_session_id" json:"parent_session_id"`
	Username        string    `db:"username" json:"username"`
	BlendFilePath   string    `db:"blend_file_path" json:"blend_file_path"`
	State           TaskState `db:"state" json:"state"`
}

// TaskState represents the state of a render task
type TaskState string

const (
	// TaskStateCreated is synthetic: it is persisted with the row and
	// immediately replaced by SCHEDULED when the supervisor initializes.
	TaskStateCreated TaskState = "CREATED"

	TaskStateScheduled   TaskState = "SCHEDULED"
	TaskStateRunning     TaskState = "RUNNING"
	TaskStateCompleted   TaskState = "COMPLETED"
	TaskStateCompressing TaskState = "COMPRESSING"
	TaskStatePacked      TaskState = "PACKED"

	// Terminal states
	TaskStateDone          TaskState = "DONE"
	TaskStateKilled        TaskState = "KILLED"
	TaskStateFailedBlender TaskState = "FAILED(BLENDER)"
	TaskStateFailedTar     TaskState = "FAILED(TAR)"
)

// Terminal reports whether no further transition can leave the state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateDone, TaskStateKilled, TaskStateFailedBlender, TaskStateFailedTar:
		return true
	}
	return false
}

// RenderDevice is the Cycles compute device chosen at supervisor creation
type RenderDevice string

const (
	RenderDeviceCPU  RenderDevice = "CPU"
	RenderDeviceCUDA RenderDevice = "CUDA"
)
