package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cnc5/glacier/pkg/types"
)

// Error bodies are short plain-text strings; only identifiers the caller
// supplied may appear in them.
const (
	msgUnauthorized   = "Unauthorized"
	msgNoSession      = "Session does not exist"
	msgNoTask         = "Task does not exist"
	msgNonDigitFrames = "Non-digit frames"
	msgNotComplete    = "Task is not complete"
)

// formOrQuery reads a parameter from the POST form, falling back to the
// query string.
func formOrQuery(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// taskView is the task row plus the supervisor's progress line
func (s *Server) taskView(task *types.Task) gin.H {
	progress := ""
	if supervisor := s.registry.Get(task.TaskID); supervisor != nil {
		progress = supervisor.LastLine()
	}
	return gin.H{
		"task_id":           task.TaskID,
		"task_name":         task.TaskName,
		"parent_session_id": task.ParentSessionID,
		"username":          task.Username,
		"blend_file_path":   task.BlendFilePath,
		"state":             task.State,
		"progress":          progress,
	}
}

// ownsTask reports whether the session owns the task. Any valid session used
// to be enough to kill or delete any task; ownership is enforced now.
func ownsTask(task *types.Task, sessionID string) bool {
	return task.ParentSessionID == sessionID
}

func (s *Server) handleLogin(c *gin.Context) {
	username := c.Query("username")
	password := c.Query("password")

	sessionID, err := s.auth.Login(username, password)
	if err != nil {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

func (s *Server) handleSessionList(c *gin.Context) {
	username := c.Query("username")
	password := c.Query("password")

	if !s.auth.VerifyPassword(username, password) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	sessions, err := s.store.GetSessionsByUsername(username)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleSessionRemove(c *gin.Context) {
	username := c.Query("username")
	password := c.Query("password")
	sessionID := c.Query("session_id")

	if !s.auth.VerifyPassword(username, password) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	session, err := s.store.GetSessionByID(sessionID)
	if err != nil || session.Username != username {
		c.String(http.StatusNotFound, msgNoSession)
		return
	}

	if err := s.auth.DeleteSession(sessionID); err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

func (s *Server) handleTaskRequest(c *gin.Context) {
	sessionID := formOrQuery(c, "session_id")
	taskName := formOrQuery(c, "task_name")
	startFrame := formOrQuery(c, "start_frame")
	endFrame := formOrQuery(c, "end_frame")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	if !isDigits(startFrame) || !isDigits(endFrame) {
		c.String(http.StatusForbidden, msgNonDigitFrames)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "Missing file")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	defer file.Close()
	blend, err := io.ReadAll(file)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	taskID, err := s.auth.AddTask(taskName, sessionID, blend, startFrame, endFrame)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (s *Server) handleTaskStat(c *gin.Context) {
	sessionID := c.Query("session_id")
	taskID := c.Query("task_id")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	task, err := s.store.GetTaskByID(taskID)
	if err != nil || !ownsTask(task, sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	c.JSON(http.StatusOK, s.taskView(task))
}

func (s *Server) handleTaskList(c *gin.Context) {
	sessionID := c.Query("session_id")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	tasks, err := s.store.GetTasksBySessionID(sessionID)
	if err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	views := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, s.taskView(task))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleTaskKill(c *gin.Context) {
	sessionID := c.Query("session_id")
	taskID := c.Query("task_id")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	task, err := s.store.GetTaskByID(taskID)
	if err != nil {
		c.String(http.StatusNotFound, msgNoTask)
		return
	}
	if !ownsTask(task, sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	if supervisor := s.registry.Get(taskID); supervisor != nil {
		supervisor.Kill()
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (s *Server) handleTaskDelete(c *gin.Context) {
	sessionID := c.Query("session_id")
	taskID := c.Query("task_id")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	task, err := s.store.GetTaskByID(taskID)
	if err != nil {
		c.String(http.StatusNotFound, msgNoTask)
		return
	}
	if !ownsTask(task, sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	if err := s.auth.DeleteTask(taskID); err != nil {
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (s *Server) handleTaskResult(c *gin.Context) {
	sessionID := c.Query("session_id")
	taskID := c.Query("task_id")

	if !s.auth.IsSession(sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}
	task, err := s.store.GetTaskByID(taskID)
	if err != nil || !ownsTask(task, sessionID) {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	supervisor := s.registry.Get(taskID)
	if supervisor == nil || supervisor.State() != types.TaskStatePacked || supervisor.TarPath() == "" {
		c.String(http.StatusBadRequest, msgNotComplete)
		return
	}

	// The whole artifact is written out before the DONE transition, so the
	// first successful download is the one that retires the task.
	c.File(supervisor.TarPath())
	supervisor.Done()
}
