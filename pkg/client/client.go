package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cnc5/glacier/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client wraps the glacier HTTP API for easy programmatic usage. Scene
// uploads and result downloads stream; everything else is small JSON.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient creates a client for a glacier server, e.g. "http://farm:8888"
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SessionID returns the session established by Login, empty before it
func (c *Client) SessionID() string {
	return c.sessionID
}

// TaskView is a task row annotated with the render's progress line
type TaskView struct {
	TaskID          string          `json:"task_id"`
	TaskName        string          `json:"task_name"`
	ParentSessionID string          `json:"parent_session_id"`
	Username        string          `json:"username"`
	BlendFilePath   string          `json:"blend_file_path"`
	State           types.TaskState `json:"state"`
	Progress        string          `json:"progress"`
}

// apiError carries the server's plain-text error body
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.body)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &apiError{status: resp.StatusCode, body: string(body)}
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// Login establishes a session; the id is kept for subsequent calls
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.get(ctx, "/login", url.Values{
		"username": {username},
		"password": {password},
	}, &resp)
	if err != nil {
		return err
	}
	c.sessionID = resp.SessionID
	return nil
}

// ListSessions returns the user's sessions. Credentials are required; session
// listing works without an established session.
func (c *Client) ListSessions(ctx context.Context, username, password string) ([]*types.Session, error) {
	var resp struct {
		Sessions []*types.Session `json:"sessions"`
	}
	err := c.get(ctx, "/session/list", url.Values{
		"username": {username},
		"password": {password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// RemoveSession deletes a session and all of its tasks
func (c *Client) RemoveSession(ctx context.Context, username, password, sessionID string) error {
	return c.get(ctx, "/session/remove", url.Values{
		"username":   {username},
		"password":   {password},
		"session_id": {sessionID},
	}, nil)
}

// SubmitTask uploads a scene file and returns the minted task id. Frame
// bounds are decimal strings; the server rejects anything else.
func (c *Client) SubmitTask(ctx context.Context, taskName, scenePath, startFrame, endFrame string) (string, error) {
	scene, err := os.Open(scenePath)
	if err != nil {
		return "", err
	}
	defer scene.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range map[string]string{
		"session_id":  c.sessionID,
		"task_name":   taskName,
		"start_frame": startFrame,
		"end_frame":   endFrame,
	} {
		if err := writer.WriteField(key, value); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(scenePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, scene); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/task/request", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &apiError{status: resp.StatusCode, body: string(raw)}
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// StatTask returns the current view of one task
func (c *Client) StatTask(ctx context.Context, taskID string) (*TaskView, error) {
	var view TaskView
	err := c.get(ctx, "/task/stat", url.Values{
		"session_id": {c.sessionID},
		"task_id":    {taskID},
	}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListTasks returns every task of the client's session
func (c *Client) ListTasks(ctx context.Context) ([]*TaskView, error) {
	var views []*TaskView
	err := c.get(ctx, "/task/list", url.Values{
		"session_id": {c.sessionID},
	}, &views)
	if err != nil {
		return nil, err
	}
	return views, nil
}

// KillTask requests termination of a running render
func (c *Client) KillTask(ctx context.Context, taskID string) error {
	return c.get(ctx, "/task/kill", url.Values{
		"session_id": {c.sessionID},
		"task_id":    {taskID},
	}, nil)
}

// DeleteTask removes a task and its scratch files
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.get(ctx, "/task/delete", url.Values{
		"session_id": {c.sessionID},
		"task_id":    {taskID},
	}, nil)
}

// DownloadResult streams the packaged artifact of a PACKED task to destPath.
// The server retires the task once the download completes.
func (c *Client) DownloadResult(ctx context.Context, taskID, destPath string) error {
	params := url.Values{
		"session_id": {c.sessionID},
		"task_id":    {taskID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task/result?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &apiError{status: resp.StatusCode, body: string(body)}
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		os.Remove(destPath)
		return err
	}
	return nil
}

// WaitForState polls the task until it reaches the wanted state, the task
// goes terminal some other way, or the context expires.
func (c *Client) WaitForState(ctx context.Context, taskID string, want types.TaskState, interval time.Duration) (*TaskView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.StatTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if view.State == want {
			return view, nil
		}
		if view.State.Terminal() {
			return view, fmt.Errorf("task %s reached terminal state %s", taskID, view.State)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return view, ctx.Err()
		}
	}
}
