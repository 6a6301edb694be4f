// Package log wraps zerolog with a process-global logger and helpers for the
// field names used across the farm (component, task_id, session_id,
// username).
package log
