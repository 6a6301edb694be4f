/*
Package scheduler drives registered render tasks through their state machine.

The scheduler runs a single loop on a fixed 500ms interval. Each pass takes a
snapshot of the supervisor registry in task insertion order and applies at
most one transition per task: SCHEDULED tasks get their render started
(asynchronous), COMPLETED tasks get their output packaged (synchronous).
Every other state is either owned by the supervisor's own goroutines or
terminal.

A panic while advancing one task is recovered and logged so the remaining
tasks in the pass still make progress.
*/
package scheduler
