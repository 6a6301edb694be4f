/*
Package render supervises the external render binary, one child process per
task.

A Supervisor is created together with the task row and owns everything the
rest of the system observes about the render: the current state, the last
output line (the progress proxy), the kill flag, and the packaged artifact
path. Supervisors are indexed by task id in a Registry shared between the
scheduler, the auth manager, and the HTTP handlers.

# Lifecycle

	NewSupervisor   mkdir <scratch>/<task_id>/, pick device, -> SCHEDULED
	Render          spawn child, -> RUNNING; a goroutine streams merged
	                stdout+stderr and another waits on the exit code
	                exit 0 -> COMPLETED, exit != 0 -> FAILED(BLENDER)
	Kill            set the kill flag; the supervising goroutine observes it
	                on its next poll, terminates the child, -> KILLED
	PackOutput      -> COMPRESSING, tar the output directory, -> PACKED
	                (or FAILED(TAR)); called by the scheduler
	Done            -> DONE after the first successful result download
	Cleanup         remove scene file, output directory, and tar

Every transition reaches the StateSink before the transitioning call returns,
so the persisted state never lags the in-memory state by more than one
callback.

# Device selection

The compute device is decided once, at supervisor creation: CUDA when
/usr/bin/nvidia-smi exists, CPU otherwise. A render never falls back at
runtime; if the GPU is unusable the child fails and the task ends in
FAILED(BLENDER).

# Blocking behaviour

The output reader blocks on the child's pipe and the supervising goroutine
blocks on the exit code, checking the kill flag at a fixed poll interval.
There is no render timeout: a hung child occupies its own goroutines
indefinitely but never blocks another task or the scheduler.
*/
package render
