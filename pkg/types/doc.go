/*
Package types defines the durable entities shared across Glacier components.

Three entities are persisted in the relational store: User, Session, and Task.
The in-memory per-task supervisor lives in pkg/render and is intentionally not
part of this package; only the task's state value crosses the boundary.

# Task state machine

	CREATED -> SCHEDULED -> RUNNING -> COMPLETED -> COMPRESSING -> PACKED -> DONE
	                |           |           |              |
	                v           v           v              v
	            (synthetic)  KILLED  FAILED(BLENDER)  FAILED(TAR)

KILLED, FAILED(BLENDER), FAILED(TAR), and DONE are terminal. CREATED exists
only as the initial persisted value and is replaced by SCHEDULED as soon as a
supervisor is constructed for the row. Transitions are totally ordered per
task and never reversed.
*/
package types
