/*
Package events provides an in-memory broker for task and session lifecycle
events.

Components publish fire-and-forget: the broker fans events out to subscriber
channels and drops on the floor for any subscriber whose buffer is full, so a
slow consumer can never stall a state transition. The server's only built-in
subscriber logs the stream; operational tooling can attach further
subscribers in process.
*/
package events
