/*
Package auth implements credential verification and the session and task
lifecycle.

The Manager is the write path of the farm: it mints sessions and tasks,
persists their rows, constructs render supervisors, and cascades deletions
across the store, the supervisor registry, and the scratch directory. It also
implements render.StateSink, so every supervisor state transition is
persisted, counted, and published from one place.

# Credentials

Passwords are stored as Argon2id hashes in PHC string format; the parameters
are embedded in the hash, so they can be tuned without invalidating existing
rows. Verification consumes a fixed wall-clock budget on every path,
including the unknown-user path, which keeps response timing from revealing
whether a username exists.

Session ids are 32 hex characters, task ids 36, both from crypto/rand. A user
holds at most one session: logging in again returns the existing id.
*/
package auth
