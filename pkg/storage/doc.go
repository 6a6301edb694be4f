/*
Package storage provides persistence for users, sessions, and tasks.

The Store interface is implemented twice: PostgresStore for production and
MemoryStore for tests. Both observe the same error taxonomy, ErrNotFound and
ErrDuplicate, so callers cannot tell them apart through the interface.

# Postgres

The production store connects over lib/pq via sqlx and builds its statements
with squirrel. Schema creation is idempotent at startup; there is no
migration system, the three tables are simple enough to evolve in place.
WaitForDatabase polls the database's TCP endpoint before the first
connection, because the server and the database usually start together under
a container orchestrator and the database loses that race.
*/
package storage
