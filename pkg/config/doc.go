/*
Package config loads configuration from the process environment.

The server always runs inside a container, so the environment is the single
source of configuration and every variable is required; a missing or empty
one aborts startup. Three groups exist: the database endpoint (DB_*), the
render setup (UPLOAD_FACILITY, BLENDER_BIN), and the one-shot provisioning
credentials (GLACIER_USER, GLACIER_PASSWORD).
*/
package config
