// Package client provides a typed HTTP client for the glacier API. It is
// used by integration tests and by render-farm tooling that submits scenes
// and collects results programmatically.
package client
