// Package api provides the HTTP query surface for the openmem system:
// search, observation and session access, lineage, export/import, stats,
// metrics and queue control for the dashboard and the agent host.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8642")
	ListenAddr string

	// ProjectPath scopes every read that does not name a project
	// explicitly.
	ProjectPath string
}
