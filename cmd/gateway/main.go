// Command gateway fronts heterogeneous HTTP and CLI-subprocess AI
// providers behind one REST + WebSocket surface: a priority request
// queue, a bounded dispatch worker pool, a durable SQLite state store,
// and a multi-round discussion orchestrator.
//
// Usage:
//
//	# Start the server with the default configuration file
//	gateway run
//
//	# Start with a custom configuration file
//	gateway run --config /path/to/config.yaml
//
//	# Validate configuration without starting the server
//	gateway run --dry-run
//
//	# Run a discussion session from the command line
//	gateway discuss "should we adopt trunk-based development?" --providers claude,codex
//
//	# Show version information
//	gateway version
//
// For complete documentation, see DESIGN.md and SPEC_FULL.md in the
// repository.
package main

func main() {
	Execute()
}
