// Package conveyor is the root of the conveyor module.
package conveyor

// Version is the release version reported by the CLI and the MCP server.
const Version = "0.4.0"
