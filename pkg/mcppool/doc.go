// Package mcppool maintains one logical session per configured Model Context
// Protocol (MCP) server and exposes a uniform list-tools/call-tool surface
// across stdio and Streamable HTTP transports. It layers connection lifecycle
// tracking, transport construction, and credential refresh on top of the
// modelcontextprotocol/go-sdk client so callers do not rebuild MCP plumbing.
//
// # Core entry points
//
//   - Pool is the long-lived orchestration type. Construct it with NewPool,
//     dial servers with Connect or ConnectAll, and tear down with Close or
//     CloseAll.
//   - ServerConfig (and the StdioServerConfig / HTTPServerConfig variants)
//     declare how each MCP server is launched or contacted. HTTP servers may
//     carry an AuthConfig describing an external credential-refresh command.
//   - LoadFile reads a YAML/JSON pool configuration with environment-variable
//     interpolation.
//
// After a server is connected, ListTools and CallTool transparently recover
// from one transport or credential failure per call: an auth-classified
// failure on an auth-capable server triggers a reconnect with a forced
// credential refresh, a connection-classified failure (or a session whose
// subprocess transport died) triggers a plain reconnect, and the operation is
// retried exactly once against the fresh session. Any further failure is
// returned to the caller unchanged.
package mcppool
