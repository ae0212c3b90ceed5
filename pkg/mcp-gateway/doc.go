// Package mcpgateway exposes the tools of every server held by an mcppool
// Pool through a single Streamable MCP endpoint. Downstream clients connect
// to one host; the gateway names each tool after its originating server,
// routes calls through the pool, and inherits the pool's credential refresh
// and reconnect behavior.
package mcpgateway
