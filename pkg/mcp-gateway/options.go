package mcpgateway

import (
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// sessionIDHeader must be readable by browser clients or the Streamable
// protocol cannot resume a session across requests.
const sessionIDHeader = "Mcp-Session-Id"

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler under a specific HTTP path.
	// Defaults to "/mcp".
	Path string
	// ToolPrefix controls whether exposed tool names carry their server's
	// name as a prefix. Defaults to true; without the prefix, identically
	// named tools from different servers collide and the later server's
	// tool is skipped.
	ToolPrefix *bool
	// Separator joins the server prefix and the native tool name.
	// Defaults to "__".
	Separator string
	// CORS, when set, wraps the HTTP handler with the given policy. The
	// session header is always added to ExposedHeaders.
	CORS *cors.Options
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// Logger receives structured diagnostics.
	Logger *zap.Logger
	// SyncTimeout bounds how long a single server synchronization may take.
	// Defaults to 30 seconds.
	SyncTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpgateway",
			Title:   "MCP Tool Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.Separator == "" {
		opts.Separator = "__"
	}
	if opts.CORS != nil {
		policy := *opts.CORS
		if !slices.Contains(policy.ExposedHeaders, sessionIDHeader) {
			policy.ExposedHeaders = append(
				slices.Clone(policy.ExposedHeaders), sessionIDHeader)
		}
		opts.CORS = &policy
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return opts
}

func (o Options) prefixEnabled() bool {
	return o.ToolPrefix == nil || *o.ToolPrefix
}
