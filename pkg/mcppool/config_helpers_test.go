package mcppool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TransportStdio, TransportOf(&StdioServerConfig{Command: "mcp-files"}))
	assert.Equal(t, TransportHTTP, TransportOf(&HTTPServerConfig{Endpoint: "https://x/mcp"}))
	assert.Equal(t, TransportKind(""), TransportOf(nil))
}

func TestTransportNarrowing(t *testing.T) {
	t.Parallel()

	stdio := &StdioServerConfig{Command: "mcp-files"}
	httpCfg := &HTTPServerConfig{Endpoint: "https://x/mcp"}

	assert.True(t, IsStdio(stdio))
	assert.False(t, IsStdio(httpCfg))
	assert.True(t, IsHTTP(httpCfg))
	assert.False(t, IsHTTP(stdio))

	got, ok := AsStdio(stdio)
	assert.True(t, ok)
	assert.Same(t, stdio, got)
	_, ok = AsStdio(httpCfg)
	assert.False(t, ok)

	gotHTTP, ok := AsHTTP(httpCfg)
	assert.True(t, ok)
	assert.Same(t, httpCfg, gotHTTP)
	_, ok = AsHTTP(stdio)
	assert.False(t, ok)
}

func TestAuthCapable(t *testing.T) {
	t.Parallel()

	assert.True(t, authCapable(&HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Auth: &AuthConfig{Command: "auth-helper"}},
		Endpoint:         "https://x/mcp",
	}))
	assert.False(t, authCapable(&HTTPServerConfig{Endpoint: "https://x/mcp"}))
	assert.False(t, authCapable(&HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Auth: &AuthConfig{}},
		Endpoint:         "https://x/mcp",
	}))
	assert.False(t, authCapable(&StdioServerConfig{Command: "mcp-files"}))
}
