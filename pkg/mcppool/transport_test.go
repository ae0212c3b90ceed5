package mcppool

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func cannedResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
		Request:    req,
	}
}

func TestBuildStdioTransport(t *testing.T) {
	t.Parallel()

	transport, err := buildStdioTransport("local", &StdioServerConfig{
		Command: "mcp-tool-server",
		Args:    []string{"--workspace", "/tmp/ws"},
		Env:     map[string]string{"TOOL_MODE": "strict"},
	})
	require.NoError(t, err)

	ct, ok := transport.(*mcp.CommandTransport)
	require.True(t, ok)
	assert.Equal(t, []string{"mcp-tool-server", "--workspace", "/tmp/ws"}, ct.Command.Args)
	assert.Contains(t, ct.Command.Env, "TOOL_MODE=strict")

	_, err = buildStdioTransport("local", &StdioServerConfig{})
	require.Error(t, err)
}

func TestBuildStdioTransportInheritsEnvironmentByDefault(t *testing.T) {
	t.Parallel()

	transport, err := buildStdioTransport("local", &StdioServerConfig{Command: "mcp-tool-server"})
	require.NoError(t, err)

	ct := transport.(*mcp.CommandTransport)
	// Leaving Env nil makes os/exec pass the parent environment through.
	assert.Nil(t, ct.Command.Env)
}

func TestBuildHTTPTransportInjectsFetchedCredential(t *testing.T) {
	t.Parallel()

	pool := NewPool(nil, nil)
	pool.creds.run = func(context.Context, *AuthConfig, bool) (string, string, error) {
		return `{"access_token":"tok-live"}`, "", nil
	}

	var captured http.Header
	cfg := &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Auth: &AuthConfig{Command: "auth-helper"}},
		Endpoint:         "https://tools.example.com/mcp",
		Headers:          http.Header{"X-Tenant": []string{"acme"}},
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req.Header.Clone()
			return cannedResponse(req), nil
		})},
	}

	transport, err := pool.buildTransport(context.Background(), "srv", cfg, false)
	require.NoError(t, err)

	st, ok := transport.(*mcp.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://tools.example.com/mcp", st.Endpoint)

	req, err := http.NewRequest(http.MethodPost, cfg.Endpoint, nil)
	require.NoError(t, err)
	resp, err := st.HTTPClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok-live", captured.Get("Authorization"))
	assert.Equal(t, "acme", captured.Get("X-Tenant"))
}

func TestBuildHTTPTransportCustomHeaderAndPrefix(t *testing.T) {
	t.Parallel()

	pool := NewPool(nil, nil)
	pool.creds.run = func(context.Context, *AuthConfig, bool) (string, string, error) {
		return "raw-key", "", nil
	}

	var captured http.Header
	bare := ""
	cfg := &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Auth: &AuthConfig{
			Command: "auth-helper",
			Header:  "X-Api-Key",
			Prefix:  &bare,
		}},
		Endpoint: "https://tools.example.com/mcp",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req.Header.Clone()
			return cannedResponse(req), nil
		})},
	}

	transport, err := pool.buildTransport(context.Background(), "srv", cfg, false)
	require.NoError(t, err)

	st := transport.(*mcp.StreamableClientTransport)
	req, err := http.NewRequest(http.MethodPost, cfg.Endpoint, nil)
	require.NoError(t, err)
	resp, err := st.HTTPClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "raw-key", captured.Get("X-Api-Key"))
	assert.Empty(t, captured.Get("Authorization"))
}

func TestBuildHTTPTransportWithoutAuthSkipsFetch(t *testing.T) {
	t.Parallel()

	pool := NewPool(nil, nil)
	fetches := 0
	pool.creds.run = func(context.Context, *AuthConfig, bool) (string, string, error) {
		fetches++
		return "tok", "", nil
	}

	transport, err := pool.buildTransport(context.Background(), "srv", &HTTPServerConfig{
		Endpoint: "https://tools.example.com/mcp",
	}, false)
	require.NoError(t, err)

	st := transport.(*mcp.StreamableClientTransport)
	assert.Equal(t, http.DefaultClient, st.HTTPClient, "no headers means the client passes through undecorated")
	assert.Zero(t, fetches)
}

func TestBuildHTTPTransportFetchFailurePropagates(t *testing.T) {
	t.Parallel()

	pool := NewPool(nil, nil)
	pool.creds.run = func(context.Context, *AuthConfig, bool) (string, string, error) {
		return "", "helper crashed", assert.AnError
	}

	_, err := pool.buildTransport(context.Background(), "srv", &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Auth: &AuthConfig{Command: "auth-helper"}},
		Endpoint:         "https://tools.example.com/mcp",
	}, false)
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "helper crashed", cmdErr.Stderr)
}

func TestHeaderDecoratorReplacesExistingValues(t *testing.T) {
	t.Parallel()

	var captured http.Header
	decorator := &headerDecorator{
		next: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req.Header.Clone()
			return cannedResponse(req), nil
		}),
		headers: http.Header{"Authorization": []string{"Bearer fresh"}},
	}

	req, err := http.NewRequest(http.MethodGet, "https://tools.example.com/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stale")
	req.Header.Set("Accept", "application/json")

	resp, err := decorator.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"Bearer fresh"}, captured.Values("Authorization"))
	assert.Equal(t, "application/json", captured.Get("Accept"))
}

func TestDecorateHTTPClientLeavesBaseUntouched(t *testing.T) {
	t.Parallel()

	base := &http.Client{}
	decorated := decorateHTTPClient(base, http.Header{"X-A": []string{"1"}})
	assert.NotSame(t, base, decorated)
	assert.Nil(t, base.Transport, "decoration must not mutate the caller's client")

	assert.Same(t, base, decorateHTTPClient(base, nil))
}
