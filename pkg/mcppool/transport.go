package mcppool

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// buildTransport constructs the transport for one server. Only HTTP servers
// with a credential-refresh config trigger a token fetch; a fetch failure
// propagates to the caller.
func (p *Pool) buildTransport(ctx context.Context, name string, cfg ServerConfig, forceRefresh bool) (mcp.Transport, error) {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return buildStdioTransport(name, c)
	case *HTTPServerConfig:
		return p.buildHTTPTransport(ctx, name, c, forceRefresh)
	default:
		return nil, fmt.Errorf("mcppool: unsupported config for %q", name)
	}
}

func buildStdioTransport(name string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcppool: command missing for %q", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = overlayEnv(cfg.Env)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (p *Pool) buildHTTPTransport(ctx context.Context, name string, cfg *HTTPServerConfig, forceRefresh bool) (mcp.Transport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcppool: endpoint missing for %q", name)
	}
	headers := cloneHeader(cfg.Headers)
	if auth := cfg.Auth; auth != nil {
		token, err := p.creds.Token(ctx, name, auth, forceRefresh)
		if err != nil {
			return nil, err
		}
		if headers == nil {
			headers = make(http.Header)
		}
		headers.Set(auth.headerName(), auth.headerValue(token))
	}
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: decorateHTTPClient(cfg.HTTPClient, headers),
	}, nil
}

// decorateHTTPClient shallow-copies base and injects the resolved headers via
// a wrapping RoundTripper so every request the SDK makes carries them.
func decorateHTTPClient(base *http.Client, headers http.Header) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: headers,
	}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}
