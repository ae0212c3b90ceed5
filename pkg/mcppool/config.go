package mcppool

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTokenTTL = 2700 * time.Second
	minTokenTTL     = time.Second

	defaultAuthHeader = "Authorization"
	defaultAuthPrefix = "Bearer"
)

// AuthConfig describes how to obtain a bearer credential for a server by
// running an external command. The command prints the credential to standard
// output: either a bare token, or JSON (a single object or newline-delimited
// objects) carrying an access_token, token, or bearer field.
type AuthConfig struct {
	// Command is the executable that produces the credential.
	Command string
	// Args are passed on every invocation.
	Args []string
	// RefreshArgs are appended to Args only when a forced refresh is
	// requested, letting a server declare a cheap default fetch (reuse a
	// saved session) separate from a full re-authentication path.
	RefreshArgs []string
	// Env entries are overlaid onto the current process environment when the
	// command runs.
	Env map[string]string
	// Header names the request header that receives the credential.
	// Defaults to "Authorization".
	Header string
	// Prefix is prepended to the token as "<prefix> <token>". When nil the
	// prefix defaults to "Bearer"; a pointer to the empty string sends the
	// bare token.
	Prefix *string
	// TTL bounds how long a fetched token is reused before the command runs
	// again. Defaults to 45 minutes; values below one second are raised to
	// one second.
	TTL time.Duration
}

func (a *AuthConfig) headerName() string {
	if a.Header != "" {
		return a.Header
	}
	return defaultAuthHeader
}

func (a *AuthConfig) headerValue(token string) string {
	prefix := defaultAuthPrefix
	if a.Prefix != nil {
		prefix = *a.Prefix
	}
	if prefix == "" {
		return token
	}
	return prefix + " " + token
}

func (a *AuthConfig) ttl() time.Duration {
	switch {
	case a.TTL <= 0:
		return defaultTokenTTL
	case a.TTL < minTokenTTL:
		return minTokenTTL
	default:
		return a.TTL
	}
}

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Auth configures an external credential-refresh command. Only HTTP
	// servers consume it; validation rejects it on stdio configs.
	Auth *AuthConfig
}

// StdioServerConfig describes an MCP server launched as a subprocess speaking
// the protocol over its pipes.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over the Streamable HTTP
// transport.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint string
	// Headers are attached verbatim to every request.
	Headers http.Header
	// HTTPClient optionally replaces the default client used for requests.
	HTTPClient *http.Client
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// PoolOptions configures a Pool instance.
type PoolOptions struct {
	// ClientName is the implementation name advertised during the MCP
	// handshake. Defaults to "mcppool".
	ClientName string
	// ClientVersion is the semantic version reported to servers. Defaults to
	// "1.0.0".
	ClientVersion string
	// Logger receives structured diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}

func (o *PoolOptions) normalized() PoolOptions {
	opts := PoolOptions{}
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcppool"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// ValidateConfig checks the invariants of a server configuration: stdio
// servers need a command, HTTP servers need an endpoint, and a credential
// refresh config needs a refresh command and an HTTP transport.
func ValidateConfig(name string, cfg ServerConfig) error {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		if c.Command == "" {
			return fmt.Errorf("mcppool: command missing for %q", name)
		}
		if c.Auth != nil {
			return fmt.Errorf("mcppool: credential refresh requires an http transport for %q", name)
		}
	case *HTTPServerConfig:
		if c.Endpoint == "" {
			return fmt.Errorf("mcppool: endpoint missing for %q", name)
		}
		if c.Auth != nil && c.Auth.Command == "" {
			return fmt.Errorf("mcppool: credential refresh command missing for %q", name)
		}
	default:
		return fmt.Errorf("mcppool: unsupported config for %q", name)
	}
	return nil
}

// authCapable reports whether a server can recover from auth failures via a
// forced credential refresh. Only HTTP transports consume fetched tokens.
func authCapable(cfg ServerConfig) bool {
	if _, ok := cfg.(*HTTPServerConfig); !ok {
		return false
	}
	auth := cfg.base().Auth
	return auth != nil && auth.Command != ""
}
