package mcppool

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is a parsed pool configuration document.
type File struct {
	// ToolPrefix is a pool-wide flag, default true, consumed by the gateway
	// to decide whether exposed tool names carry their server's prefix.
	ToolPrefix bool
	Servers    map[string]ServerConfig
}

type fileDoc struct {
	ToolPrefix *bool                 `yaml:"toolPrefix" json:"toolPrefix"`
	Servers    map[string]fileServer `yaml:"servers" json:"servers"`
}

type fileServer struct {
	Transport string            `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command" json:"command"`
	Args      []string          `yaml:"args" json:"args"`
	Env       map[string]string `yaml:"env" json:"env"`
	URL       string            `yaml:"url" json:"url"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
	Auth      *fileAuth         `yaml:"auth" json:"auth"`
}

type fileAuth struct {
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	RefreshArgs []string          `yaml:"refreshArgs" json:"refreshArgs"`
	Env         map[string]string `yaml:"env" json:"env"`
	Header      string            `yaml:"header" json:"header"`
	Prefix      *string           `yaml:"prefix" json:"prefix"`
	TTLSeconds  int               `yaml:"ttlSeconds" json:"ttlSeconds"`
}

// LoadFile reads a YAML (or JSON) pool configuration from disk. References of
// the form $VAR or ${VAR} are replaced with environment values before
// decoding.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcppool: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a configuration document.
func ParseConfig(data []byte) (*File, error) {
	expanded := os.Expand(string(data), os.Getenv)
	var doc fileDoc
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("mcppool: parse config: %w", err)
	}
	out := &File{
		ToolPrefix: doc.ToolPrefix == nil || *doc.ToolPrefix,
		Servers:    make(map[string]ServerConfig, len(doc.Servers)),
	}
	for name, fs := range doc.Servers {
		cfg, err := fs.serverConfig(name)
		if err != nil {
			return nil, err
		}
		if err := ValidateConfig(name, cfg); err != nil {
			return nil, err
		}
		out.Servers[name] = cfg
	}
	return out, nil
}

func (fs fileServer) serverConfig(name string) (ServerConfig, error) {
	kind := TransportKind(fs.Transport)
	if kind == "" {
		// Infer from shape, matching common MCP config files that omit an
		// explicit transport field.
		switch {
		case fs.URL != "":
			kind = TransportHTTP
		case fs.Command != "":
			kind = TransportStdio
		default:
			return nil, fmt.Errorf("mcppool: server %q declares neither command nor url", name)
		}
	}

	base := BaseServerConfig{Auth: fs.Auth.authConfig()}
	switch kind {
	case TransportStdio:
		return &StdioServerConfig{
			BaseServerConfig: base,
			Command:          fs.Command,
			Args:             fs.Args,
			Env:              fs.Env,
		}, nil
	case TransportHTTP:
		return &HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         fs.URL,
			Headers:          headerFromMap(fs.Headers),
		}, nil
	default:
		return nil, fmt.Errorf("mcppool: server %q has unsupported transport %q", name, fs.Transport)
	}
}

func (fa *fileAuth) authConfig() *AuthConfig {
	if fa == nil {
		return nil
	}
	return &AuthConfig{
		Command:     fa.Command,
		Args:        fa.Args,
		RefreshArgs: fa.RefreshArgs,
		Env:         fa.Env,
		Header:      fa.Header,
		Prefix:      fa.Prefix,
		TTL:         time.Duration(fa.TTLSeconds) * time.Second,
	}
}

func headerFromMap(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
