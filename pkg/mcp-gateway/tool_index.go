package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServer     = "mcpgateway.server"
	metaKeyNativeName = "mcpgateway.native_name"
)

// toolIndex maps gateway-visible tool names to their originating server and
// native name. It is rebuilt one server at a time: Update replaces that
// server's slice of the index wholesale and reports what the embedded MCP
// server must remove and add.
type toolIndex struct {
	mu sync.RWMutex

	separator string
	prefixed  bool

	tools       map[string]toolTarget
	serverTools map[string][]string
}

type toolTarget struct {
	GatewayName string
	Server      string
	Native      string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newToolIndex(separator string, prefixed bool) *toolIndex {
	return &toolIndex{
		separator:   separator,
		prefixed:    prefixed,
		tools:       make(map[string]toolTarget),
		serverTools: make(map[string][]string),
	}
}

// Update replaces the server's registered tools. Skipped holds upstream tool
// names that collided with another server's registration under an unprefixed
// index.
func (f *toolIndex) Update(server string, upstream []*mcp.Tool) (removed []string, added []toolRegistration, skipped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeLocked(server)
	added = make([]toolRegistration, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, tool := range upstream {
		if tool == nil {
			continue
		}
		gatewayName := f.gatewayName(server, tool.Name)
		if owner, ok := f.tools[gatewayName]; ok && owner.Server != server {
			skipped = append(skipped, tool.Name)
			continue
		}
		target := toolTarget{GatewayName: gatewayName, Server: server, Native: tool.Name}
		f.tools[gatewayName] = target
		added = append(added, toolRegistration{Tool: cloneTool(tool, target), Target: target})
		names = append(names, gatewayName)
	}
	f.serverTools[server] = names
	return removed, added, skipped
}

// Remove drops every tool registered for the server and returns their gateway
// names.
func (f *toolIndex) Remove(server string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked(server)
}

// Target resolves a gateway-visible tool name.
func (f *toolIndex) Target(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *toolIndex) gatewayName(server, native string) string {
	if !f.prefixed {
		return native
	}
	return server + f.separator + native
}

func (f *toolIndex) removeLocked(server string) []string {
	names := f.serverTools[server]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, server)
	return append([]string(nil), names...)
}

func cloneTool(tool *mcp.Tool, target toolTarget) *mcp.Tool {
	clone := *tool
	clone.Name = target.GatewayName
	clone.Meta = withMeta(tool.Meta, map[string]any{
		metaKeyServer:     target.Server,
		metaKeyNativeName: target.Native,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extras))
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
