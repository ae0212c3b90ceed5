package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/mcpware/mcppool/pkg/mcppool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Gateway fronts every server held by an mcppool Pool with a single
// Streamable MCP server. Call SyncAll after the pool is connected to publish
// the upstream tools; resyncing a server replaces its slice of the catalog
// wholesale.
type Gateway struct {
	pool   *mcppool.Pool
	opts   Options
	logger *zap.Logger

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// New builds a Gateway over the pool. No synchronization happens here: the
// pool's servers may not be connected yet, so the caller decides when to run
// SyncAll.
func New(pool *mcppool.Pool, opts *Options) (*Gateway, error) {
	if pool == nil {
		return nil, fmt.Errorf("mcpgateway: pool is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		pool:   pool,
		opts:   options,
		logger: options.Logger,
		tools:  newToolIndex(options.Separator, options.prefixEnabled()),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ListenAndServe runs an HTTP server until the provided context is cancelled
// or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		srv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll refreshes the tool catalog for every pool server and returns the
// last failure, if any. A server that fails to list keeps serving its
// previously published tools.
func (g *Gateway) SyncAll(ctx context.Context) error {
	var lastErr error
	for _, server := range g.pool.ListServers() {
		if err := g.SyncServer(ctx, server); err != nil {
			lastErr = err
			g.logger.Warn("tool sync failed",
				zap.String("server", server), zap.Error(err))
		}
	}
	return lastErr
}

// SyncServer refreshes a single server's slice of the tool catalog.
func (g *Gateway) SyncServer(ctx context.Context, server string) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()

	res, err := g.pool.ListTools(ctx, server)
	if err != nil {
		return err
	}
	var tools []*mcp.Tool
	if res != nil {
		tools = res.Tools
	}
	removed, added, skipped := g.tools.Update(server, tools)
	for _, name := range skipped {
		g.logger.Warn("tool name collision, skipping",
			zap.String("server", server), zap.String("tool", name))
	}
	g.applyCatalog(removed, added)
	g.logger.Debug("tool catalog updated",
		zap.String("server", server),
		zap.Int("removed", len(removed)),
		zap.Int("added", len(added)))
	return nil
}

// DetachServer withdraws a server's tools from the catalog, typically after
// the pool closed its session.
func (g *Gateway) DetachServer(server string) {
	g.applyCatalog(g.tools.Remove(server), nil)
}

func (g *Gateway) applyCatalog(removed []string, added []toolRegistration) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(nil)
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.pool.CallTool(ctx, target.Server, target.Native, args)
	}
}

func (g *Gateway) mountHandler() http.Handler {
	var handler http.Handler = g.streamHandler
	path := g.opts.Path
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		mux := http.NewServeMux()
		mux.Handle(path, g.streamHandler)
		if !strings.HasSuffix(path, "/") {
			mux.Handle(path+"/", g.streamHandler)
		}
		handler = mux
	}
	if g.opts.CORS != nil {
		handler = cors.New(*g.opts.CORS).Handler(handler)
	}
	return handler
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}
