package mcppool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// toolSession is the slice of *mcp.ClientSession the pool consumes; tests
// substitute fakes through the dial seam.
type toolSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Wait() error
	Close() error
}

// Pool orchestrates one session per configured MCP server.
type Pool struct {
	mu sync.RWMutex

	options PoolOptions
	states  map[string]*serverState
	creds   *credentialSource
	logger  *zap.Logger

	// dial establishes a single session attempt; replaced in tests.
	dial func(ctx context.Context, name string, cfg ServerConfig, forceRefresh bool) (toolSession, error)
}

// serverState holds one server's config and registry entry. Its own mutex
// serializes connect/reconnect/close for that name so concurrent recoveries
// cannot race an entry into the registry while leaking the loser's transport;
// session, healthy, and gen are read and written under the pool mutex.
type serverState struct {
	mu     sync.Mutex
	config ServerConfig

	session toolSession
	healthy bool
	gen     uint64
}

// NewPool constructs a Pool with the provided server configurations. Configs
// are registered, not dialed; call Connect or ConnectAll to establish
// sessions.
func NewPool(cfg map[string]ServerConfig, opts *PoolOptions) *Pool {
	options := opts.normalized()
	p := &Pool{
		options: options,
		states:  make(map[string]*serverState, len(cfg)),
		creds:   newCredentialSource(options.Logger),
		logger:  options.Logger,
	}
	p.dial = p.dialServer
	for name, sc := range cfg {
		p.states[name] = &serverState{config: sc}
	}
	return p
}

// Register adds (or replaces) a server configuration after validation. An
// existing session for the name keeps running until the next reconnect.
func (p *Pool) Register(name string, cfg ServerConfig) error {
	if err := ValidateConfig(name, cfg); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.states[name]; ok {
		state.config = cfg
		return nil
	}
	p.states[name] = &serverState{config: cfg}
	return nil
}

// ListServers returns known server names in sorted order.
func (p *Pool) ListServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.states))
	for name := range p.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasServer reports whether a server name is known.
func (p *Pool) HasServer(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.states[name]
	return ok
}

// Healthy reports whether a live, healthy session exists for the server.
// Unknown or disconnected servers report false, as does a server whose stdio
// transport signalled failure since the last connect.
func (p *Pool) Healthy(name string) bool {
	state, ok := p.stateFor(name)
	if !ok {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return state.session != nil && state.healthy
}

// Connect establishes a session for the named server, replacing any existing
// one. A connect failure classified as an auth error on an auth-capable
// server is retried once with a forced credential refresh; any other failure,
// or a failure on the retried attempt, is returned unchanged.
func (p *Pool) Connect(ctx context.Context, name string) error {
	state, ok := p.stateFor(name)
	if !ok {
		return unknownServer(name)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	_, err := p.installSession(ctx, name, state, false)
	return err
}

// ConnectAll dials every configured server concurrently and returns the first
// failure, if any. Each server connects independently.
func (p *Pool) ConnectAll(ctx context.Context) error {
	var g errgroup.Group
	for _, name := range p.ListServers() {
		g.Go(func() error {
			if err := p.Connect(ctx, name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close tears down the named server's session, best-effort. Close errors are
// swallowed; closing an unknown or already-closed server is a no-op.
func (p *Pool) Close(name string) {
	state, ok := p.stateFor(name)
	if !ok {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if session := p.uninstallSession(state); session != nil {
		_ = session.Close()
		p.logger.Info("session closed", zap.String("server", name))
	}
}

// CloseAll closes every registered server. Closes run concurrently so one
// slow or failing transport cannot block the others.
func (p *Pool) CloseAll() {
	var wg sync.WaitGroup
	for _, name := range p.ListServers() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p.Close(name)
		}(name)
	}
	wg.Wait()
}

// ListTools retrieves the server's tools, applying the one-shot recovery
// protocol on failure.
func (p *Pool) ListTools(ctx context.Context, name string) (*mcp.ListToolsResult, error) {
	var res *mcp.ListToolsResult
	err := p.do(ctx, name, func(ctx context.Context, session toolSession) error {
		r, err := session.ListTools(ctx, nil)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CallTool invokes a tool on the named server, applying the one-shot recovery
// protocol on failure.
func (p *Pool) CallTool(ctx context.Context, name, tool string, args any) (*mcp.CallToolResult, error) {
	if tool == "" {
		return nil, fmt.Errorf("mcppool: tool name is required for %q", name)
	}
	var res *mcp.CallToolResult
	err := p.do(ctx, name, func(ctx context.Context, session toolSession) error {
		r, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// do runs op against the server's session and applies at most one recovery:
// auth errors on auth-capable servers reconnect with a forced credential
// refresh; connection errors, or an entry flagged unhealthy by the stdio
// watcher, reconnect plainly. The retried operation's failure, and any
// failure during recovery itself, propagate unchanged.
func (p *Pool) do(ctx context.Context, name string, op func(context.Context, toolSession) error) error {
	state, ok := p.stateFor(name)
	if !ok {
		return unknownServer(name)
	}
	p.mu.RLock()
	session := state.session
	healthy := state.healthy
	p.mu.RUnlock()
	if session == nil {
		return notConnected(name)
	}

	err := op(ctx, session)
	if err == nil {
		return nil
	}

	var forceRefresh bool
	switch {
	case authCapable(state.config) && IsAuthError(err):
		forceRefresh = true
		p.logger.Info("auth-classified failure, reconnecting with forced credential refresh",
			zap.String("server", name), zap.Error(err))
	case !healthy || IsConnectionError(err):
		p.logger.Info("connection-classified failure, reconnecting",
			zap.String("server", name), zap.Bool("healthy", healthy), zap.Error(err))
	default:
		return err
	}

	state.mu.Lock()
	retrySession, rerr := p.installSession(ctx, name, state, forceRefresh)
	state.mu.Unlock()
	if rerr != nil {
		return rerr
	}
	return op(ctx, retrySession)
}

// installSession replaces the registry entry wholesale: the previous session
// is closed first (best-effort), then a fresh one is dialed and installed.
// Caller holds state.mu.
func (p *Pool) installSession(ctx context.Context, name string, state *serverState, forceRefresh bool) (toolSession, error) {
	if old := p.uninstallSession(state); old != nil {
		_ = old.Close()
	}

	session, err := p.connectSession(ctx, name, state.config, forceRefresh)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	state.session = session
	state.healthy = true
	state.gen++
	gen := state.gen
	p.mu.Unlock()

	if IsStdio(state.config) {
		go p.watch(name, state, gen, session)
	}
	p.logger.Info("session established",
		zap.String("server", name),
		zap.String("transport", string(TransportOf(state.config))),
		zap.Bool("forced_refresh", forceRefresh))
	return session, nil
}

// uninstallSession clears the registry entry and returns the displaced
// session, if any. Bumping gen detaches the old stdio watcher. Caller holds
// state.mu.
func (p *Pool) uninstallSession(state *serverState) toolSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	session := state.session
	state.session = nil
	state.healthy = false
	state.gen++
	return session
}

// connectSession performs one connect, retrying once with a forced credential
// refresh when the failure classifies as an auth error on an auth-capable
// server.
func (p *Pool) connectSession(ctx context.Context, name string, cfg ServerConfig, forceRefresh bool) (toolSession, error) {
	session, err := p.dial(ctx, name, cfg, forceRefresh)
	if err == nil {
		return session, nil
	}
	if !forceRefresh && authCapable(cfg) && IsAuthError(err) {
		p.logger.Info("connect failed with auth-classified error, retrying with forced credential refresh",
			zap.String("server", name), zap.Error(err))
		return p.dial(ctx, name, cfg, true)
	}
	return nil, err
}

// dialServer is the production dial: build the transport, then establish a
// fresh protocol session over it. A failed establish tears the transport down
// inside the SDK.
func (p *Pool) dialServer(ctx context.Context, name string, cfg ServerConfig, forceRefresh bool) (toolSession, error) {
	transport, err := p.buildTransport(ctx, name, cfg, forceRefresh)
	if err != nil {
		return nil, err
	}
	impl := &mcp.Implementation{Name: p.options.ClientName, Version: p.options.ClientVersion}
	client := mcp.NewClient(impl, nil)
	return client.Connect(ctx, transport, nil)
}

// watch marks the entry unhealthy when a stdio transport dies underneath its
// session. gen guards against flagging a successor entry.
func (p *Pool) watch(name string, state *serverState, gen uint64, session toolSession) {
	err := session.Wait()
	p.mu.Lock()
	current := state.gen == gen
	if current {
		state.healthy = false
	}
	p.mu.Unlock()
	if current {
		p.logger.Warn("stdio transport terminated, entry marked unhealthy",
			zap.String("server", name), zap.Error(err))
	}
}

func (p *Pool) stateFor(name string) (*serverState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.states[name]
	return state, ok
}
