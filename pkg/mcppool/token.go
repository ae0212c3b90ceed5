package mcppool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	fetchTimeout   = 30 * time.Second
	maxFetchOutput = 1 << 20
)

var errOutputLimit = errors.New("output exceeds 1MB cap")

// tokenFields are consulted in priority order when a line of refresh-command
// output parses as a JSON object.
var tokenFields = []string{"access_token", "token", "bearer"}

type cachedToken struct {
	token     string
	fetchedAt time.Time
}

// credentialSource runs credential-refresh commands and caches their output
// per server. The run and now seams exist for tests.
type credentialSource struct {
	mu     sync.Mutex
	cache  map[string]cachedToken
	run    func(ctx context.Context, auth *AuthConfig, force bool) (stdout, stderr string, err error)
	now    func() time.Time
	logger *zap.Logger
}

func newCredentialSource(logger *zap.Logger) *credentialSource {
	return &credentialSource{
		cache:  make(map[string]cachedToken),
		run:    runCredentialCommand,
		now:    time.Now,
		logger: logger,
	}
}

// Token returns a credential for the named server, reusing the cached value
// while it is fresh unless force is set. A successful fetch overwrites the
// cache entry.
func (s *credentialSource) Token(ctx context.Context, name string, auth *AuthConfig, force bool) (string, error) {
	s.mu.Lock()
	if entry, ok := s.cache[name]; ok && !force && s.now().Sub(entry.fetchedAt) < auth.ttl() {
		s.mu.Unlock()
		return entry.token, nil
	}
	s.mu.Unlock()

	s.logger.Debug("running credential refresh command",
		zap.String("server", name),
		zap.String("command", auth.Command),
		zap.Bool("force", force))

	stdout, stderr, err := s.run(ctx, auth, force)
	if err != nil {
		return "", &CommandError{Command: auth.Command, Stderr: stderr, Err: err}
	}
	token, err := extractToken(stdout)
	if err != nil {
		return "", fmt.Errorf("mcppool: credential command %q: %w", auth.Command, err)
	}

	s.mu.Lock()
	s.cache[name] = cachedToken{token: token, fetchedAt: s.now()}
	s.mu.Unlock()
	return token, nil
}

// commandArgs composes the refresh command's argument list: RefreshArgs are
// appended only on a forced refresh.
func commandArgs(auth *AuthConfig, force bool) []string {
	if !force || len(auth.RefreshArgs) == 0 {
		return auth.Args
	}
	args := make([]string, 0, len(auth.Args)+len(auth.RefreshArgs))
	args = append(args, auth.Args...)
	args = append(args, auth.RefreshArgs...)
	return args
}

func runCredentialCommand(ctx context.Context, auth *AuthConfig, force bool) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, auth.Command, commandArgs(auth, force)...)
	if len(auth.Env) > 0 {
		cmd.Env = overlayEnv(auth.Env)
	}
	stdout := &cappedBuffer{limit: maxFetchOutput}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w after %s", ctx.Err(), fetchTimeout)
		}
		return "", stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

// extractToken parses refresh-command output. Precedence is deliberate (see
// DESIGN.md): the last JSON-shaped line wins over earlier ones because
// refresh commands commonly log progress lines before the final token line.
func extractToken(output string) (string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", ErrEmptyTokenOutput
	}
	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if token, ok := tokenFromJSON(lines[i]); ok {
			return token, nil
		}
	}
	if token, ok := tokenFromJSON(trimmed); ok {
		return token, nil
	}
	return lines[len(lines)-1], nil
}

func tokenFromJSON(s string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return "", false
	}
	for _, field := range tokenFields {
		if value, ok := obj[field].(string); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// overlayEnv appends the configured variables to the current process
// environment; os/exec resolves duplicate keys to the last occurrence.
func overlayEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedBuffer fails the write that would push it past limit, which surfaces
// through exec.Cmd.Run as the command's error.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string { return b.buf.String() }
