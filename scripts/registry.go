package scripts

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
)

// Conn is the slice of the store the registry needs: script upload and
// invocation by handle.
type Conn interface {
	ScriptLoad(ctx context.Context, src string) (string, error)
	EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error)
}

var (
	// ErrNoScript tags an invocation failure caused by the server no longer
	// knowing the handle (script cache cleared). Store implementations wrap
	// their NOSCRIPT responses with it.
	ErrNoScript = errors.New("script handle unknown to server")
	// ErrNotReady is returned when a handle is requested before Register ran.
	ErrNotReady = errors.New("scripts not registered; call Register during initialization")
	// ErrPersistent marks a NOSCRIPT failure that survived a catalog reload.
	// It indicates a server-side problem and is never retried.
	ErrPersistent = errors.New("NOSCRIPT persisted after re-registering scripts")
)

// The handle cache is the only process-wide mutable shared state in atomix.
// It is read by every scripted operation and rewritten wholesale by Register.
var (
	mu   sync.RWMutex
	shas = map[string]string{}
)

// Register uploads the whole catalog and replaces all cached handles.
// Called once during initialization and again by the recovery protocol;
// recovery is coarse grained, all entries reload together.
func Register(ctx context.Context, conn Conn) error {
	loaded := make(map[string]string, len(catalog))
	for name, src := range catalog {
		sha, err := conn.ScriptLoad(ctx, src)
		if err != nil {
			return fmt.Errorf("loading script %s: %w", name, err)
		}
		loaded[name] = sha
	}
	mu.Lock()
	shas = loaded
	mu.Unlock()
	return nil
}

// Sha returns the cached handle for a logical script name.
func Sha(name string) (string, error) {
	mu.RLock()
	sha, ok := shas[name]
	mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("script %s: %w", name, ErrNotReady)
	}
	return sha, nil
}

// Run invokes a script by its cached handle. On the first NOSCRIPT failure it
// re-uploads the full catalog and retries once with the refreshed handle; a
// second NOSCRIPT is surfaced as ErrPersistent.
func Run(ctx context.Context, conn Conn, name string, keys []string, args ...any) (any, error) {
	sha, err := Sha(name)
	if err != nil {
		return nil, err
	}
	res, err := conn.EvalSha(ctx, sha, keys, args...)
	if err == nil || !errors.Is(err, ErrNoScript) {
		return res, err
	}

	log.Warn("script cache evicted on server, re-registering catalog", "script", name)
	if err := Register(ctx, conn); err != nil {
		return nil, err
	}
	sha, err = Sha(name)
	if err != nil {
		return nil, err
	}
	res, err = conn.EvalSha(ctx, sha, keys, args...)
	if err != nil && errors.Is(err, ErrNoScript) {
		return nil, fmt.Errorf("script %s: %w", name, ErrPersistent)
	}
	return res, err
}
