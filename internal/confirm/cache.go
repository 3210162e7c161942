package confirm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// approvalCache remembers "always" decisions for the session, keyed by
// tool name and operation.
type approvalCache struct {
	mu    sync.RWMutex
	cache map[string]struct{}
}

func newApprovalCache() *approvalCache {
	return &approvalCache{cache: make(map[string]struct{})}
}

func cacheKey(toolName, operation string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *approvalCache) has(toolName, operation string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[cacheKey(toolName, operation)]
	return ok
}

func (c *approvalCache) add(toolName, operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKey(toolName, operation)] = struct{}{}
}

// Allowlist matches shell commands against glob patterns such as "git *".
type Allowlist struct {
	patterns []string
	globs    []glob.Glob
}

// NewAllowlist compiles patterns; blank patterns are ignored.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	a := &Allowlist{}
	var errs []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", p, err))
			continue
		}
		a.patterns = append(a.patterns, p)
		a.globs = append(a.globs, g)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid shell patterns: %s", strings.Join(errs, "; "))
	}
	return a, nil
}

// Match reports whether command matches any pattern.
func (a *Allowlist) Match(command string) bool {
	if a == nil {
		return false
	}
	command = strings.TrimSpace(command)
	for _, g := range a.globs {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled pattern strings.
func (a *Allowlist) Patterns() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.patterns...)
}
