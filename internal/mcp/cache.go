package mcp

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ResponseCache memoizes rendered read responses per scope. It is cleared for
// a scope whenever a new generation of that scope is published.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any // scope key -> query key -> response
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[string]map[string]any)}
}

func (c *ResponseCache) Get(scopeKey, queryKey string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[scopeKey][queryKey]
	return v, ok
}

func (c *ResponseCache) Put(scopeKey, queryKey string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[scopeKey]
	if !ok {
		m = make(map[string]any)
		c.entries[scopeKey] = m
	}
	m[queryKey] = v
}

// Invalidate drops every cached response of the scope.
func (c *ResponseCache) Invalidate(scopeKey string) {
	c.mu.Lock()
	n := len(c.entries[scopeKey])
	delete(c.entries, scopeKey)
	c.mu.Unlock()
	if n > 0 {
		log.Debug().Str("scope", scopeKey).Int("entries", n).Int("remaining", c.Len()).Msg("Response cache invalidated")
	}
}

// Len returns the number of cached responses across scopes.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.entries {
		n += len(m)
	}
	return n
}
