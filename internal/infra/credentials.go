package infra

import "sync"

// StaticCredentials holds an externally supplied bearer token.
// The token can be rotated at runtime; readers always see the latest value.
type StaticCredentials struct {
	mu    sync.RWMutex
	token string
}

// NewStaticCredentials creates a credential source for token.
func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{token: token}
}

// Token returns the current bearer token.
func (c *StaticCredentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *StaticCredentials) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}
