package tutor

import (
	"context"
	"strings"
	"sync"

	"github.com/vango-go/shikkha/pkg/core"
)

// CredentialState is the two-phase API key gate. A submitted key stays
// Pending until a verification call succeeds.
type CredentialState int

const (
	CredentialMissing CredentialState = iota
	CredentialPending
	CredentialConfirmed
)

func (s CredentialState) String() string {
	switch s {
	case CredentialMissing:
		return "missing"
	case CredentialPending:
		return "pending"
	case CredentialConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Credentials tracks the API key and its verification state.
type Credentials struct {
	mu    sync.Mutex
	key   string
	state CredentialState
	// gen increments on every Submit and Invalidate so a slow Confirm cannot
	// resurrect a key that was replaced or rejected meanwhile.
	gen uint64
}

// Submit stores key as Pending.
func (c *Credentials) Submit(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.NewInvalidRequestErrorWithParam("API key is empty", "api_key")
	}
	c.mu.Lock()
	c.key = key
	c.state = CredentialPending
	c.gen++
	c.mu.Unlock()
	return nil
}

// Confirm runs verify against the pending key and only marks it Confirmed
// on success. A rejected key returns the state to Missing; other failures
// leave it Pending so Confirm can be retried.
func (c *Credentials) Confirm(ctx context.Context, verify func(ctx context.Context, key string) error) error {
	c.mu.Lock()
	if c.state == CredentialMissing {
		c.mu.Unlock()
		return core.NewCredentialError("no API key selected", nil)
	}
	key, gen := c.key, c.gen
	c.mu.Unlock()

	err := verify(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.gen == gen && core.IsType(err, core.ErrCredential) {
			c.key = ""
			c.state = CredentialMissing
			c.gen++
		}
		return err
	}
	if c.gen != gen {
		return core.NewCredentialError("API key changed during verification", nil)
	}
	c.state = CredentialConfirmed
	return nil
}

// Invalidate forgets the key. It reports whether a key was held.
func (c *Credentials) Invalidate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.state != CredentialMissing
	c.key = ""
	c.state = CredentialMissing
	c.gen++
	return had
}

func (c *Credentials) State() CredentialState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the key only once it is confirmed.
func (c *Credentials) Key() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CredentialConfirmed {
		return "", false
	}
	return c.key, true
}
