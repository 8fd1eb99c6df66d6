package infrastructure

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const defaultTokenSafetyMargin = 60 * time.Second

// Authenticator exchanges credentials for a fresh token.
type Authenticator interface {
	Authenticate(ctx context.Context) (entities.AuthToken, error)
}

// TokenCache holds at most one provider token and refreshes it on demand.
// Concurrent refreshes collapse into a single Authenticate call.
type TokenCache struct {
	auth   Authenticator
	margin time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	token *entities.AuthToken

	group singleflight.Group
}

func NewTokenCache(auth Authenticator, margin time.Duration) (*TokenCache, error) {
	if auth == nil {
		return nil, errors.New("token cache: authenticator must not be nil")
	}
	if margin < 0 {
		margin = defaultTokenSafetyMargin
	}
	return &TokenCache{
		auth:   auth,
		margin: margin,
		now:    time.Now,
	}, nil
}

func (c *TokenCache) cached() (entities.AuthToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || !c.token.ValidAt(c.now(), c.margin) {
		return entities.AuthToken{}, false
	}
	return *c.token, true
}

// GetValid returns the held token, refreshing it first when it is absent or
// about to expire.
func (c *TokenCache) GetValid(ctx context.Context) (entities.AuthToken, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		// The refresh serves every waiter, so one caller giving up must not abort it.
		fresh, err := c.auth.Authenticate(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = &fresh
		c.mu.Unlock()
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return entities.AuthToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return entities.AuthToken{}, res.Err
		}
		return res.Val.(entities.AuthToken), nil
	}
}

// Invalidate drops the held token when it is still the rejected one, so the
// next GetValid refreshes. A token another caller already refreshed is kept.
func (c *TokenCache) Invalidate(rejected string) {
	c.mu.Lock()
	if c.token != nil && c.token.Value == rejected {
		c.token = nil
	}
	c.mu.Unlock()
}
