package tokens

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache holds access tokens keyed by connection id. It belongs to one Manager
// and is never shared across processes or users.
type Cache struct {
	c *ristretto.Cache
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

func NewCache(maxConnections int64) (*Cache, error) {
	if maxConnections <= 0 {
		maxConnections = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxConnections * 10, // number of keys to track frequency of
		MaxCost:            maxConnections,
		BufferItems:        64, // number of keys per Get buffer
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize token cache: %w", err)
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(connectionID int64) (string, time.Time, bool) {
	v, ok := c.c.Get(connectionID)
	if !ok {
		return "", time.Time{}, false
	}
	tok, ok := v.(cachedToken)
	if !ok {
		return "", time.Time{}, false
	}
	return tok.accessToken, tok.expiresAt, true
}

// Set stores the token and waits for the write to become visible.
func (c *Cache) Set(connectionID int64, accessToken string, expiresAt time.Time) {
	c.c.Set(connectionID, cachedToken{accessToken: accessToken, expiresAt: expiresAt}, 1)
	c.c.Wait()
}

func (c *Cache) Delete(connectionID int64) {
	c.c.Del(connectionID)
}

func (c *Cache) Close() {
	c.c.Close()
}
