// Package cache provides the Redis-backed access-token denylist. When a
// refresh token is revoked, the jti of its paired access token is denied
// until that access token would have expired anyway, so revocation takes
// effect immediately instead of at JWT expiry.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const denyKeyPrefix = "deny:jti:"

// Denylist stores denied access-token jtis with a TTL. A nil *Denylist or a
// Denylist without a client is a no-op: the deployment then relies on the
// short access-token lifetime alone.
type Denylist struct {
	client *redis.Client
}

func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client}
}

// Deny marks the jti as revoked for the remaining ttl.
func (d *Denylist) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	if d == nil || d.client == nil || jti == "" {
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, denyKeyPrefix+jti, "1", ttl).Err()
}

// IsDenied reports whether the jti has been revoked.
func (d *Denylist) IsDenied(ctx context.Context, jti string) (bool, error) {
	if d == nil || d.client == nil || jti == "" {
		return false, nil
	}
	if err := d.client.Get(ctx, denyKeyPrefix+jti).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
