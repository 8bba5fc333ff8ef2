package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const denylistKeyPrefix = "auth:denylist:"

type noopDenylist struct{}

func (noopDenylist) Revoke(context.Context, string, time.Time) error { return nil }

func (noopDenylist) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func normalizeDenylist(d TokenDenylist) TokenDenylist {
	if d == nil {
		return noopDenylist{}
	}
	return d
}

// RedisDenylist stores revoked token ids until the token would have expired anyway
type RedisDenylist struct {
	client redis.UniversalClient
	now    Clock
}

var _ TokenDenylist = (*RedisDenylist)(nil)

// NewRedisDenylist returns a denylist backed by client
func NewRedisDenylist(client redis.UniversalClient, clock Clock) *RedisDenylist {
	if clock == nil {
		clock = time.Now
	}
	return &RedisDenylist{client: client, now: clock}
}

// Revoke marks tokenID as revoked until the given time
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}

	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}

	if err := d.client.Set(ctx, denylistKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke token")
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked
func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}

	err := d.client.Get(ctx, denylistKeyPrefix+tokenID).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token denylist")
	}
}
