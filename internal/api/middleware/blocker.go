package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IPBlocker keeps temporary IP blocks in Redis. Each block is a key that
// expires with the block.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// IsBlocked reports whether ip is currently blocked. Redis errors count as
// not blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks ip for d, recording reason as the key's value.
func (b *IPBlocker) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, d).Err()
}

// Unblock lifts a block early.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) error {
	return b.client.Del(ctx, blockKey(ip)).Err()
}
