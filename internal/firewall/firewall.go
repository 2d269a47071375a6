// Package firewall maintains the origin blocklist enforced at the edge of
// the request pipeline.
package firewall

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
)

// Sink receives block decisions from the detection engine and answers
// blocklist lookups for the middleware.
type Sink interface {
	// Block adds the origin to the blocklist for the given duration.
	Block(ctx context.Context, ip string, ttl time.Duration) error
	// Unblock removes the origin from the blocklist.
	Unblock(ctx context.Context, ip string) error
	// Blocked reports whether the origin is currently blocked.
	Blocked(ctx context.Context, ip string) (bool, error)
}

// RedisSink stores blocked origins as expiring Redis keys so blocks are
// shared across replicas and lapse on their own.
type RedisSink struct {
	rdb    *database.Redis
	prefix string
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(rdb *database.Redis) *RedisSink {
	return &RedisSink{rdb: rdb, prefix: "blocked"}
}

func (s *RedisSink) key(ip string) string {
	return fmt.Sprintf("%s:%s", s.prefix, ip)
}

// Block implements Sink.
func (s *RedisSink) Block(ctx context.Context, ip string, ttl time.Duration) error {
	if err := s.rdb.SetWithTTL(ctx, s.key(ip), "1", ttl); err != nil {
		return fmt.Errorf("failed to block origin %s: %w", ip, err)
	}
	return nil
}

// Unblock implements Sink.
func (s *RedisSink) Unblock(ctx context.Context, ip string) error {
	if err := s.rdb.Delete(ctx, s.key(ip)); err != nil {
		return fmt.Errorf("failed to unblock origin %s: %w", ip, err)
	}
	return nil
}

// Blocked implements Sink.
func (s *RedisSink) Blocked(ctx context.Context, ip string) (bool, error) {
	blocked, err := s.rdb.Exists(ctx, s.key(ip))
	if err != nil {
		return false, fmt.Errorf("failed to check origin %s: %w", ip, err)
	}
	return blocked, nil
}
