// Package valkey connects the go-redis client this server's fan-out layer
// (internal/fanout) and health check (internal/healthapi) share a single
// handle to.
package valkey

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Connect parses the Valkey URL, connects, and pings to verify the connection. The valkey:// scheme is replaced with
// redis:// for go-redis compatibility. The dialTimeout parameter controls how long the client waits when establishing
// new connections.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration, logger zerolog.Logger) (*redis.Client, error) {
	log := logger.With().Str("component", "valkey").Logger()

	// go-redis only understands the redis:// scheme, so replace valkey:// (case-insensitive) before parsing.
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	log.Info().Str("addr", opts.Addr).Dur("dial_timeout", dialTimeout).Msg("connecting to valkey")

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("valkey ping failed")
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("valkey connected")
	return client, nil
}
