// Package healthapi exposes the server's only HTTP surface: a liveness
// check and a metrics snapshot, on a port separate from the TCP chat
// listener. Grounded on internal/api/health.go (component
// ping, JSON status envelope) and cmd/uncord/main.go's fiber.New/Listen
// wiring, generalized from pinging Postgres/Valkey connection handles to
// this server's own in-process state (live connection count, room counts, the
// rate limiter's tracked-peer count).
package healthapi

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/httputil"
)

// Stats reports the live connection count for the metrics endpoint and is
// implemented by *gateway.Hub; RoomCounter (*manager.Manager) and
// PeerCounter (*ratelimit.Limiter) cover the rest. This package only
// depends on these narrow interfaces.
type Stats interface {
	ConnCount() int
}

// RoomCounter reports how many of each room kind currently exist.
type RoomCounter interface {
	PrivateRoomCount() int
	GroupRoomCount() int
}

// PeerCounter reports the rate limiter's tracked-peer table size.
type PeerCounter interface {
	PeerCount() int
}

// App builds the fiber.App serving /healthz and /metrics.
type App struct {
	hub   Stats
	rooms RoomCounter
	peers PeerCounter
	rdb   *redis.Client
	log   zerolog.Logger
}

// New wires an App from the live components it reports on. rdb may be nil
// when the fan-out layer isn't configured, in which case /healthz reports
// it as "disabled" rather than pinging a connection that doesn't exist.
func New(hub Stats, rooms RoomCounter, peers PeerCounter, rdb *redis.Client, logger zerolog.Logger) *fiber.App {
	a := &App{hub: hub, rooms: rooms, peers: peers, rdb: rdb, log: logger.With().Str("component", "healthapi").Logger()}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(a.log))
	app.Get("/healthz", a.healthz)
	app.Get("/metrics", a.metrics)
	return app
}

func (a *App) healthz(c fiber.Ctx) error {
	redisStatus := "disabled"
	if a.rdb != nil {
		redisStatus = "ok"
		if err := a.rdb.Ping(c.Context()).Err(); err != nil {
			redisStatus = "unavailable"
		}
	}

	status := fiber.StatusOK
	overall := "ok"
	if redisStatus == "unavailable" {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"redis":  redisStatus,
	})
}

func (a *App) metrics(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connections":      a.hub.ConnCount(),
		"private_rooms":    a.rooms.PrivateRoomCount(),
		"group_rooms":      a.rooms.GroupRoomCount(),
		"rate_limit_peers": a.peers.PeerCount(),
	})
}
