package middleware

import (
	"fleetprobe/config"
	"fleetprobe/internal/database"
	"fleetprobe/internal/events"
	"fleetprobe/internal/logger"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Middleware struct {
	db       database.DB
	eventBus *events.EventBus
	config   config.Config
	log      logger.Logger
}

func New(db database.DB, eventBus *events.EventBus, cfg config.Config) Middleware {
	return Middleware{
		db:       db,
		eventBus: eventBus,
		config:   cfg,
		log:      logger.New("middleware"),
	}
}

// RequestLogger logs every request with its latency and status.
func (m Middleware) RequestLogger() fiber.Handler {
	log := m.log.Function("RequestLogger")

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latencyMs", time.Since(start).Milliseconds(),
		)

		return err
	}
}
