package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/controllers"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/cache"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/env"
)

// limiterRedisDB keeps limiter counters away from the job queue (DB 0).
const limiterRedisDB = 2

type WebhookRouter struct {
	controller *controllers.WebhookController
	storage    fiber.Storage
	maxPerMin  int
}

// NewWebhookRouter builds the intake routes. A nil storage keeps limiter
// counters in memory.
func NewWebhookRouter(controller *controllers.WebhookController, storage fiber.Storage) *WebhookRouter {
	return &WebhookRouter{
		controller: controller,
		storage:    storage,
		maxPerMin:  env.GetEnvInt("WEBHOOK_RATE_LIMIT", 120),
	}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)

	cfg := limiter.Config{
		Max:        h.maxPerMin,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}
	if h.storage != nil {
		cfg.Storage = h.storage
	}

	woo := app.Group("/webhooks/woocommerce", limiter.New(cfg))
	woo.Post("/orders", h.controller.HandleWooCommerceOrder)
	woo.Post("/subscriptions", h.controller.HandleWooCommerceSubscription)
}

// NewLimiterStorage shares rate limit counters through the cache Redis.
func NewLimiterStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterRedisDB,
		Reset:    false,
	})
}
