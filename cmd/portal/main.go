package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/controllers"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/billing"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/cache"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/database"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/env"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/jobqueue"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/mail"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	svc := billing.NewServiceFromDB(database.GetDB(),
		billing.WithNotifier(mail.NewInviteNotifier(nil)),
		billing.WithProductPlanOverrides(billing.ParseProductPlanMap(env.GetEnv("WOO_PRODUCT_PLAN_MAP", ""))),
	)

	manager := jobqueue.InitManager(cache.GetClient(), svc)
	manager.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): password,
			},
		}), monitor.New())
	}

	// ROUTER
	webhooks := controllers.NewWebhookController(svc, manager.GetQueue())
	router.InstallRouter(app, router.NewWebhookRouter(webhooks, router.NewLimiterStorage()))

	return app, manager
}
