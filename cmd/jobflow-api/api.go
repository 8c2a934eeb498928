// Package main provides the jobflow HTTP API server.
package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/jobflow/pkg/cmd"
	"github.com/dukex/jobflow/pkg/web"
)

type API struct {
	logger    *slog.Logger
	workflows web.Workflows
	health    web.HealthChecker
	validate  *validator.Validate
}

func NewAPI(logger *slog.Logger, workflows web.Workflows, health web.HealthChecker) *API {
	return &API{
		logger:    logger,
		workflows: workflows,
		health:    health,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.health, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("jobflow API")
	})

	handlers.Register(app)

	return app
}

// Start serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		err := app.ShutdownWithTimeout(cmd.WaitTimeout)
		if err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
