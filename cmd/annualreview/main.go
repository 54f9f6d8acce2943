package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/app/controllers"
	"github.com/Skeyelab/annualreview.com/app/repository"
	"github.com/Skeyelab/annualreview.com/internal/pkg/cache"
	"github.com/Skeyelab/annualreview.com/internal/pkg/database"
	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
	"github.com/Skeyelab/annualreview.com/internal/pkg/gate"
	"github.com/Skeyelab/annualreview.com/internal/pkg/generation"
	"github.com/Skeyelab/annualreview.com/internal/pkg/jobqueue"
	"github.com/Skeyelab/annualreview.com/internal/pkg/ledger"
	"github.com/Skeyelab/annualreview.com/internal/pkg/payments"
	"github.com/Skeyelab/annualreview.com/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	cache.SetupCache()

	app, manager := NewApplication(db)

	// graceful shutdown: stop taking traffic, drain the queue, close the DB
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		if err := app.Shutdown(); err != nil {
			log.Printf("server shutdown failed: %v", err)
		}
	}()

	manager.Start()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("server stopped: %v", err)
	}

	manager.Stop()
	if err := database.Close(db); err != nil {
		log.Printf("database close failed: %v", err)
	}
}

// NewApplication wires all services and returns the configured fiber app
// together with the job queue manager the caller owns.
func NewApplication(db *gorm.DB) (*fiber.App, *jobqueue.Manager) {
	repos := repository.NewFactory(db).GetRepositories()

	ledgerService := ledger.NewServiceFromDB(db)
	stripeClient := payments.NewStripeClientFromEnv()
	authGate := gate.New(ledgerService, stripeClient)
	runner := generation.NewOpenAIRunnerFromEnv()
	manager := jobqueue.Initialize(runner, db)

	ctrl := router.Controllers{
		Auth:     controllers.NewAuthController(repos.User),
		OAuth:    controllers.NewOAuthController(repos.User),
		Generate: controllers.NewGenerateController(authGate, manager.GetQueue()),
		Billing:  controllers.NewBillingController(ledgerService, stripeClient),
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1048576, // evidence payloads are small JSON documents
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, ctrl)

	return app, manager
}
