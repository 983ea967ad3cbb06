package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/delivery/http/handler"
	"sign-vrtl/internal/delivery/http/middleware"
	"sign-vrtl/internal/domain/entity"
)

type Router struct {
	app           *fiber.App
	config        *config.Config
	logger        *zap.Logger
	adminHandler  *handler.SignRequestHandler
	signerHandler *handler.SignerHandler
	healthHandler *handler.HealthHandler
}

func NewRouter(
	cfg *config.Config,
	adminHandler *handler.SignRequestHandler,
	signerHandler *handler.SignerHandler,
	healthHandler *handler.HealthHandler,
	logger *zap.Logger,
) *Router {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: customErrorHandler,
		BodyLimit:    bodyLimit(cfg),
	})

	return &Router{
		app:           app,
		config:        cfg,
		logger:        logger,
		adminHandler:  adminHandler,
		signerHandler: signerHandler,
		healthHandler: healthHandler,
	}
}

// bodyLimit leaves room for a base64 encoded signature plus the JSON around it
func bodyLimit(cfg *config.Config) int {
	limit := cfg.Sign.MaxSignatureBytes*4/3 + 64*1024
	if limit < fiber.DefaultBodyLimit {
		return fiber.DefaultBodyLimit
	}
	return limit
}

func (r *Router) Setup() *fiber.App {
	// Middleware
	r.app.Use(recover.New())
	r.app.Use(requestid.New())
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	if r.config.IsDevelopment() {
		r.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// Health check route
	r.app.Get("/health", r.healthHandler.Health)

	// Signer routes, authorized by token
	sign := r.app.Group("/sign")
	{
		sign.Get("/document/mail/:requestId/:token", r.signerHandler.OpenFromMail)
		sign.Get("/document/:requestId/:token/completed", r.signerHandler.Completed)
		sign.Get("/document/:requestId/:token", r.signerHandler.Open)
		sign.Post("/sign/:requestId/:token", r.signerHandler.Sign)
		sign.Post("/refuse/:requestId/:token", r.signerHandler.Refuse)
		sign.Post("/save/:requestId/:token", r.signerHandler.Save)
	}

	// API v1 routes
	api := r.app.Group("/api/v1", middleware.AdminAuth(r.config, r.logger))
	{
		requests := api.Group("/requests")
		{
			requests.Post("", r.adminHandler.Create)
			requests.Post("/cancel", r.adminHandler.BulkCancel)
			requests.Get("/:id", r.adminHandler.Get)
			requests.Get("/:id/logs", r.adminHandler.Logs)
			requests.Get("/:id/integrity", r.adminHandler.Integrity)
			requests.Get("/:id/deliveries", r.adminHandler.Deliveries)
			requests.Post("/:id/send", r.adminHandler.Send)
			requests.Post("/:id/cancel", r.adminHandler.Cancel)
			requests.Post("/:id/archive", r.adminHandler.Archive)
			requests.Post("/:id/decrypted", r.adminHandler.MarkDecrypted)
			requests.Put("/:id/items/:itemId/email", r.adminHandler.UpdateSignerEmail)
			requests.Post("/:id/items/:itemId/cancel", r.adminHandler.CancelItem)
		}

		api.Get("/partners/:id/signatures", r.adminHandler.PartnerSignatures)

		cron := api.Group("/cron")
		{
			cron.Post("/reminder", r.adminHandler.RunReminder)
			cron.Post("/retry", r.adminHandler.RunRetry)
		}
	}

	return r.app
}

func (r *Router) GetApp() *fiber.App {
	return r.app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	return c.Status(code).JSON(entity.NewErrorResponse("HTTP_ERROR", err.Error()))
}
