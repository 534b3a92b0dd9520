package webhook

import (
	"crm-sync/internal/common/api"
	"crm-sync/internal/config"
	"crm-sync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
	config     *config.Config
}

func NewWebhookApi(controller *WebhookController, config *config.Config) api.Route {
	return &WebhookApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers webhook routes. The ingest route is unauthenticated on
// purpose: vendors cannot carry our JWT, the HMAC signature is the auth.
func (h *WebhookApi) Setup(app *fiber.App) {
	app.Post("/api/webhooks/crm/:connectionId", h.controller.Ingest)

	registration := app.Group("/api/webhooks", middleware.AuthMiddleware(h.config.SkipAuth))
	registration.Post("/:connectionId/register", h.controller.Register)
}
