package connection

import (
	"crm-sync/internal/common/api"
	"crm-sync/internal/config"
	"crm-sync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ConnectionApi struct {
	controller *ConnectionController
	config     *config.Config
}

func NewConnectionApi(controller *ConnectionController, config *config.Config) api.Route {
	return &ConnectionApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all connection routes
func (h *ConnectionApi) Setup(app *fiber.App) {
	group := app.Group("/api/connections", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/", h.controller.CreateConnection)
	group.Get("/", h.controller.ListConnections)
	group.Get("/authorize-url", h.controller.AuthorizationURL)
	group.Get("/:id", h.controller.GetConnection)
	group.Put("/:id", h.controller.UpdateConnection)
	group.Delete("/:id", h.controller.DeleteConnection)
	group.Post("/:id/validate", h.controller.ValidateConnection)
	group.Post("/:id/exchange-code", h.controller.ExchangeCode)
}
