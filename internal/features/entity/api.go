package entity

import (
	"crm-sync/internal/common/api"
	"crm-sync/internal/config"
	"crm-sync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type EntityApi struct {
	controller *EntityController
	config     *config.Config
}

func NewEntityApi(controller *EntityController, config *config.Config) api.Route {
	return &EntityApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all platform entity routes
func (h *EntityApi) Setup(app *fiber.App) {
	group := app.Group("/api/entities/:entityType", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Get("/", h.controller.ListRecords)
	group.Post("/", h.controller.CreateRecord)
	group.Get("/:id", h.controller.GetRecord)
	group.Put("/:id", h.controller.UpdateRecord)
	group.Delete("/:id", h.controller.DeleteRecord)
}
