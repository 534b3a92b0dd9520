package mapping

import (
	"crm-sync/internal/common/api"
	"crm-sync/internal/config"
	"crm-sync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type MappingApi struct {
	controller *MappingController
	config     *config.Config
}

func NewMappingApi(controller *MappingController, config *config.Config) api.Route {
	return &MappingApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all entity mapping routes
func (h *MappingApi) Setup(app *fiber.App) {
	group := app.Group("/api/mappings", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/", h.controller.CreateMapping)
	group.Get("/", h.controller.ListMappings)
	group.Get("/:id", h.controller.GetMapping)
	group.Put("/:id", h.controller.UpdateMapping)
	group.Delete("/:id", h.controller.DeleteMapping)
}
