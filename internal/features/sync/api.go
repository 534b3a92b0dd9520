package sync

import (
	"crm-sync/internal/common/api"
	"crm-sync/internal/config"
	"crm-sync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type SyncApi struct {
	controller *SyncController
	config     *config.Config
}

func NewSyncApi(controller *SyncController, config *config.Config) api.Route {
	return &SyncApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all sync routes
func (h *SyncApi) Setup(app *fiber.App) {
	group := app.Group("/api/sync", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/outbound", h.controller.TriggerOutbound)
	group.Post("/connections/:connectionId/full", h.controller.SyncAll)
	group.Post("/connections/:connectionId/incremental", h.controller.SyncIncremental)
	group.Post("/connections/:connectionId/relationships", h.controller.SyncRelationships)
	group.Post("/connections/:connectionId/outbound", h.controller.SyncOutbound)
	group.Post("/connections/:connectionId/inbound", h.controller.SyncInbound)
	group.Get("/connections/:connectionId/status", h.controller.Status)
	group.Get("/connections/:connectionId/diagnostics", h.controller.GetDiagnostics)
	group.Post("/mappings/:mappingId", h.controller.SyncEntityMapping)

	group.Get("/logs", h.controller.ListLogs)
	group.Get("/logs/stats", h.controller.LogStats)
	group.Get("/logs/export", h.controller.ExportLogs)
	group.Delete("/logs", h.controller.PurgeLogs)
}
