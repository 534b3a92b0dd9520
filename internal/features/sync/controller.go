package sync

import (
	"errors"
	"time"

	common_models "crm-sync/internal/common/models"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SyncController struct {
	Service     SyncService
	Logs        SyncLogService
	Diagnostics DiagnosticsService
}

func NewSyncController(service SyncService, logs SyncLogService, diagnostics DiagnosticsService) *SyncController {
	return &SyncController{
		Service:     service,
		Logs:        logs,
		Diagnostics: diagnostics,
	}
}

func syncError(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrSyncInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// SyncAll godoc
func (ctrl *SyncController) SyncAll(c *fiber.Ctx) error {
	result, err := ctrl.Service.SyncAll(c.Context(), c.Params("connectionId"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SyncIncremental godoc
func (ctrl *SyncController) SyncIncremental(c *fiber.Ctx) error {
	result, err := ctrl.Service.SyncIncremental(c.Context(), c.Params("connectionId"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SyncEntityMapping godoc
func (ctrl *SyncController) SyncEntityMapping(c *fiber.Ctx) error {
	result, err := ctrl.Service.SyncEntityMapping(c.Context(), c.Params("mappingId"), c.QueryBool("full", false))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SyncRelationships godoc
func (ctrl *SyncController) SyncRelationships(c *fiber.Ctx) error {
	result, err := ctrl.Service.SyncRelationships(c.Context(), c.Params("connectionId"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SyncOutbound godoc
func (ctrl *SyncController) SyncOutbound(c *fiber.Ctx) error {
	entityType := common_models.EntityType(c.Query("entity_type"))
	if !entityType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity_type",
		})
	}
	result, err := ctrl.Service.SyncOutbound(c.Context(), c.Params("connectionId"), entityType, c.Query("platform_id"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// TriggerOutbound godoc
func (ctrl *SyncController) TriggerOutbound(c *fiber.Ctx) error {
	entityType := common_models.EntityType(c.Query("entity_type"))
	if !entityType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity_type",
		})
	}
	result, err := ctrl.Service.TriggerOutboundSync(c.Context(), entityType, c.Query("platform_id"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// SyncInbound godoc
func (ctrl *SyncController) SyncInbound(c *fiber.Ctx) error {
	result, err := ctrl.Service.SyncInbound(c.Context(), c.Params("connectionId"), c.Query("crm_entity"), c.Query("crm_id"))
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

// Status godoc
func (ctrl *SyncController) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"connection_id": c.Params("connectionId"),
			"busy":          ctrl.Service.Busy(c.Params("connectionId")),
		},
	})
}

func logFilterFromQuery(c *fiber.Ctx) (SyncLogFilter, error) {
	filter := SyncLogFilter{
		Status:   c.Query("status"),
		Action:   c.Query("action"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 100),
	}
	if raw := c.Query("connection_id"); raw != "" {
		connID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return filter, err
		}
		filter.ConnectionID = connID
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.Since = since
	}
	return filter, nil
}

// ListLogs godoc
func (ctrl *SyncController) ListLogs(c *fiber.Ctx) error {
	filter, err := logFilterFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	logs, err := ctrl.Logs.ListLogs(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"data": logs})
}

// LogStats godoc
func (ctrl *SyncController) LogStats(c *fiber.Ctx) error {
	stats, err := ctrl.Logs.GetStats(c.Context(), c.Query("connection_id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"data": stats})
}

// ExportLogs godoc
func (ctrl *SyncController) ExportLogs(c *fiber.Ctx) error {
	filter, err := logFilterFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	data, filename, err := ctrl.Logs.ExportLogs(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set("Content-Disposition", "attachment; filename="+filename)
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return c.Send(data)
}

// PurgeLogs godoc
func (ctrl *SyncController) PurgeLogs(c *fiber.Ctx) error {
	deleted, err := ctrl.Logs.PurgeLogs(c.Context(), c.QueryInt("older_than_days", 0))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Logs purged successfully",
		"deleted": deleted,
	})
}

// GetDiagnostics godoc
func (ctrl *SyncController) GetDiagnostics(c *fiber.Ctx) error {
	diagnostics, err := ctrl.Diagnostics.GetSyncDiagnostics(c.Context(), c.Params("connectionId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"data": diagnostics})
}
