package entity

import (
	common_models "crm-sync/internal/common/models"

	"github.com/gofiber/fiber/v2"
)

type EntityController struct {
	Service EntityService
}

func NewEntityController(service EntityService) *EntityController {
	return &EntityController{
		Service: service,
	}
}

func entityTypeParam(c *fiber.Ctx) (common_models.EntityType, bool) {
	entityType := common_models.EntityType(c.Params("entityType"))
	return entityType, entityType.Valid()
}

// ListRecords godoc
func (ctrl *EntityController) ListRecords(c *fiber.Ctx) error {
	entityType, ok := entityTypeParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity type",
		})
	}
	records, err := ctrl.Service.ListRecords(c.Context(), entityType, c.QueryInt("page", 1), c.QueryInt("page_size", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"data": records})
}

// GetRecord godoc
func (ctrl *EntityController) GetRecord(c *fiber.Ctx) error {
	entityType, ok := entityTypeParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity type",
		})
	}
	record, err := ctrl.Service.GetRecord(c.Context(), entityType, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"data": record})
}

// CreateRecord godoc
func (ctrl *EntityController) CreateRecord(c *fiber.Ctx) error {
	entityType, ok := entityTypeParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity type",
		})
	}

	var data map[string]any
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record := &common_models.PlatformRecord{
		EntityType: entityType,
		Data:       data,
	}
	if err := ctrl.Service.CreateRecord(c.Context(), record); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Record created successfully",
		"data":    record,
	})
}

// UpdateRecord godoc
func (ctrl *EntityController) UpdateRecord(c *fiber.Ctx) error {
	entityType, ok := entityTypeParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity type",
		})
	}

	var data map[string]any
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.UpdateRecord(c.Context(), entityType, c.Params("id"), data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Record updated successfully",
	})
}

// DeleteRecord godoc
func (ctrl *EntityController) DeleteRecord(c *fiber.Ctx) error {
	entityType, ok := entityTypeParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entity type",
		})
	}
	if err := ctrl.Service.DeleteRecord(c.Context(), entityType, c.Params("id")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Record deleted successfully",
	})
}
