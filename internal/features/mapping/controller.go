package mapping

import (
	"github.com/gofiber/fiber/v2"
)

type MappingController struct {
	Service MappingService
}

func NewMappingController(service MappingService) *MappingController {
	return &MappingController{
		Service: service,
	}
}

// CreateMapping godoc
func (ctrl *MappingController) CreateMapping(c *fiber.Ctx) error {
	var m EntityMapping
	if err := c.BodyParser(&m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.CreateMapping(c.Context(), &m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Entity mapping created successfully",
		"data":    m,
	})
}

// ListMappings godoc
func (ctrl *MappingController) ListMappings(c *fiber.Ctx) error {
	mappings, err := ctrl.Service.ListMappings(c.Context(), c.Query("connection_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": mappings,
	})
}

// GetMapping godoc
func (ctrl *MappingController) GetMapping(c *fiber.Ctx) error {
	m, err := ctrl.Service.GetMapping(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(m)
}

// UpdateMapping godoc
func (ctrl *MappingController) UpdateMapping(c *fiber.Ctx) error {
	var updates map[string]interface{}
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.UpdateMapping(c.Context(), c.Params("id"), updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Entity mapping updated successfully",
	})
}

// DeleteMapping godoc
func (ctrl *MappingController) DeleteMapping(c *fiber.Ctx) error {
	if err := ctrl.Service.DeleteMapping(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Entity mapping deleted successfully",
	})
}
