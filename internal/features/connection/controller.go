package connection

import (
	"crm-sync/internal/providers"

	"github.com/gofiber/fiber/v2"
)

type ConnectionController struct {
	Service ConnectionService
}

func NewConnectionController(service ConnectionService) *ConnectionController {
	return &ConnectionController{
		Service: service,
	}
}

// CreateConnection godoc
func (ctrl *ConnectionController) CreateConnection(c *fiber.Ctx) error {
	var conn Connection
	if err := c.BodyParser(&conn); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.CreateConnection(c.Context(), &conn); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Connection created successfully",
		"data":    conn,
	})
}

// ListConnections godoc
func (ctrl *ConnectionController) ListConnections(c *fiber.Ctx) error {
	conns, err := ctrl.Service.ListConnections(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": conns,
	})
}

// GetConnection godoc
func (ctrl *ConnectionController) GetConnection(c *fiber.Ctx) error {
	conn, err := ctrl.Service.GetConnection(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(conn)
}

// UpdateConnection godoc
func (ctrl *ConnectionController) UpdateConnection(c *fiber.Ctx) error {
	var updates map[string]interface{}
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.UpdateConnection(c.Context(), c.Params("id"), updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Connection updated successfully",
	})
}

// DeleteConnection godoc
func (ctrl *ConnectionController) DeleteConnection(c *fiber.Ctx) error {
	if err := ctrl.Service.DeleteConnection(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Connection deleted successfully",
	})
}

// ValidateConnection godoc
func (ctrl *ConnectionController) ValidateConnection(c *fiber.Ctx) error {
	if err := ctrl.Service.ValidateConnection(c.Context(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"valid": false,
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"valid": true,
	})
}

// AuthorizationURL godoc
func (ctrl *ConnectionController) AuthorizationURL(c *fiber.Ctx) error {
	providerType := providers.ProviderType(c.Query("provider"))
	state := c.Query("state")
	redirectURI := c.Query("redirect_uri")

	url, err := ctrl.Service.AuthorizationURL(providerType, state, redirectURI)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"url": url,
	})
}

// ExchangeCode godoc
func (ctrl *ConnectionController) ExchangeCode(c *fiber.Ctx) error {
	var body struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.ExchangeCode(c.Context(), c.Params("id"), body.Code, body.RedirectURI); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Authorization code exchanged successfully",
	})
}
