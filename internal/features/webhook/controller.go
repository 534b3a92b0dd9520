package webhook

import (
	"errors"

	"crm-sync/internal/features/sync"

	"github.com/gofiber/fiber/v2"
)

type WebhookController struct {
	Service IngestService
}

func NewWebhookController(service IngestService) *WebhookController {
	return &WebhookController{
		Service: service,
	}
}

// signatureHeaders in lookup order; vendors disagree on the header name.
var signatureHeaders = []string{
	"X-Webhook-Signature",
	"X-HubSpot-Signature",
	"X-MS-Dynamics-Signature",
}

// Ingest godoc
func (ctrl *WebhookController) Ingest(c *fiber.Ctx) error {
	signature := ""
	for _, header := range signatureHeaders {
		if v := c.Get(header); v != "" {
			signature = v
			break
		}
	}

	result, err := ctrl.Service.Ingest(c.Context(), c.Params("connectionId"), c.Body(), signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "signature validation failed",
			})
		}
		if errors.Is(err, sync.ErrSyncInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"data": result})
}

// Register godoc
func (ctrl *WebhookController) Register(c *fiber.Ctx) error {
	var req struct {
		CallbackURL string `json:"callback_url"`
	}
	if err := c.BodyParser(&req); err != nil || req.CallbackURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "callback_url is required",
		})
	}

	id, err := ctrl.Service.RegisterWebhook(c.Context(), c.Params("connectionId"), req.CallbackURL)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Webhook registered successfully",
		"data":    fiber.Map{"webhook_id": id},
	})
}
