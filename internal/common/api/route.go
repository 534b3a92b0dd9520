package api

import "github.com/gofiber/fiber/v2"

// Route is implemented by every feature's API module so the fx route group
// can register them all at startup.
type Route interface {
	Setup(app *fiber.App)
}
