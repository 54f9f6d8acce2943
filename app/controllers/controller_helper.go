package controllers

import "github.com/gofiber/fiber/v2"

// jsonError writes the uniform error body used by all API endpoints.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}
