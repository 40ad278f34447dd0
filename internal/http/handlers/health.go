// Package handlers implements the HTTP endpoints of the QR service.
package handlers

import "github.com/gofiber/fiber/v2"

// Version is reported by the health endpoint.
const Version = "1.0.0"

// HandleHealth reports liveness. It touches no dependency, so it stays green
// while renders, Redis or Postgres misbehave.
func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "qr-microservice",
		"version": Version,
		"endpoints": fiber.Map{
			"health":      "GET /health",
			"generate_qr": "POST /qr",
		},
	})
}
