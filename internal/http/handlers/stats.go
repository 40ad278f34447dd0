package handlers

import (
	"github.com/gofiber/fiber/v2"

	"qrservice/internal/render"
)

// HandleRenderStats exposes render pool usage and live temp sessions.
func (svc *QRService) HandleRenderStats(c *fiber.Ctx) error {
	pool, err := svc.renderPool()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Render pool init failed: "+err.Error())
	}

	stats := render.Stats{}
	if pool != nil {
		stats = pool.Stats()
	}

	sessions := 0
	svc.wsMu.Lock()
	if svc.ws != nil {
		sessions = svc.ws.Active()
	}
	svc.wsMu.Unlock()

	return c.JSON(fiber.Map{
		"pool":            stats,
		"active_sessions": sessions,
	})
}
