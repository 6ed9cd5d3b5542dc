package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mkessler/streamgate/internal/pkg/jobqueue"
)

// HandleAdminQueueStats reports queue depth and per-status job counters.
func HandleAdminQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()

	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job stats"})
	}
	pending, err := queue.GetQueueSize(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load queue size"})
	}
	processing, err := queue.GetProcessingSize(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load processing size"})
	}

	return c.JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
		"stats":      stats,
	})
}

// HandleAdminParkedEvents lists ledger events that permanently failed
// reconciliation and wait for operator review.
func HandleAdminParkedEvents(c *fiber.Ctx) error {
	events, err := jobqueue.GetManager().GetLedger().Parked(c.Context(), 100)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load parked events"})
	}

	items := make([]fiber.Map, 0, len(events))
	for _, event := range events {
		items = append(items, fiber.Map{
			"id":          event.ID,
			"external_id": event.ExternalID,
			"event_type":  event.EventType,
			"user_id":     event.UserID,
			"plan_id":     event.PlanID,
			"occurred_at": event.OccurredAt.UTC(),
			"error":       event.ProcessingError,
		})
	}

	return c.JSON(fiber.Map{"parked": items})
}
