package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/escalation-service/internal/ingest"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// IngestHandler accepts check results from the check-execution side over HTTP.
type IngestHandler struct {
	processor *ingest.Processor
}

func NewIngestHandler(processor *ingest.Processor) *IngestHandler {
	return &IngestHandler{processor: processor}
}

// CheckResult handles POST /internal/check-results. Suppression answers 200.
func (h *IngestHandler) CheckResult(c *fiber.Ctx) error {
	var req ingest.CheckResult
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	outcome, err := h.processor.Handle(c.UserContext(), req)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if outcome.Opened {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": outcome})
}
