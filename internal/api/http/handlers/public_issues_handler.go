package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/escalation-service/internal/api/dto"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/service"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// PublicIssuesHandler serves the signed-link surface used by contacts.
type PublicIssuesHandler struct {
	access *service.AccessService
}

func NewPublicIssuesHandler(access *service.AccessService) *PublicIssuesHandler {
	return &PublicIssuesHandler{access: access}
}

// View handles GET /public/issues/:token?level=&signature=.
func (h *PublicIssuesHandler) View(c *fiber.Ctx) error {
	level, _ := strconv.Atoi(c.Query("level"))
	projection, err := h.access.PublicView(c.UserContext(), service.PublicCredentials{
		Token:     c.Params("token"),
		Level:     level,
		Signature: c.Query("signature"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": issueDetail(projection, false)})
}

// UpdateStatus handles POST /public/issues/:token/status.
func (h *PublicIssuesHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.PublicStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	projection, err := h.access.PublicUpdateStatus(c.UserContext(), service.PublicStatusInput{
		PublicCredentials: service.PublicCredentials{Token: c.Params("token"), Level: req.Level, Signature: req.Signature},
		Status:            domain.IssueStatus(req.Status),
		Actor:             domain.Actor{Name: req.Name, Email: req.Email},
		Message:           req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": issueDetail(projection, false)})
}

// AddReport handles POST /public/issues/:token/reports.
func (h *PublicIssuesHandler) AddReport(c *fiber.Ctx) error {
	var req dto.PublicReportRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	projection, err := h.access.PublicAddReport(c.UserContext(), service.PublicReportInput{
		PublicCredentials: service.PublicCredentials{Token: c.Params("token"), Level: req.Level, Signature: req.Signature},
		Actor:             domain.Actor{Name: req.Name, Email: req.Email},
		Message:           req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": issueDetail(projection, false)})
}

// Viewed handles POST /public/issues/:token/viewed.
func (h *PublicIssuesHandler) Viewed(c *fiber.Ctx) error {
	var req dto.PublicViewedRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	err := h.access.PublicRecordViewed(c.UserContext(),
		service.PublicCredentials{Token: c.Params("token"), Level: req.Level, Signature: req.Signature},
		domain.Actor{Name: req.Name, Email: req.Email})
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
