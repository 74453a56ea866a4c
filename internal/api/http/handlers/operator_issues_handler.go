package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/escalation-service/internal/api/dto"
	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/service"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// OperatorIssuesHandler serves the organization dashboard.
type OperatorIssuesHandler struct {
	access *service.AccessService
}

func NewOperatorIssuesHandler(access *service.AccessService) *OperatorIssuesHandler {
	return &OperatorIssuesHandler{access: access}
}

// List handles GET /api/issues.
func (h *OperatorIssuesHandler) List(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	filter := service.OperatorIssueFilter{Statuses: parseStatuses(c.Query("status"))}
	if site := c.Query("site_id"); site != "" {
		filter.SiteID = &site
	}
	filter.Limit, filter.Offset = pagination(c)

	projections, err := h.access.ListForOrganization(c.UserContext(), op.OrganizationID, filter)
	if err != nil {
		return err
	}
	items := make([]dto.IssueResponse, 0, len(projections))
	for i := range projections {
		items = append(items, issueResponse(&projections[i], true))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get handles GET /api/issues/:id.
func (h *OperatorIssuesHandler) Get(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	projection, err := h.access.GetForOperator(c.UserContext(), op, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": issueDetail(projection, true)})
}

// UpdateStatus handles POST /api/issues/:id/status.
func (h *OperatorIssuesHandler) UpdateStatus(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.OperatorStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	projection, err := h.access.OperatorUpdateStatus(c.UserContext(), op, c.Params("id"), domain.IssueStatus(req.Status), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": issueDetail(projection, true)})
}

// AddReport handles POST /api/issues/:id/reports.
func (h *OperatorIssuesHandler) AddReport(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.OperatorReportRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	projection, err := h.access.OperatorAddReport(c.UserContext(), op, c.Params("id"), req.Message)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": issueDetail(projection, true)})
}

// ListCooldowns handles GET /api/cooldowns.
func (h *OperatorIssuesHandler) ListCooldowns(c *fiber.Ctx) error {
	entries, err := h.access.ListCooldowns(c.UserContext())
	if err != nil {
		return err
	}
	now := time.Now()
	items := make([]dto.CooldownResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.CooldownResponse{
			SiteID:           e.SiteID,
			CheckID:          e.CheckID,
			ExpiresAt:        e.ExpiresAt,
			RemainingSeconds: int64(e.Remaining(now).Seconds()),
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ClearCooldowns handles DELETE /api/cooldowns.
func (h *OperatorIssuesHandler) ClearCooldowns(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	removed, err := h.access.ClearCooldowns(c.UserContext(), op)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"removed": removed}})
}

func operatorFromContext(c *fiber.Ctx) (*domain.Operator, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Operator == nil {
		return nil, apperrors.NewUnauthorized("operator session required")
	}
	return principal.Operator, nil
}
