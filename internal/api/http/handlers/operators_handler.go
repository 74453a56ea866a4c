package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/escalation-service/internal/api/dto"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/service"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// OperatorsHandler exposes operator login and account endpoints.
type OperatorsHandler struct {
	authService *service.AuthService
}

// NewOperatorsHandler constructs handler.
func NewOperatorsHandler(authService *service.AuthService) *OperatorsHandler {
	return &OperatorsHandler{authService: authService}
}

// Login handles POST /auth/operators/login.
func (h *OperatorsHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	session, err := h.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"operator": operatorResponse(session.Operator),
			"auth":     dto.AuthResponse{Token: session.Token, ExpiresAt: session.ExpiresAt},
		},
	})
}

// Me handles GET /api/operators/me.
func (h *OperatorsHandler) Me(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operatorResponse(op)})
}

// ChangePassword handles POST /api/operators/me/password.
func (h *OperatorsHandler) ChangePassword(c *fiber.Ctx) error {
	op, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PasswordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	if err := h.authService.ChangePassword(c.UserContext(), op.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_changed"}})
}

// Create handles POST /api/operators. Admin only.
func (h *OperatorsHandler) Create(c *fiber.Ctx) error {
	admin, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateOperatorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	op, err := h.authService.CreateOperator(c.UserContext(), service.CreateOperatorInput{
		OrganizationID: admin.OrganizationID,
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Role:           domain.OperatorRole(req.Role),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": operatorResponse(op)})
}

// List handles GET /api/operators. Admin only.
func (h *OperatorsHandler) List(c *fiber.Ctx) error {
	admin, err := operatorFromContext(c)
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	ops, err := h.authService.ListOperators(c.UserContext(), admin.OrganizationID, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.OperatorResponse, 0, len(ops))
	for i := range ops {
		items = append(items, operatorResponse(&ops[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
