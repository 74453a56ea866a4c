package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/config"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/repository"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// ErrInvalidCredentials is returned for any failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService coordinates operator login and account management.
type AuthService struct {
	operators repository.OperatorRepository
	tokenMgr  *auth.TokenManager
	hasher    auth.PasswordHasher
	logger    *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, operators repository.OperatorRepository, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		operators: operators,
		tokenMgr:  auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		hasher:    auth.NewPasswordHasher(cfg.BcryptCost),
		logger:    logger,
	}
}

// Login authenticates an operator and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	op, err := s.operators.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NewUnauthorized(ErrInvalidCredentials.Error())
		}
		return nil, err
	}
	if !op.Active {
		return nil, apperrors.NewUnauthorized(ErrInvalidCredentials.Error())
	}
	if err := s.hasher.Compare(op.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized(ErrInvalidCredentials.Error())
	}
	token, exp, err := s.tokenMgr.GenerateToken(op)
	if err != nil {
		return nil, err
	}
	return &domain.Session{Token: token, ExpiresAt: exp, Operator: op}, nil
}

// CreateOperatorInput describes a new operator account.
type CreateOperatorInput struct {
	OrganizationID string
	Name           string
	Email          string
	Password       string
	Role           domain.OperatorRole
}

// CreateOperator registers an operator inside an organization.
func (s *AuthService) CreateOperator(ctx context.Context, input CreateOperatorInput) (*domain.Operator, error) {
	role := input.Role
	if role == "" {
		role = domain.OperatorRoleMember
	}
	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}
	op := &domain.Operator{
		OrganizationID: input.OrganizationID,
		Name:           strings.TrimSpace(input.Name),
		Email:          strings.TrimSpace(input.Email),
		PasswordHash:   hash,
		Role:           role,
		Active:         true,
	}
	if err := s.operators.Create(ctx, op); err != nil {
		if errors.Is(err, repository.ErrDuplicateOperator) {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, err
	}
	return op, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, operatorID, currentPassword, newPassword string) error {
	op, err := s.operators.GetByID(ctx, operatorID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(op.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized(ErrInvalidCredentials.Error())
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	op.PasswordHash = hash
	return s.operators.Update(ctx, op)
}

// EnsureBootstrapOperator seeds an admin account when configured and absent.
func (s *AuthService) EnsureBootstrapOperator(ctx context.Context, cfg config.AuthConfig) error {
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}
	if _, err := s.operators.GetByEmail(ctx, cfg.BootstrapEmail); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	op, err := s.CreateOperator(ctx, CreateOperatorInput{
		OrganizationID: cfg.BootstrapOrganization,
		Name:           cfg.BootstrapName,
		Email:          cfg.BootstrapEmail,
		Password:       cfg.BootstrapPassword,
		Role:           domain.OperatorRoleAdmin,
	})
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap operator created", zap.String("operator_id", op.ID), zap.String("organization_id", op.OrganizationID))
	return nil
}

// ListOperators returns the organization's operators, newest first.
func (s *AuthService) ListOperators(ctx context.Context, organizationID string, limit, offset int) ([]domain.Operator, error) {
	return s.operators.List(ctx, repository.OperatorFilter{OrganizationID: organizationID, Limit: limit, Offset: offset})
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
