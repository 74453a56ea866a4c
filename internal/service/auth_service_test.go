package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/escalation-service/internal/config"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/repository"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

func newAuthService(t *testing.T) (*AuthService, *repository.MemoryOperatorRepository) {
	t.Helper()
	repo := repository.NewMemoryOperatorRepository()
	svc := NewAuthService(config.AuthConfig{JWTSecret: "jwt-test", AccessTokenTTLMinutes: 15, BcryptCost: 4}, repo, nil)
	return svc, repo
}

func TestLoginIssuesSession(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()
	op, err := svc.CreateOperator(ctx, CreateOperatorInput{OrganizationID: "org-1", Name: " Ops ", Email: "ops@x.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, domain.OperatorRoleMember, op.Role)
	assert.Equal(t, "Ops", op.Name)

	session, err := svc.Login(ctx, "ops@x.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, op.ID, session.Operator.ID)

	claims, err := svc.TokenManager().ParseToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", claims.OrganizationID)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	svc, repo := newAuthService(t)
	ctx := context.Background()
	op, err := svc.CreateOperator(ctx, CreateOperatorInput{OrganizationID: "org-1", Email: "ops@x.com", Password: "hunter22"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, "ops@x.com", "nope")
	_, unknown := svc.Login(ctx, "ghost@x.com", "hunter22")

	op.Active = false
	require.NoError(t, repo.Update(ctx, op))
	_, inactive := svc.Login(ctx, "ops@x.com", "hunter22")

	for _, err := range []error{wrongPassword, unknown, inactive} {
		require.Error(t, err)
		de := apperrors.ToDomainError(err)
		assert.Equal(t, "UNAUTHORIZED", de.Code)
		assert.Equal(t, ErrInvalidCredentials.Error(), de.Message)
	}
}

func TestCreateOperatorDuplicateEmail(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()
	_, err := svc.CreateOperator(ctx, CreateOperatorInput{OrganizationID: "org-1", Email: "ops@x.com", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.CreateOperator(ctx, CreateOperatorInput{OrganizationID: "org-1", Email: "OPS@x.com", Password: "pw"})
	assert.Equal(t, "CONFLICT", apperrors.ToDomainError(err).Code)
}

func TestChangePassword(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()
	op, err := svc.CreateOperator(ctx, CreateOperatorInput{OrganizationID: "org-1", Email: "ops@x.com", Password: "old-pass"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, op.ID, "wrong", "new-pass")
	assert.Equal(t, "UNAUTHORIZED", apperrors.ToDomainError(err).Code)

	require.NoError(t, svc.ChangePassword(ctx, op.ID, "old-pass", "new-pass"))
	_, err = svc.Login(ctx, "ops@x.com", "old-pass")
	assert.Error(t, err)
	_, err = svc.Login(ctx, "ops@x.com", "new-pass")
	assert.NoError(t, err)
}

func TestEnsureBootstrapOperatorIsIdempotent(t *testing.T) {
	svc, repo := newAuthService(t)
	ctx := context.Background()
	cfg := config.AuthConfig{
		BootstrapEmail:        "admin@x.com",
		BootstrapPassword:     "bootstrap",
		BootstrapName:         "Admin",
		BootstrapOrganization: "org-1",
	}

	require.NoError(t, svc.EnsureBootstrapOperator(ctx, cfg))
	require.NoError(t, svc.EnsureBootstrapOperator(ctx, cfg))

	ops, err := repo.List(ctx, repository.OperatorFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.OperatorRoleAdmin, ops[0].Role)

	require.NoError(t, svc.EnsureBootstrapOperator(ctx, config.AuthConfig{}))
}
