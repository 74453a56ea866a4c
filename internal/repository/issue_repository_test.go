package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/escalation-service/internal/domain"
)

func TestIssueRepositoryGetByIDRejectsMalformedID(t *testing.T) {
	// No pool: a malformed id must be answered before any query runs.
	repo := NewIssueRepository(nil)

	for _, id := range []string{"not-a-uuid", "", "123", "../issues"} {
		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrNotFound, "id %q", id)
	}
}
