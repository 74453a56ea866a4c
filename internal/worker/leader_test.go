package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLeaseAcquireFresh(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewRedisLease(db, "", "node-a", 90*time.Second)

	mock.ExpectSetNX(DefaultLeaseKey, "node-a", 90*time.Second).SetVal(true)

	ok, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLeaseRenewsOwnLease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewRedisLease(db, "lease", "node-a", time.Minute)

	mock.ExpectSetNX("lease", "node-a", time.Minute).SetVal(false)
	mock.ExpectEvalSha(renewLease.Hash(), []string{"lease"}, "node-a", int64(60000)).SetVal(int64(1))

	ok, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLeaseHeldElsewhere(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewRedisLease(db, "lease", "node-b", time.Minute)

	mock.ExpectSetNX("lease", "node-b", time.Minute).SetVal(false)
	mock.ExpectEvalSha(renewLease.Hash(), []string{"lease"}, "node-b", int64(60000)).SetVal(int64(0))

	ok, err := lease.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLeaseErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewRedisLease(db, "lease", "node-a", time.Minute)

	mock.ExpectSetNX("lease", "node-a", time.Minute).SetErr(errors.New("connection refused"))
	_, err := lease.Acquire(context.Background())
	assert.ErrorContains(t, err, "acquire lease")
}

func TestRedisLeaseRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewRedisLease(db, "lease", "node-a", time.Minute)

	mock.ExpectEvalSha(releaseLease.Hash(), []string{"lease"}, "node-a").SetVal(int64(1))
	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileLockSingleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	first := NewFileLock(path)
	second := NewFileLock(path)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder keeps leadership")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release(ctx))
	require.NoError(t, second.Release(ctx))
}
