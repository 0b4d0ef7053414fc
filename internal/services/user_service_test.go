package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

func newTestUserService() (*UserService, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	s := NewUserService(mem, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	s.now = func() time.Time { return testNow }
	return s, mem
}

func TestUserService_Suspend(t *testing.T) {
	s, mem := newTestUserService()
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1", Status: models.UserWarning, WarningCount: 2})

	u, err := s.Suspend(ctx, "u1", 3, "spam")
	require.NoError(t, err)
	assert.Equal(t, models.UserSuspended, u.Status)
	assert.Equal(t, 1, u.SuspendCount)
	assert.Equal(t, 2, u.WarningCount)
	require.NotNil(t, u.SuspendedUntil)
	assert.Equal(t, testNow.AddDate(0, 0, 3), *u.SuspendedUntil)

	// A second suspension extends from now and counts again.
	u, err = s.Suspend(ctx, "u1", 1, "spam again")
	require.NoError(t, err)
	assert.Equal(t, 2, u.SuspendCount)
	assert.Equal(t, "spam again", u.SuspensionReason)

	_, err = s.Suspend(ctx, "ghost", 1, "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserService_Ban(t *testing.T) {
	s, mem := newTestUserService()
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1"})

	u, err := s.Ban(ctx, "u1", "threats")
	require.NoError(t, err)
	assert.Equal(t, models.UserBanned, u.Status)
	require.NotNil(t, u.BannedAt)
	assert.Equal(t, testNow, *u.BannedAt)

	_, err = s.Ban(ctx, "u1", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.Suspend(ctx, "u1", 1, "x")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "threats", stored.BanReason)
}

func TestUserService_ResetWarningsAndAdmins(t *testing.T) {
	s, mem := newTestUserService()
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1", Status: models.UserWarning, WarningCount: 3})
	mem.PutUser(&models.User{ID: "boss", Role: models.RoleAdmin})

	u, err := s.ResetWarnings(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.WarningCount)
	assert.Equal(t, models.UserActive, u.Status)

	_, err = s.ResetWarnings(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	admins, err := s.AdminIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boss"}, admins)
}
