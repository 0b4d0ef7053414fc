package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

// UserService owns account status changes: suspensions, bans and the
// warning reset. Warning increments belong to ReportService.
type UserService struct {
	store   storage.Store
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewUserService(store storage.Store, metrics *Metrics, logger *zap.Logger) *UserService {
	return &UserService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "user", userID, "get user")
	}
	return u, nil
}

// AdminIDs lists the users holding the admin role.
func (s *UserService) AdminIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListAdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return ids, nil
}

// Suspend sets the user to suspended until now + days. Banned users cannot
// be suspended.
func (s *UserService) Suspend(ctx context.Context, userID string, days int, reason string) (*models.User, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.UserBanned {
		return nil, fmt.Errorf("%w: user %s is banned", ErrInvalidTransition, userID)
	}

	at := s.now()
	until := at.AddDate(0, 0, days)
	user, err := s.store.ApplySanction(ctx, userID, models.UserSanction{
		Status:           models.UserSuspended,
		SuspendedAt:      &at,
		SuspendedUntil:   &until,
		SuspensionReason: &reason,
		IncSuspendCount:  true,
		UpdatedAt:        at,
	})
	if err != nil {
		return nil, notFoundOr(err, "user", userID, "suspend user")
	}
	s.metrics.Sanction("suspend")
	return user, nil
}

func (s *UserService) Ban(ctx context.Context, userID, reason string) (*models.User, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.UserBanned {
		return nil, fmt.Errorf("%w: user %s is already banned", ErrInvalidTransition, userID)
	}

	at := s.now()
	user, err := s.store.ApplySanction(ctx, userID, models.UserSanction{
		Status:    models.UserBanned,
		BannedAt:  &at,
		BanReason: &reason,
		UpdatedAt: at,
	})
	if err != nil {
		return nil, notFoundOr(err, "user", userID, "ban user")
	}
	s.metrics.Sanction("ban")
	return user, nil
}

// ResetWarnings zeroes the warning count. A user in warning status goes
// back to active; other statuses are kept.
func (s *UserService) ResetWarnings(ctx context.Context, userID string) (*models.User, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sanction := models.UserSanction{ResetWarnings: true, UpdatedAt: s.now()}
	if current.Status == models.UserWarning {
		sanction.Status = models.UserActive
	}
	user, err := s.store.ApplySanction(ctx, userID, sanction)
	if err != nil {
		return nil, notFoundOr(err, "user", userID, "reset warnings")
	}
	s.metrics.Sanction("reset_warnings")
	s.logger.Info("warnings reset", zap.String("user_id", userID))
	return user, nil
}
