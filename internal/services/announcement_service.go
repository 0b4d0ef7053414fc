package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

// SweepBatchLimit caps how many documents one sweep moves. Firestore allows
// 500 writes per transaction; whatever is left over is picked up next tick.
const SweepBatchLimit = 450

// Sweep names, used in logs, metrics and the worker's sweep endpoint.
const (
	SweepActivation = "activation"
	SweepExpiry     = "expiry"
	SweepPosts      = "posts"
)

var removableFrom = []models.AnnouncementStatus{
	models.AnnouncementPending,
	models.AnnouncementScheduled,
	models.AnnouncementActive,
	models.AnnouncementExpired,
}

// SweepResult reports what one sweep found and moved.
type SweepResult struct {
	Sweep        string   `json:"sweep"`
	Due          int      `json:"due"`
	Transitioned []string `json:"transitioned"`
}

type EvaluateResult struct {
	Activated []string `json:"activated"`
	Expired   []string `json:"expired"`
}

// AnnouncementService owns the announcement state machine.
type AnnouncementService struct {
	store      storage.Store
	notifier   *NotificationService
	metrics    *Metrics
	logger     *zap.Logger
	batchLimit int
	now        func() time.Time
}

func NewAnnouncementService(store storage.Store, notifier *NotificationService, metrics *Metrics, logger *zap.Logger) *AnnouncementService {
	return &AnnouncementService{
		store:      store,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		batchLimit: SweepBatchLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create records a new announcement in pending.
func (s *AnnouncementService) Create(ctx context.Context, req models.CreateAnnouncementRequest) (*models.Announcement, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	now := s.now()
	a := &models.Announcement{
		ID:          uuid.New().String(),
		AnnouncerID: req.AnnouncerID,
		Title:       req.Title,
		Body:        req.Body,
		Status:      models.AnnouncementPending,
		IsUrgent:    req.IsUrgent,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAnnouncement(ctx, a); err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	return a, nil
}

func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	a, err := s.store.GetAnnouncement(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "announcement", id, "get announcement")
	}
	return a, nil
}

func (s *AnnouncementService) Approve(ctx context.Context, id string) (*models.Announcement, error) {
	return s.transition(ctx, id, []models.AnnouncementStatus{models.AnnouncementPending}, models.AnnouncementScheduled)
}

func (s *AnnouncementService) Decline(ctx context.Context, id string) (*models.Announcement, error) {
	return s.transition(ctx, id, []models.AnnouncementStatus{models.AnnouncementPending}, models.AnnouncementDeclined)
}

// Remove takes an announcement down from any non-terminal state. Removing
// an already removed announcement returns it unchanged.
func (s *AnnouncementService) Remove(ctx context.Context, id string) (*models.Announcement, error) {
	return s.transition(ctx, id, removableFrom, models.AnnouncementRemoved)
}

func (s *AnnouncementService) transition(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus) (*models.Announcement, error) {
	a, err := s.store.TransitionAnnouncement(ctx, id, from, to, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			cur, gerr := s.store.GetAnnouncement(ctx, id)
			if gerr != nil {
				return nil, notFoundOr(gerr, "announcement", id, "get announcement")
			}
			if cur.Status == to {
				return cur, nil
			}
			return nil, fmt.Errorf("%w: announcement %s is %s, cannot become %s", ErrInvalidTransition, id, cur.Status, to)
		}
		return nil, notFoundOr(err, "announcement", id, "transition announcement")
	}

	s.metrics.AnnouncementTransition(string(to), "admin", 1)
	s.logger.Info("announcement transitioned",
		zap.String("announcement_id", id),
		zap.String("status", string(to)),
	)
	s.notifyAnnouncer(ctx, a)
	return a, nil
}

// notifyAnnouncer is best effort: the transition has already been committed
// and the notice is keyed, so a later retry cannot duplicate it.
func (s *AnnouncementService) notifyAnnouncer(ctx context.Context, a *models.Announcement) {
	if s.notifier == nil || a.AnnouncerID == "" {
		return
	}
	if _, err := s.notifier.SendAnnouncementStatus(ctx, a); err != nil {
		s.logger.Warn("announcer notification failed",
			zap.String("announcement_id", a.ID),
			zap.String("status", string(a.Status)),
			zap.Error(err),
		)
	}
}

// SweepActivation moves scheduled announcements whose start date has passed
// to active.
func (s *AnnouncementService) SweepActivation(ctx context.Context) (*SweepResult, error) {
	return s.sweep(ctx, SweepActivation, models.AnnouncementScheduled, models.AnnouncementActive)
}

// SweepExpiry moves active announcements whose end date has passed to
// expired.
func (s *AnnouncementService) SweepExpiry(ctx context.Context) (*SweepResult, error) {
	return s.sweep(ctx, SweepExpiry, models.AnnouncementActive, models.AnnouncementExpired)
}

// sweep re-reads due documents on every call and lets the store re-check
// each one inside the batch, so overlapping sweeps never move a document
// twice.
func (s *AnnouncementService) sweep(ctx context.Context, name string, from, to models.AnnouncementStatus) (res *SweepResult, err error) {
	started := time.Now()
	defer func() { s.metrics.SweepRun(name, started, err) }()

	now := s.now()
	res = &SweepResult{Sweep: name, Transitioned: []string{}}

	due, err := s.store.ListDueAnnouncements(ctx, from, now, s.batchLimit)
	if err != nil {
		s.logger.Warn("sweep query failed", zap.String("sweep", name), zap.Error(err))
		return res, fmt.Errorf("%s sweep: list due: %w", name, err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	moved, err := s.store.TransitionDueAnnouncements(ctx, ids, from, to, now, now)
	if err != nil {
		s.logger.Warn("sweep batch failed", zap.String("sweep", name), zap.Int("due", len(ids)), zap.Error(err))
		return res, fmt.Errorf("%s sweep: transition: %w", name, err)
	}
	res.Transitioned = moved
	s.metrics.AnnouncementTransition(string(to), "sweep", len(moved))

	for _, id := range moved {
		a, err := s.store.GetAnnouncement(ctx, id)
		if err != nil {
			s.logger.Warn("sweep reload failed", zap.String("announcement_id", id), zap.Error(err))
			continue
		}
		s.notifyAnnouncer(ctx, a)
	}

	s.logger.Info("sweep completed",
		zap.String("sweep", name),
		zap.Int("due", len(ids)),
		zap.Int("transitioned", len(moved)),
	)
	return res, nil
}

// EvaluateNow runs activation then expiry, so an announcement whose whole
// window has already passed converges in one call.
func (s *AnnouncementService) EvaluateNow(ctx context.Context) (*EvaluateResult, error) {
	out := &EvaluateResult{Activated: []string{}, Expired: []string{}}

	act, err := s.SweepActivation(ctx)
	if err != nil {
		return out, err
	}
	out.Activated = act.Transitioned

	exp, err := s.SweepExpiry(ctx)
	if err != nil {
		return out, err
	}
	out.Expired = exp.Transitioned
	return out, nil
}
