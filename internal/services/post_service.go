package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/storage"
)

// PostService expires posts once their visibility window has passed.
type PostService struct {
	store   storage.Store
	rules   *Rules
	config  ConfigSource
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewPostService(store storage.Store, rules *Rules, config ConfigSource, metrics *Metrics, logger *zap.Logger) *PostService {
	return &PostService{
		store:   store,
		rules:   rules,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SweepExpired moves active posts past their visibility window to expired in
// one batch. Removed posts are never touched.
func (s *PostService) SweepExpired(ctx context.Context) (res *SweepResult, err error) {
	started := time.Now()
	defer func() { s.metrics.SweepRun(SweepPosts, started, err) }()

	now := s.now()
	hours := s.config.Current().PostVisibilityDurationHours
	// A post created at cutoff expires exactly now.
	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	res = &SweepResult{Sweep: SweepPosts, Transitioned: []string{}}

	posts, err := s.store.ListActivePostsCreatedBefore(ctx, cutoff, SweepBatchLimit)
	if err != nil {
		return res, fmt.Errorf("posts sweep: list: %w", err)
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if !s.rules.PostExpiresAt(p.CreatedAt, hours).After(now) {
			ids = append(ids, p.ID)
		}
	}
	res.Due = len(ids)
	if len(ids) == 0 {
		return res, nil
	}

	moved, err := s.store.ExpirePosts(ctx, ids, cutoff, now)
	if err != nil {
		s.logger.Warn("post expiry batch failed", zap.Int("due", len(ids)), zap.Error(err))
		return res, fmt.Errorf("posts sweep: expire: %w", err)
	}
	res.Transitioned = moved
	s.logger.Info("posts expired", zap.Int("due", len(ids)), zap.Int("expired", len(moved)))
	return res, nil
}
