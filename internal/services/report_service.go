package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

// Steps of the auto-removal flow, in order.
const (
	stepLoadReport    = "load_report"
	stepLoadPost      = "load_post"
	stepRemovePost    = "remove_post"
	stepResolveReport = "resolve_report"
	stepNotifyAuthor  = "notify_author"
)

// ProcessResult describes what ingestion did with one report.
type ProcessResult struct {
	ReportID       string   `json:"report_id"`
	PostID         string   `json:"post_id"`
	Severity       Severity `json:"severity"`
	AutoRemoved    bool     `json:"auto_removed"`
	PostRemovedNow bool     `json:"post_removed_now"`
	AlreadyRemoved bool     `json:"already_removed,omitempty"`
	NotificationID string   `json:"notification_id,omitempty"`
}

// PostSeverity is the dashboard urgency of a post.
type PostSeverity struct {
	PostID      string                  `json:"post_id"`
	ReportCount int                     `json:"report_count"`
	Severity    AggregateSeverity       `json:"severity"`
	Thresholds  models.ReportThresholds `json:"thresholds"`
}

// ResolveResult summarises a chunked resolution run.
type ResolveResult struct {
	UserID   string `json:"user_id"`
	Posts    int    `json:"posts"`
	Chunks   int    `json:"chunks"`
	Resolved int    `json:"resolved"`
}

type ReportService struct {
	store     storage.Store
	rules     *Rules
	config    ConfigSource
	notifier  *NotificationService
	metrics   *Metrics
	logger    *zap.Logger
	chunkSize int
	now       func() time.Time
}

func NewReportService(store storage.Store, rules *Rules, config ConfigSource, notifier *NotificationService, metrics *Metrics, logger *zap.Logger, chunkSize int) *ReportService {
	if chunkSize <= 0 || chunkSize > storage.InQueryLimit {
		chunkSize = storage.InQueryLimit
	}
	return &ReportService{
		store:     store,
		rules:     rules,
		config:    config,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		chunkSize: chunkSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessNew runs ingestion for a report. Non-high reports, and high reports
// against a post that something else already removed, are left pending for
// manual review. High-severity reports remove the post, resolve the
// report and notify the author, strictly in that order; the first failing
// step stops the flow and is reported as a *StepError. Every step is safe to
// repeat, so re-processing completes a flow that stopped half way without
// re-stamping the post or sending a second notice.
func (s *ReportService) ProcessNew(ctx context.Context, reportID string) (*ProcessResult, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, &StepError{Step: stepLoadReport, Err: notFoundOr(err, "report", reportID, "get report")}
	}

	sev := s.rules.Classify(report.Category)
	res := &ProcessResult{ReportID: report.ID, PostID: report.PostID, Severity: sev}
	log := s.logger.With(
		zap.String("report_id", report.ID),
		zap.String("post_id", report.PostID),
		zap.String("severity", string(sev)),
	)

	if sev != SeverityHigh || report.Status == models.ReportDismissed {
		s.metrics.ReportProcessed(sev)
		log.Debug("report left for manual review")
		return res, nil
	}

	completed := make([]string, 0, 3)
	fail := func(step string, err error) (*ProcessResult, error) {
		log.Error("auto-removal halted",
			zap.String("step", step),
			zap.Strings("completed", completed),
			zap.Error(err),
		)
		return res, &StepError{Step: step, Completed: completed, Err: err}
	}

	post, err := s.store.GetPost(ctx, report.PostID)
	if err != nil {
		return fail(stepLoadPost, notFoundOr(err, "post", report.PostID, "get post"))
	}

	if removedByOther(post, report.ID) {
		res.AlreadyRemoved = true
		s.metrics.ReportProcessed(sev)
		log.Info("post already removed, report left for review", zap.String("removed_by_report", post.RemovedByReport))
		return res, nil
	}

	reason := s.rules.RemovalReason(report.Category)
	removedNow, err := s.store.RemovePost(ctx, post.ID, report.ID, reason, s.now())
	if err != nil {
		return fail(stepRemovePost, notFoundOr(err, "post", post.ID, "remove post"))
	}
	if !removedNow {
		// Someone else may have removed it between the read and the write.
		post, err = s.store.GetPost(ctx, report.PostID)
		if err != nil {
			return fail(stepLoadPost, notFoundOr(err, "post", report.PostID, "get post"))
		}
		if removedByOther(post, report.ID) {
			res.AlreadyRemoved = true
			s.metrics.ReportProcessed(sev)
			log.Info("post already removed, report left for review", zap.String("removed_by_report", post.RemovedByReport))
			return res, nil
		}
	}
	completed = append(completed, stepRemovePost)
	res.PostRemovedNow = removedNow
	if removedNow {
		s.metrics.PostAutoRemoved()
	}

	if report.Status != models.ReportResolved || !report.AutoRemoved {
		auto := true
		err := s.store.UpdateReport(ctx, report.ID, models.ReportUpdate{
			Status:      models.ReportResolved,
			AutoRemoved: &auto,
			UpdatedAt:   s.now(),
		})
		if err != nil {
			return fail(stepResolveReport, notFoundOr(err, "report", report.ID, "resolve report"))
		}
	}
	completed = append(completed, stepResolveReport)
	res.AutoRemoved = true

	author := report.ReportedUserID
	if author == "" {
		author = post.UserID
	}
	notifReason := post.RemovedReason
	if notifReason == "" {
		notifReason = reason
	}
	nid, err := s.notifier.SendPostRemoved(ctx, author, post.ID, notifReason)
	if err != nil {
		return fail(stepNotifyAuthor, err)
	}
	completed = append(completed, stepNotifyAuthor)
	res.NotificationID = nid

	s.metrics.ReportProcessed(sev)
	log.Info("post auto-removed",
		zap.Bool("removed_now", removedNow),
		zap.String("category", string(report.Category)),
	)
	return res, nil
}

// removedByOther reports whether post was removed by anything other than the
// auto-removal for reportID: an admin, or another report.
func removedByOther(post *models.Post, reportID string) bool {
	return post.Status == models.PostRemoved && post.RemovedByReport != reportID
}

func (s *ReportService) Get(ctx context.Context, reportID string) (*models.Report, error) {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, notFoundOr(err, "report", reportID, "get report")
	}
	return r, nil
}

// Count adds the report to its post's reportCount. counted is false when the
// report had already been counted, in which case count is the current total.
func (s *ReportService) Count(ctx context.Context, reportID string) (count int, counted bool, err error) {
	count, counted, err = s.store.CountReport(ctx, reportID)
	if err != nil {
		return 0, false, notFoundOr(err, "report", reportID, "count report")
	}
	return count, counted, nil
}

// WatchNew subscribes to report creation. Pending reports that already exist
// are delivered first.
func (s *ReportService) WatchNew(ctx context.Context, onReport func(*models.Report), onError func(error)) (func(), error) {
	return s.store.WatchNewReports(ctx, onReport, onError)
}

// IncrementWarning adds one warning to the user and moves an active user to
// warning status.
func (s *ReportService) IncrementWarning(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.IncrementWarningCount(ctx, userID, s.now())
	if err != nil {
		return nil, notFoundOr(err, "user", userID, "increment warning count")
	}
	s.metrics.Sanction("warn")
	return u, nil
}

// AggregateSeverity evaluates a post's report count against the current
// thresholds. Nothing is cached.
func (s *ReportService) AggregateSeverity(ctx context.Context, postID string) (*PostSeverity, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, notFoundOr(err, "post", postID, "get post")
	}
	th := s.config.Current().ReportThresholds
	return &PostSeverity{
		PostID:      post.ID,
		ReportCount: post.ReportCount,
		Severity:    s.rules.AggregateSeverity(post.ReportCount, th),
		Thresholds:  th,
	}, nil
}

// UpdateStatus is the admin path: pending reports become resolved or
// dismissed. Setting a report to the status it already has is a no-op.
func (s *ReportService) UpdateStatus(ctx context.Context, reportID string, status models.ReportStatus) (*models.Report, error) {
	req := models.UpdateReportStatusRequest{Status: status}
	if fields := req.Validate(); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, notFoundOr(err, "report", reportID, "get report")
	}
	if report.Status == status {
		return report, nil
	}
	if report.Status != models.ReportPending {
		return nil, fmt.Errorf("%w: report %s is %s", ErrInvalidTransition, reportID, report.Status)
	}

	at := s.now()
	if err := s.store.UpdateReport(ctx, reportID, models.ReportUpdate{Status: status, UpdatedAt: at}); err != nil {
		return nil, notFoundOr(err, "report", reportID, "update report")
	}
	report.Status = status
	report.UpdatedAt = at
	return report, nil
}

// ResolvePendingForUser resolves every pending report against any of the
// user's posts. Post ids are split into chunks that are resolved
// independently; failed chunks are returned together as a
// *PartialBatchError while the other chunks stay applied.
func (s *ReportService) ResolvePendingForUser(ctx context.Context, userID string) (*ResolveResult, error) {
	postIDs, err := s.store.ListPostIDsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list posts for user: %w", err)
	}
	chunks := chunkIDs(postIDs, s.chunkSize)
	res := &ResolveResult{UserID: userID, Posts: len(postIDs), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	at := s.now()
	var (
		mu       sync.Mutex
		failures []ChunkFailure
	)

	// Chunk goroutines never return an error so one failure cannot cancel
	// the others.
	var g errgroup.Group
	g.SetLimit(4)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			n, err := s.store.ResolvePendingReportsForPosts(ctx, chunk, at)
			s.metrics.ReportChunk(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, ChunkFailure{Index: i, IDs: chunk, Err: err})
				return nil
			}
			res.Resolved += n
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
		s.logger.Error("report resolution partially failed",
			zap.String("user_id", userID),
			zap.Int("failed_chunks", len(failures)),
			zap.Int("chunks", len(chunks)),
		)
		return res, &PartialBatchError{Op: "resolve pending reports", Total: len(chunks), Failures: failures}
	}

	s.logger.Info("pending reports resolved",
		zap.String("user_id", userID),
		zap.Int("resolved", res.Resolved),
		zap.Int("chunks", len(chunks)),
	)
	return res, nil
}
