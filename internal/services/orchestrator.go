package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

const (
	stepLoadUser       = "load_user"
	stepApplySanction  = "apply_sanction"
	stepNotifyUser     = "notify_user"
	stepResolveReports = "resolve_reports"
	stepCountReport    = "count_report"
	stepUrgentNotice   = "urgent_notice"

	eventTimeout = 30 * time.Second
)

// Options tunes the engine. Zero values pick the defaults.
type Options struct {
	ResolveChunkSize int
	DeliveryTimeout  time.Duration
}

// ReportOutcome is the result of handling one report-created event.
type ReportOutcome struct {
	Process        *ProcessResult    `json:"process,omitempty"`
	ReportCount    int               `json:"report_count"`
	Severity       AggregateSeverity `json:"severity"`
	UrgentNotified []string          `json:"urgent_notified,omitempty"`
}

// SanctionResult is returned by the user sanction flows. When an error is
// returned alongside it, the fields that are set describe what was applied.
type SanctionResult struct {
	User           *models.User   `json:"user,omitempty"`
	NotificationID string         `json:"notification_id,omitempty"`
	BanRecommended bool           `json:"ban_recommended"`
	Resolution     *ResolveResult `json:"resolution,omitempty"`
}

// Orchestrator composes the lifecycle managers into the flows the admin
// console and the worker call. It owns the configuration cache; every read
// and write goes through a manager.
type Orchestrator struct {
	configSvc     *ConfigurationService
	config        *ConfigCache
	rules         *Rules
	reports       *ReportService
	announcements *AnnouncementService
	posts         *PostService
	users         *UserService
	notifier      *NotificationService
	mailer        AlertMailer
	metrics       *Metrics
	logger        *zap.Logger

	mu    sync.Mutex
	stops []func()
}

// NewOrchestrator wires every service on top of store. push and mailer may
// be nil.
func NewOrchestrator(store storage.Store, push PushSender, mailer AlertMailer, metrics *Metrics, logger *zap.Logger, opts Options) *Orchestrator {
	rules := NewRules()
	configSvc := NewConfigurationService(store, logger.Named("config"))
	cache := NewConfigCache(configSvc, logger.Named("config"))
	notifier := NewNotificationService(store, push, metrics, logger.Named("dispatcher"), opts.DeliveryTimeout)

	return &Orchestrator{
		configSvc:     configSvc,
		config:        cache,
		rules:         rules,
		reports:       NewReportService(store, rules, cache, notifier, metrics, logger.Named("reports"), opts.ResolveChunkSize),
		announcements: NewAnnouncementService(store, notifier, metrics, logger.Named("announcements")),
		posts:         NewPostService(store, rules, cache, metrics, logger.Named("posts")),
		users:         NewUserService(store, metrics, logger.Named("users")),
		notifier:      notifier,
		mailer:        mailer,
		metrics:       metrics,
		logger:        logger.Named("orchestrator"),
	}
}

// StartConfig loads the configuration and follows changes to it. The admin
// API process only needs this half of Start.
func (o *Orchestrator) StartConfig(ctx context.Context) error {
	if err := o.config.Start(ctx); err != nil {
		return fmt.Errorf("start configuration cache: %w", err)
	}
	return nil
}

// Start loads the configuration and subscribes to configuration changes and
// report creation events.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.StartConfig(ctx); err != nil {
		return err
	}

	stop, err := o.reports.WatchNew(ctx,
		func(r *models.Report) {
			ectx, cancel := context.WithTimeout(ctx, eventTimeout)
			defer cancel()
			if _, err := o.HandleReportCreated(ectx, r.ID); err != nil {
				o.logger.Error("report event failed", zap.String("report_id", r.ID), zap.Error(err))
			}
		},
		func(err error) {
			o.logger.Warn("report subscription error", zap.Error(err))
		},
	)
	if err != nil {
		o.config.Stop()
		return fmt.Errorf("subscribe to reports: %w", err)
	}

	o.mu.Lock()
	o.stops = append(o.stops, stop)
	o.mu.Unlock()
	o.logger.Info("orchestrator started")
	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stops := o.stops
	o.stops = nil
	o.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	o.config.Stop()
}

// Config returns the live configuration snapshot.
func (o *Orchestrator) Config() ConfigSource {
	return o.config
}

// Reports

// HandleReportCreated reacts to a new report: it counts the report against
// its post exactly once, runs auto-removal, and surfaces the urgent notice
// when the post's count is at or above the urgent threshold. The urgent
// check is derived from the stored count every time, and the notice records
// are keyed per (post, admin), so redelivered events never notify twice.
func (o *Orchestrator) HandleReportCreated(ctx context.Context, reportID string) (*ReportOutcome, error) {
	report, err := o.reports.Get(ctx, reportID)
	if err != nil {
		return nil, &StepError{Step: stepLoadReport, Err: err}
	}

	count, counted, err := o.reports.Count(ctx, reportID)
	if err != nil {
		return nil, &StepError{Step: stepCountReport, Err: err}
	}

	th := o.config.Current().ReportThresholds
	out := &ReportOutcome{ReportCount: count, Severity: o.rules.AggregateSeverity(count, th)}

	var errs []error
	proc, perr := o.reports.ProcessNew(ctx, reportID)
	out.Process = proc
	if perr != nil {
		errs = append(errs, perr)
	}

	if out.Severity == AggregateUrgent {
		notified, uerr := o.raiseUrgent(ctx, report, count, th, counted)
		out.UrgentNotified = notified
		if uerr != nil {
			errs = append(errs, &StepError{Step: stepUrgentNotice, Err: uerr})
		}
	}

	o.logger.Debug("report handled",
		zap.String("report_id", reportID),
		zap.Int("count", count),
		zap.Bool("newly_counted", counted),
		zap.String("aggregate", string(out.Severity)),
	)
	return out, errors.Join(errs...)
}

func (o *Orchestrator) raiseUrgent(ctx context.Context, report *models.Report, count int, th models.ReportThresholds, counted bool) ([]string, error) {
	admins, err := o.users.AdminIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		notified []string
		errs     []error
	)
	for _, adminID := range admins {
		_, created, err := o.notifier.SendUrgentReport(ctx, adminID, report.PostID, count)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify admin %s: %w", adminID, err))
			continue
		}
		if created {
			notified = append(notified, adminID)
		}
	}

	first := len(notified) > 0
	if len(admins) == 0 {
		first = counted && o.rules.CrossedUrgent(count, th)
	}
	if !first {
		return notified, errors.Join(errs...)
	}

	o.metrics.UrgentReport()
	o.logger.Warn("post reached urgent report threshold",
		zap.String("post_id", report.PostID),
		zap.Int("count", count),
		zap.Int("admins_notified", len(notified)),
	)
	if o.mailer != nil {
		err := o.mailer.SendUrgentAlert(ctx, UrgentAlert{
			PostID:      report.PostID,
			AuthorID:    report.ReportedUserID,
			ReportCount: count,
			Threshold:   th.Urgent,
			Category:    string(report.Category),
		})
		if err != nil {
			o.logger.Warn("urgent alert e-mail failed", zap.String("post_id", report.PostID), zap.Error(err))
		}
	}
	return notified, errors.Join(errs...)
}

func (o *Orchestrator) UpdateReportStatus(ctx context.Context, reportID string, status models.ReportStatus) (*models.Report, error) {
	return o.reports.UpdateStatus(ctx, reportID, status)
}

func (o *Orchestrator) PostSeverity(ctx context.Context, postID string) (*PostSeverity, error) {
	return o.reports.AggregateSeverity(ctx, postID)
}

// Announcements

func (o *Orchestrator) CreateAnnouncement(ctx context.Context, req models.CreateAnnouncementRequest) (*models.Announcement, error) {
	return o.announcements.Create(ctx, req)
}

func (o *Orchestrator) ApproveAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	return o.announcements.Approve(ctx, id)
}

func (o *Orchestrator) DeclineAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	return o.announcements.Decline(ctx, id)
}

func (o *Orchestrator) RemoveAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	return o.announcements.Remove(ctx, id)
}

func (o *Orchestrator) ForceEvaluateAnnouncements(ctx context.Context) (*EvaluateResult, error) {
	return o.announcements.EvaluateNow(ctx)
}

// Sweeps. Each is idempotent and may overlap with itself.

func (o *Orchestrator) SweepAnnouncementActivation(ctx context.Context) (*SweepResult, error) {
	return o.announcements.SweepActivation(ctx)
}

func (o *Orchestrator) SweepAnnouncementExpiry(ctx context.Context) (*SweepResult, error) {
	return o.announcements.SweepExpiry(ctx)
}

func (o *Orchestrator) SweepPostExpiry(ctx context.Context) (*SweepResult, error) {
	return o.posts.SweepExpired(ctx)
}

// RunSweep runs a sweep by name.
func (o *Orchestrator) RunSweep(ctx context.Context, name string) (*SweepResult, error) {
	switch name {
	case SweepActivation:
		return o.SweepAnnouncementActivation(ctx)
	case SweepExpiry:
		return o.SweepAnnouncementExpiry(ctx)
	case SweepPosts:
		return o.SweepPostExpiry(ctx)
	}
	return nil, NewValidationError(map[string]string{"sweep": "Unknown sweep " + name})
}

// Users

// WarnUser increments the warning count, sends the warning notice and
// resolves the user's pending reports. Reaching the ban threshold only sets
// BanRecommended; banning stays an explicit admin action.
func (o *Orchestrator) WarnUser(ctx context.Context, adminID, userID string, req models.WarnUserRequest) (*SanctionResult, error) {
	user, err := o.reports.IncrementWarning(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &SanctionResult{
		User:           user,
		BanRecommended: o.rules.BanRecommended(user.WarningCount, o.config.Current().BanThreshold),
	}
	if res.BanRecommended {
		o.logger.Info("ban threshold reached",
			zap.String("user_id", userID),
			zap.Int("warning_count", user.WarningCount),
		)
	}

	nid, nerr := o.notifier.SendWarning(ctx, userID, req.PostID, req.Message, adminID)
	res.NotificationID = nid
	return o.finishSanction(ctx, res, "warn", nerr)
}

// SuspendUser suspends for durationDays, or the configured ban duration when
// zero.
func (o *Orchestrator) SuspendUser(ctx context.Context, adminID, userID string, req models.SuspendUserRequest) (*SanctionResult, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}
	days := req.DurationDays
	if days == 0 {
		days = o.config.Current().BanDurationDays
	}

	reason := req.Reason
	user, err := o.users.Suspend(ctx, userID, days, reason)
	if err != nil {
		return nil, err
	}

	res := &SanctionResult{User: user}
	nid, nerr := o.notifier.SendTemporaryBan(ctx, userID, days, reason, adminID)
	res.NotificationID = nid
	return o.finishSanction(ctx, res, "suspend", nerr)
}

func (o *Orchestrator) BanUser(ctx context.Context, adminID, userID string, req models.BanUserRequest) (*SanctionResult, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	reason := req.Reason
	user, err := o.users.Ban(ctx, userID, reason)
	if err != nil {
		return nil, err
	}

	res := &SanctionResult{User: user}
	nid, nerr := o.notifier.SendPermanentBan(ctx, userID, reason, adminID)
	res.NotificationID = nid
	return o.finishSanction(ctx, res, "ban", nerr)
}

// finishSanction resolves the user's pending reports once the status change
// has been written. Notification and resolution failures are both returned;
// neither undoes the status change.
func (o *Orchestrator) finishSanction(ctx context.Context, res *SanctionResult, action string, notifyErr error) (*SanctionResult, error) {
	var errs []error
	completed := []string{stepApplySanction}
	if notifyErr != nil {
		errs = append(errs, &StepError{Step: stepNotifyUser, Completed: completed, Err: notifyErr})
	} else {
		completed = append(completed, stepNotifyUser)
	}

	resolution, rerr := o.reports.ResolvePendingForUser(ctx, res.User.ID)
	res.Resolution = resolution
	if rerr != nil {
		var pbe *PartialBatchError
		if errors.As(rerr, &pbe) {
			errs = append(errs, rerr)
		} else {
			errs = append(errs, &StepError{Step: stepResolveReports, Completed: completed, Err: rerr})
		}
	}

	if len(errs) > 0 {
		o.logger.Error("sanction applied with follow-up failures",
			zap.String("action", action),
			zap.String("user_id", res.User.ID),
			zap.Errors("errors", errs),
		)
		return res, errors.Join(errs...)
	}
	o.logger.Info("sanction applied",
		zap.String("action", action),
		zap.String("user_id", res.User.ID),
		zap.String("status", string(res.User.Status)),
	)
	return res, nil
}

// ResetWarnings is the explicit admin reset of a user's warning count.
func (o *Orchestrator) ResetWarnings(ctx context.Context, userID string) (*models.User, error) {
	return o.users.ResetWarnings(ctx, userID)
}

// Configuration

func (o *Orchestrator) GetConfiguration(ctx context.Context) (*models.Configuration, error) {
	return o.configSvc.Get(ctx)
}

// UpdateConfiguration writes through the audited path and refreshes the
// local snapshot without waiting for the subscription.
func (o *Orchestrator) UpdateConfiguration(ctx context.Context, upd models.ConfigurationUpdate, actor string) (*models.Configuration, error) {
	cfg, err := o.configSvc.Update(ctx, upd, actor)
	if err != nil {
		return nil, err
	}
	o.config.Set(*cfg)
	return cfg, nil
}

func (o *Orchestrator) ConfigurationLog(ctx context.Context, limit int) ([]*models.ConfigurationChangeLog, error) {
	return o.configSvc.ChangeLog(ctx, limit)
}
