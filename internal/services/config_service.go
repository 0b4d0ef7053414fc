package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

// ConfigurationService is the audited read/update path for the singleton
// configuration document.
type ConfigurationService struct {
	store    storage.Store
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewConfigurationService(store storage.Store, logger *zap.Logger) *ConfigurationService {
	v := validator.New()
	// Report json names in validation errors so handlers can echo them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &ConfigurationService{
		store:    store,
		validate: v,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the current configuration, writing the defaults first if no
// document exists yet.
func (s *ConfigurationService) Get(ctx context.Context) (*models.Configuration, error) {
	cfg, err := s.store.GetConfiguration(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get configuration: %w", err)
	}

	def := models.DefaultConfiguration()
	def.LastUpdated = s.now()
	if err := s.store.SaveConfiguration(ctx, &def, nil); err != nil {
		return nil, fmt.Errorf("create default configuration: %w", err)
	}
	s.logger.Info("created default configuration")
	return &def, nil
}

// Update applies a partial change on behalf of actor. The merged document is
// validated before anything is written, and one change log entry is written
// per field whose value actually changed.
func (s *ConfigurationService) Update(ctx context.Context, upd models.ConfigurationUpdate, actor string) (*models.Configuration, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, NewValidationError(map[string]string{"updated_by": "Actor is required"})
	}

	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	next := *current
	if upd.PostVisibilityDurationHours != nil {
		next.PostVisibilityDurationHours = *upd.PostVisibilityDurationHours
	}
	if upd.DailyFreePostLimit != nil {
		next.DailyFreePostLimit = *upd.DailyFreePostLimit
	}
	if upd.ReportThresholds != nil {
		next.ReportThresholds = *upd.ReportThresholds
	}
	if upd.BanThreshold != nil {
		next.BanThreshold = *upd.BanThreshold
	}
	if upd.BanDurationDays != nil {
		next.BanDurationDays = *upd.BanDurationDays
	}
	if upd.EmojiPinPrice != nil {
		next.EmojiPinPrice = *upd.EmojiPinPrice
	}

	if fields := s.validateConfiguration(&next); len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	at := s.now()
	changes := diffConfiguration(current, &next, actor, at)
	if len(changes) == 0 {
		return current, nil
	}

	next.LastUpdated = at
	next.UpdatedBy = actor
	if err := s.store.SaveConfiguration(ctx, &next, changes); err != nil {
		return nil, fmt.Errorf("save configuration: %w", err)
	}

	s.logger.Info("configuration updated",
		zap.String("actor", actor),
		zap.Int("fields", len(changes)),
	)
	return &next, nil
}

// ChangeLog returns the most recent configuration changes, newest first.
func (s *ConfigurationService) ChangeLog(ctx context.Context, limit int) ([]*models.ConfigurationChangeLog, error) {
	logs, err := s.store.ListConfigurationLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list configuration logs: %w", err)
	}
	return logs, nil
}

// Watch forwards store-side configuration changes.
func (s *ConfigurationService) Watch(ctx context.Context, onChange func(*models.Configuration), onError func(error)) (func(), error) {
	return s.store.WatchConfiguration(ctx, onChange, onError)
}

func (s *ConfigurationService) validateConfiguration(cfg *models.Configuration) map[string]string {
	err := s.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"configuration": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Drop the root struct name.
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		fields[key] = validationMessage(fe)
	}
	return fields
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return "Must be at least " + fe.Param()
	case "lte":
		return "Must be at most " + fe.Param()
	case "gtfield":
		return "Must be greater than " + strings.ToLower(fe.Param()) + " threshold"
	}
	return "Invalid value"
}

func diffConfiguration(old, next *models.Configuration, actor string, at time.Time) []models.ConfigurationChangeLog {
	type pair struct {
		field    string
		old, new string
	}
	itoa := strconv.Itoa
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

	pairs := []pair{
		{"postVisibilityDurationHours", itoa(old.PostVisibilityDurationHours), itoa(next.PostVisibilityDurationHours)},
		{"dailyFreePostLimit", itoa(old.DailyFreePostLimit), itoa(next.DailyFreePostLimit)},
		{"reportThresholds.normal", itoa(old.ReportThresholds.Normal), itoa(next.ReportThresholds.Normal)},
		{"reportThresholds.warning", itoa(old.ReportThresholds.Warning), itoa(next.ReportThresholds.Warning)},
		{"reportThresholds.urgent", itoa(old.ReportThresholds.Urgent), itoa(next.ReportThresholds.Urgent)},
		{"banThreshold", itoa(old.BanThreshold), itoa(next.BanThreshold)},
		{"banDurationDays", itoa(old.BanDurationDays), itoa(next.BanDurationDays)},
		{"emojiPinPrice", ftoa(old.EmojiPinPrice), ftoa(next.EmojiPinPrice)},
	}

	changes := make([]models.ConfigurationChangeLog, 0)
	for _, p := range pairs {
		if p.old == p.new {
			continue
		}
		changes = append(changes, models.ConfigurationChangeLog{
			Field:     p.field,
			OldValue:  p.old,
			NewValue:  p.new,
			ChangedBy: actor,
			ChangedAt: at,
		})
	}
	return changes
}
