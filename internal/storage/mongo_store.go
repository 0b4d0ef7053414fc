package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campuspulse/console/internal/models"
)

// MongoStore implements Store on MongoDB. Multi-document writes use
// transactions, so the deployment must be a replica set (Atlas is).
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	configCol        *mongo.Collection
	configLogsCol    *mongo.Collection
	reportsCol       *mongo.Collection
	postsCol         *mongo.Collection
	announcementsCol *mongo.Collection
	usersCol         *mongo.Collection
	notificationsCol *mongo.Collection
	notifLogsCol     *mongo.Collection
}

type mongoConfigDoc struct {
	ID                          string    `bson:"_id"`
	PostVisibilityDurationHours int       `bson:"post_visibility_duration_hours"`
	DailyFreePostLimit          int       `bson:"daily_free_post_limit"`
	NormalThreshold             int       `bson:"normal_threshold"`
	WarningThreshold            int       `bson:"warning_threshold"`
	UrgentThreshold             int       `bson:"urgent_threshold"`
	BanThreshold                int       `bson:"ban_threshold"`
	BanDurationDays             int       `bson:"ban_duration_days"`
	EmojiPinPrice               float64   `bson:"emoji_pin_price"`
	LastUpdated                 time.Time `bson:"last_updated"`
	UpdatedBy                   string    `bson:"updated_by"`
}

type mongoConfigLogDoc struct {
	ID        string    `bson:"_id"`
	Field     string    `bson:"field"`
	OldValue  string    `bson:"old_value"`
	NewValue  string    `bson:"new_value"`
	ChangedBy string    `bson:"changed_by"`
	ChangedAt time.Time `bson:"changed_at"`
}

type mongoReportDoc struct {
	ID             string    `bson:"_id"`
	ReporterID     string    `bson:"reporter_id"`
	ReportedUserID string    `bson:"reported_user_id"`
	PostID         string    `bson:"post_id"`
	Category       string    `bson:"category"`
	Description    string    `bson:"description"`
	ReportCount    int       `bson:"report_count"`
	Status         string    `bson:"status"`
	AutoRemoved    bool      `bson:"auto_removed"`
	Counted        bool      `bson:"counted"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type mongoPostDoc struct {
	ID              string     `bson:"_id"`
	UserID          string     `bson:"user_id"`
	Content         string     `bson:"content"`
	Status          string     `bson:"status"`
	ReportCount     int        `bson:"report_count"`
	CreatedAt       time.Time  `bson:"created_at"`
	RemovedAt       *time.Time `bson:"removed_at,omitempty"`
	RemovedReason   string     `bson:"removed_reason,omitempty"`
	RemovedByReport string     `bson:"removed_by_report,omitempty"`
	ExpiredAt       *time.Time `bson:"expired_at,omitempty"`
}

type mongoAnnouncementDoc struct {
	ID          string     `bson:"_id"`
	AnnouncerID string     `bson:"announcer_id"`
	Title       string     `bson:"title"`
	Body        string     `bson:"body"`
	Status      string     `bson:"status"`
	IsUrgent    bool       `bson:"is_urgent"`
	StartDate   time.Time  `bson:"start_date"`
	EndDate     time.Time  `bson:"end_date"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	ApprovedAt  *time.Time `bson:"approved_at,omitempty"`
	RejectedAt  *time.Time `bson:"rejected_at,omitempty"`
	ActivatedAt *time.Time `bson:"activated_at,omitempty"`
	ExpiredAt   *time.Time `bson:"expired_at,omitempty"`
	RemovedAt   *time.Time `bson:"removed_at,omitempty"`
}

type mongoUserDoc struct {
	ID               string     `bson:"_id"`
	Email            string     `bson:"email,omitempty"`
	DisplayName      string     `bson:"display_name,omitempty"`
	Role             string     `bson:"role,omitempty"`
	Status           string     `bson:"status"`
	WarningCount     int        `bson:"warning_count"`
	SuspendCount     int        `bson:"suspend_count"`
	LastWarningAt    *time.Time `bson:"last_warning_at,omitempty"`
	SuspendedAt      *time.Time `bson:"suspended_at,omitempty"`
	SuspendedUntil   *time.Time `bson:"suspended_until,omitempty"`
	SuspensionReason string     `bson:"suspension_reason,omitempty"`
	BannedAt         *time.Time `bson:"banned_at,omitempty"`
	BanReason        string     `bson:"ban_reason,omitempty"`
	FCMToken         string     `bson:"fcm_token,omitempty"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

type mongoNotificationDoc struct {
	ID            string    `bson:"_id"`
	UserID        string    `bson:"user_id"`
	Type          string    `bson:"type"`
	Title         string    `bson:"title"`
	Message       string    `bson:"message"`
	RelatedPostID string    `bson:"related_post_id,omitempty"`
	AdminID       string    `bson:"admin_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	IsRead        bool      `bson:"is_read"`
}

type mongoNotificationLogDoc struct {
	ID             string    `bson:"_id"`
	NotificationID string    `bson:"notification_id"`
	UserID         string    `bson:"user_id"`
	Type           string    `bson:"type"`
	Status         string    `bson:"status"`
	TokenPreview   string    `bson:"token_preview,omitempty"`
	TokenHash      string    `bson:"token_hash,omitempty"`
	MessageID      string    `bson:"message_id,omitempty"`
	Error          string    `bson:"error,omitempty"`
	TokenRemoved   bool      `bson:"token_removed"`
	CreatedAt      time.Time `bson:"created_at"`
}

func NewMongoStore(ctx context.Context, mongoURI, dbName string) (*MongoStore, error) {
	// Atlas occasionally fails TLS negotiation unless TLS 1.2 is forced.
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI).SetTLSConfig(tlsCfg))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:           client,
		db:               db,
		configCol:        db.Collection(ColConfiguration),
		configLogsCol:    db.Collection(ColConfigurationLogs),
		reportsCol:       db.Collection(ColReports),
		postsCol:         db.Collection(ColPosts),
		announcementsCol: db.Collection(ColAnnouncements),
		usersCol:         db.Collection(ColUsers),
		notificationsCol: db.Collection(ColNotifications),
		notifLogsCol:     db.Collection(ColNotificationLogs),
	}

	// Best-effort indexes.
	_, _ = s.reportsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	_, _ = s.postsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	_, _ = s.announcementsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "start_date", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
	})
	_, _ = s.usersCol.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "role", Value: 1}}})
	_, _ = s.notificationsCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}},
	})
	_, _ = s.configLogsCol.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "changed_at", Value: -1}}})

	return s, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mapMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *MongoStore) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return mapMongoErr(err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return mapMongoErr(err)
}

// Conversions

func configDocToModel(d mongoConfigDoc) *models.Configuration {
	return &models.Configuration{
		PostVisibilityDurationHours: d.PostVisibilityDurationHours,
		DailyFreePostLimit:          d.DailyFreePostLimit,
		ReportThresholds: models.ReportThresholds{
			Normal:  d.NormalThreshold,
			Warning: d.WarningThreshold,
			Urgent:  d.UrgentThreshold,
		},
		BanThreshold:    d.BanThreshold,
		BanDurationDays: d.BanDurationDays,
		EmojiPinPrice:   d.EmojiPinPrice,
		LastUpdated:     d.LastUpdated,
		UpdatedBy:       d.UpdatedBy,
	}
}

func reportDocToModel(d mongoReportDoc) *models.Report {
	return &models.Report{
		ID:             d.ID,
		ReporterID:     d.ReporterID,
		ReportedUserID: d.ReportedUserID,
		PostID:         d.PostID,
		Category:       models.ReportCategory(d.Category),
		Description:    d.Description,
		ReportCount:    d.ReportCount,
		Status:         models.ReportStatus(d.Status),
		AutoRemoved:    d.AutoRemoved,
		Counted:        d.Counted,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func postDocToModel(d mongoPostDoc) *models.Post {
	return &models.Post{
		ID:              d.ID,
		UserID:          d.UserID,
		Content:         d.Content,
		Status:          models.PostStatus(d.Status),
		ReportCount:     d.ReportCount,
		CreatedAt:       d.CreatedAt,
		RemovedAt:       d.RemovedAt,
		RemovedReason:   d.RemovedReason,
		RemovedByReport: d.RemovedByReport,
		ExpiredAt:       d.ExpiredAt,
	}
}

func announcementDocToModel(d mongoAnnouncementDoc) *models.Announcement {
	return &models.Announcement{
		ID:          d.ID,
		AnnouncerID: d.AnnouncerID,
		Title:       d.Title,
		Body:        d.Body,
		Status:      models.ParseAnnouncementStatus(d.Status),
		IsUrgent:    d.IsUrgent,
		StartDate:   d.StartDate,
		EndDate:     d.EndDate,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ApprovedAt:  d.ApprovedAt,
		RejectedAt:  d.RejectedAt,
		ActivatedAt: d.ActivatedAt,
		ExpiredAt:   d.ExpiredAt,
		RemovedAt:   d.RemovedAt,
	}
}

func userDocToModel(d mongoUserDoc) *models.User {
	st := models.UserStatus(d.Status)
	if st == "" {
		st = models.UserActive
	}
	return &models.User{
		ID:               d.ID,
		Email:            d.Email,
		DisplayName:      d.DisplayName,
		Role:             d.Role,
		Status:           st,
		WarningCount:     d.WarningCount,
		SuspendCount:     d.SuspendCount,
		LastWarningAt:    d.LastWarningAt,
		SuspendedAt:      d.SuspendedAt,
		SuspendedUntil:   d.SuspendedUntil,
		SuspensionReason: d.SuspensionReason,
		BannedAt:         d.BannedAt,
		BanReason:        d.BanReason,
		FCMToken:         d.FCMToken,
		UpdatedAt:        d.UpdatedAt,
	}
}

// Configuration

func (s *MongoStore) GetConfiguration(ctx context.Context) (*models.Configuration, error) {
	var d mongoConfigDoc
	if err := s.configCol.FindOne(ctx, bson.M{"_id": configurationDocID}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return configDocToModel(d), nil
}

func (s *MongoStore) SaveConfiguration(ctx context.Context, cfg *models.Configuration, changes []models.ConfigurationChangeLog) error {
	doc := mongoConfigDoc{
		ID:                          configurationDocID,
		PostVisibilityDurationHours: cfg.PostVisibilityDurationHours,
		DailyFreePostLimit:          cfg.DailyFreePostLimit,
		NormalThreshold:             cfg.ReportThresholds.Normal,
		WarningThreshold:            cfg.ReportThresholds.Warning,
		UrgentThreshold:             cfg.ReportThresholds.Urgent,
		BanThreshold:                cfg.BanThreshold,
		BanDurationDays:             cfg.BanDurationDays,
		EmojiPinPrice:               cfg.EmojiPinPrice,
		LastUpdated:                 cfg.LastUpdated,
		UpdatedBy:                   cfg.UpdatedBy,
	}
	logs := make([]interface{}, 0, len(changes))
	for _, c := range changes {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		logs = append(logs, mongoConfigLogDoc{
			ID:        id,
			Field:     c.Field,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
			ChangedBy: c.ChangedBy,
			ChangedAt: c.ChangedAt,
		})
	}

	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.configCol.ReplaceOne(sc, bson.M{"_id": configurationDocID}, doc, options.Replace().SetUpsert(true)); err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		_, err := s.configLogsCol.InsertMany(sc, logs)
		return err
	})
}

func (s *MongoStore) WatchConfiguration(ctx context.Context, onChange func(*models.Configuration), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": configurationDocID}}}}
	cs, err := s.configCol.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, mapMongoErr(err)
	}

	if cfg, err := s.GetConfiguration(ctx); err == nil {
		onChange(cfg)
	}

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var ev struct {
				FullDocument *mongoConfigDoc `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				onError(err)
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			onChange(configDocToModel(*ev.FullDocument))
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			onError(mapMongoErr(err))
		}
	}()
	return cancel, nil
}

func (s *MongoStore) ListConfigurationLogs(ctx context.Context, limit int) ([]*models.ConfigurationChangeLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "changed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.configLogsCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	out := make([]*models.ConfigurationChangeLog, 0)
	for cur.Next(ctx) {
		var d mongoConfigLogDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &models.ConfigurationChangeLog{
			ID:        d.ID,
			Field:     d.Field,
			OldValue:  d.OldValue,
			NewValue:  d.NewValue,
			ChangedBy: d.ChangedBy,
			ChangedAt: d.ChangedAt,
		})
	}
	return out, mapMongoErr(cur.Err())
}

// Posts

func (s *MongoStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var d mongoPostDoc
	if err := s.postsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return postDocToModel(d), nil
}

func (s *MongoStore) RemovePost(ctx context.Context, id, byReport, reason string, at time.Time) (bool, error) {
	res, err := s.postsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": string(models.PostRemoved)}},
		bson.M{"$set": bson.M{
			"status":            string(models.PostRemoved),
			"removed_at":        at,
			"removed_reason":    reason,
			"removed_by_report": byReport,
		}},
	)
	if err != nil {
		return false, mapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		// Distinguish missing vs already removed.
		if _, err := s.GetPost(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *MongoStore) ListPostIDsByUser(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.postsCol.Find(ctx, bson.M{"user_id": userID}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	ids := make([]string, 0)
	for cur.Next(ctx) {
		var d struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)
	}
	return ids, mapMongoErr(cur.Err())
}

func (s *MongoStore) ListActivePostsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.postsCol.Find(ctx, bson.M{
		"status":     string(models.PostActive),
		"created_at": bson.M{"$lte": cutoff},
	}, opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	out := make([]*models.Post, 0)
	for cur.Next(ctx) {
		var d mongoPostDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, postDocToModel(d))
	}
	return out, mapMongoErr(cur.Err())
}

func (s *MongoStore) ExpirePosts(ctx context.Context, ids []string, cutoff, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"_id":        bson.M{"$in": ids},
		"status":     string(models.PostActive),
		"created_at": bson.M{"$lte": cutoff},
	}
	var moved []string
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var err error
		moved, err = s.matchingIDs(sc, s.postsCol, filter)
		if err != nil || len(moved) == 0 {
			return err
		}
		_, err = s.postsCol.UpdateMany(sc, bson.M{"_id": bson.M{"$in": moved}}, bson.M{"$set": bson.M{
			"status":     string(models.PostExpired),
			"expired_at": at,
		}})
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *MongoStore) matchingIDs(ctx context.Context, col *mongo.Collection, filter bson.M) ([]string, error) {
	cur, err := col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	ids := make([]string, 0)
	for cur.Next(ctx) {
		var d struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)
	}
	return ids, cur.Err()
}

// Reports

func (s *MongoStore) CreateReport(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.ReportPending
	}
	doc := mongoReportDoc{
		ID:             r.ID,
		ReporterID:     r.ReporterID,
		ReportedUserID: r.ReportedUserID,
		PostID:         r.PostID,
		Category:       string(r.Category),
		Description:    r.Description,
		ReportCount:    r.ReportCount,
		Status:         string(r.Status),
		AutoRemoved:    r.AutoRemoved,
		Counted:        r.Counted,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	_, err := s.reportsCol.InsertOne(ctx, doc)
	return mapMongoErr(err)
}

func (s *MongoStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var d mongoReportDoc
	if err := s.reportsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return reportDocToModel(d), nil
}

func (s *MongoStore) UpdateReport(ctx context.Context, id string, upd models.ReportUpdate) error {
	set := bson.M{"updated_at": upd.UpdatedAt}
	if upd.Status != "" {
		set["status"] = string(upd.Status)
	}
	if upd.AutoRemoved != nil {
		set["auto_removed"] = *upd.AutoRemoved
	}
	res, err := s.reportsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return mapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CountReport(ctx context.Context, reportID string) (int, bool, error) {
	var (
		count   int
		counted bool
	)
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		counted = false
		var r mongoReportDoc
		if err := s.reportsCol.FindOne(sc, bson.M{"_id": reportID}).Decode(&r); err != nil {
			return err
		}
		if r.Counted {
			var p mongoPostDoc
			if err := s.postsCol.FindOne(sc, bson.M{"_id": r.PostID}).Decode(&p); err != nil {
				return err
			}
			count = p.ReportCount
			return nil
		}

		var p mongoPostDoc
		err := s.postsCol.FindOneAndUpdate(sc,
			bson.M{"_id": r.PostID},
			bson.M{"$inc": bson.M{"report_count": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&p)
		if err != nil {
			return err
		}
		count = p.ReportCount
		counted = true
		_, err = s.reportsCol.UpdateOne(sc, bson.M{"_id": reportID}, bson.M{"$set": bson.M{
			"report_count": count,
			"counted":      true,
		}})
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return count, counted, nil
}

func (s *MongoStore) ResolvePendingReportsForPosts(ctx context.Context, postIDs []string, at time.Time) (int, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}
	if len(postIDs) > InQueryLimit {
		return 0, fmt.Errorf("%w: %d post ids exceeds in-query limit %d", ErrConflict, len(postIDs), InQueryLimit)
	}
	res, err := s.reportsCol.UpdateMany(ctx,
		bson.M{"post_id": bson.M{"$in": postIDs}, "status": string(models.ReportPending)},
		bson.M{"$set": bson.M{"status": string(models.ReportResolved), "updated_at": at}},
	)
	if err != nil {
		return 0, mapMongoErr(err)
	}
	return int(res.ModifiedCount), nil
}

// WatchNewReports opens an insert change stream, then replays reports that
// are still pending so nothing created while the worker was down is missed.
func (s *MongoStore) WatchNewReports(ctx context.Context, onReport func(*models.Report), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"operationType": "insert"}}}}
	cs, err := s.reportsCol.Watch(ctx, pipeline)
	if err != nil {
		cancel()
		return nil, mapMongoErr(err)
	}

	cur, err := s.reportsCol.Find(ctx, bson.M{"status": string(models.ReportPending)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		cs.Close(context.Background())
		cancel()
		return nil, mapMongoErr(err)
	}
	for cur.Next(ctx) {
		var d mongoReportDoc
		if err := cur.Decode(&d); err != nil {
			onError(err)
			continue
		}
		onReport(reportDocToModel(d))
	}
	cur.Close(ctx)

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			var ev struct {
				FullDocument mongoReportDoc `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				onError(err)
				continue
			}
			onReport(reportDocToModel(ev.FullDocument))
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			onError(mapMongoErr(err))
		}
	}()
	return cancel, nil
}

// Announcements

func (s *MongoStore) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	doc := mongoAnnouncementDoc{
		ID:          a.ID,
		AnnouncerID: a.AnnouncerID,
		Title:       a.Title,
		Body:        a.Body,
		Status:      string(a.Status),
		IsUrgent:    a.IsUrgent,
		StartDate:   a.StartDate,
		EndDate:     a.EndDate,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	_, err := s.announcementsCol.InsertOne(ctx, doc)
	return mapMongoErr(err)
}

func (s *MongoStore) GetAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	var d mongoAnnouncementDoc
	if err := s.announcementsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return announcementDocToModel(d), nil
}

func announcementSet(to models.AnnouncementStatus, at time.Time) bson.M {
	set := bson.M{"status": string(to), "updated_at": at}
	switch to {
	case models.AnnouncementScheduled:
		set["approved_at"] = at
	case models.AnnouncementDeclined:
		set["rejected_at"] = at
	case models.AnnouncementActive:
		set["activated_at"] = at
	case models.AnnouncementExpired:
		set["expired_at"] = at
	case models.AnnouncementRemoved:
		set["removed_at"] = at
	}
	return set
}

func (s *MongoStore) TransitionAnnouncement(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus, at time.Time) (*models.Announcement, error) {
	allowed := make([]string, 0, len(from))
	for _, f := range from {
		allowed = append(allowed, string(f))
	}

	var updated mongoAnnouncementDoc
	err := s.announcementsCol.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": allowed}},
		bson.M{"$set": announcementSet(to, at)},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish not found vs wrong state.
			if _, err2 := s.GetAnnouncement(ctx, id); err2 != nil {
				return nil, err2
			}
			return nil, ErrConflict
		}
		return nil, mapMongoErr(err)
	}
	return announcementDocToModel(updated), nil
}

func dueFilter(status models.AnnouncementStatus, now time.Time) bson.M {
	field := "start_date"
	if status == models.AnnouncementActive {
		field = "end_date"
	}
	return bson.M{"status": string(status), field: bson.M{"$lte": now}}
}

func (s *MongoStore) ListDueAnnouncements(ctx context.Context, status models.AnnouncementStatus, now time.Time, limit int) ([]*models.Announcement, error) {
	field := "start_date"
	if status == models.AnnouncementActive {
		field = "end_date"
	}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.announcementsCol.Find(ctx, dueFilter(status, now), opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	defer cur.Close(ctx)

	out := make([]*models.Announcement, 0)
	for cur.Next(ctx) {
		var d mongoAnnouncementDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, announcementDocToModel(d))
	}
	return out, mapMongoErr(cur.Err())
}

func (s *MongoStore) TransitionDueAnnouncements(ctx context.Context, ids []string, from, to models.AnnouncementStatus, now, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := dueFilter(from, now)
	filter["_id"] = bson.M{"$in": ids}

	var moved []string
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var err error
		moved, err = s.matchingIDs(sc, s.announcementsCol, filter)
		if err != nil || len(moved) == 0 {
			return err
		}
		_, err = s.announcementsCol.UpdateMany(sc, bson.M{"_id": bson.M{"$in": moved}}, bson.M{"$set": announcementSet(to, at)})
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Users

func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var d mongoUserDoc
	if err := s.usersCol.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return userDocToModel(d), nil
}

func (s *MongoStore) IncrementWarningCount(ctx context.Context, id string, at time.Time) (*models.User, error) {
	// Pipeline update so the counter and the active->warning step are one
	// atomic write.
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"warning_count":   bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$warning_count", 0}}, 1}},
		"last_warning_at": at,
		"updated_at":      at,
		"status": bson.M{"$cond": bson.A{
			bson.M{"$in": bson.A{bson.M{"$ifNull": bson.A{"$status", ""}}, bson.A{"", string(models.UserActive)}}},
			string(models.UserWarning),
			"$status",
		}},
	}}}}

	var d mongoUserDoc
	err := s.usersCol.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return userDocToModel(d), nil
}

func (s *MongoStore) ApplySanction(ctx context.Context, id string, sanction models.UserSanction) (*models.User, error) {
	set := bson.M{"updated_at": sanction.UpdatedAt}
	if sanction.Status != "" {
		set["status"] = string(sanction.Status)
	}
	if sanction.SuspendedAt != nil {
		set["suspended_at"] = *sanction.SuspendedAt
	}
	if sanction.SuspendedUntil != nil {
		set["suspended_until"] = *sanction.SuspendedUntil
	}
	if sanction.SuspensionReason != nil {
		set["suspension_reason"] = *sanction.SuspensionReason
	}
	if sanction.BannedAt != nil {
		set["banned_at"] = *sanction.BannedAt
	}
	if sanction.BanReason != nil {
		set["ban_reason"] = *sanction.BanReason
	}
	if sanction.ResetWarnings {
		set["warning_count"] = 0
	}
	update := bson.M{"$set": set}
	if sanction.IncSuspendCount {
		update["$inc"] = bson.M{"suspend_count": 1}
	}

	var d mongoUserDoc
	err := s.usersCol.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return userDocToModel(d), nil
}

func (s *MongoStore) ClearPushToken(ctx context.Context, id string) error {
	res, err := s.usersCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{"fcm_token": ""}})
	if err != nil {
		return mapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListAdminIDs(ctx context.Context) ([]string, error) {
	ids, err := s.matchingIDs(ctx, s.usersCol, bson.M{"role": models.RoleAdmin})
	return ids, mapMongoErr(err)
}

// Notifications

func (s *MongoStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	doc := mongoNotificationDoc{
		ID:            n.ID,
		UserID:        n.UserID,
		Type:          string(n.Type),
		Title:         n.Title,
		Message:       n.Message,
		RelatedPostID: n.RelatedPostID,
		AdminID:       n.AdminID,
		CreatedAt:     n.CreatedAt,
		IsRead:        n.IsRead,
	}
	_, err := s.notificationsCol.InsertOne(ctx, doc)
	return mapMongoErr(err)
}

func (s *MongoStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var d mongoNotificationDoc
	if err := s.notificationsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapMongoErr(err)
	}
	return &models.Notification{
		ID:            d.ID,
		UserID:        d.UserID,
		Type:          models.NotificationType(d.Type),
		Title:         d.Title,
		Message:       d.Message,
		RelatedPostID: d.RelatedPostID,
		AdminID:       d.AdminID,
		CreatedAt:     d.CreatedAt,
		IsRead:        d.IsRead,
	}, nil
}

func (s *MongoStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	n, err := s.notificationsCol.CountDocuments(ctx, bson.M{"user_id": userID, "is_read": false})
	if err != nil {
		return 0, mapMongoErr(err)
	}
	return int(n), nil
}

func (s *MongoStore) AppendNotificationLog(ctx context.Context, l *models.NotificationLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := s.notifLogsCol.InsertOne(ctx, mongoNotificationLogDoc{
		ID:             l.ID,
		NotificationID: l.NotificationID,
		UserID:         l.UserID,
		Type:           string(l.Type),
		Status:         string(l.Status),
		TokenPreview:   l.TokenPreview,
		TokenHash:      l.TokenHash,
		MessageID:      l.MessageID,
		Error:          l.Error,
		TokenRemoved:   l.TokenRemoved,
		CreatedAt:      l.CreatedAt,
	})
	return mapMongoErr(err)
}
