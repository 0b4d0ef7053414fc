package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/campuspulse/console/internal/models"
)

// FirestoreStore is the production backend. Conditional writes run inside
// transactions so status checks and writes see the same document version.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func mapFirestoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted, codes.Internal:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *FirestoreStore) col(name string) *firestore.CollectionRef {
	return s.client.Collection(name)
}

// Configuration

func (s *FirestoreStore) GetConfiguration(ctx context.Context) (*models.Configuration, error) {
	snap, err := s.col(ColConfiguration).Doc(configurationDocID).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	var cfg models.Configuration
	if err := snap.DataTo(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *FirestoreStore) SaveConfiguration(ctx context.Context, cfg *models.Configuration, changes []models.ConfigurationChangeLog) error {
	ref := s.col(ColConfiguration).Doc(configurationDocID)
	logs := s.col(ColConfigurationLogs)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(ref, cfg); err != nil {
			return err
		}
		for i := range changes {
			id := changes[i].ID
			if id == "" {
				id = uuid.New().String()
			}
			if err := tx.Create(logs.Doc(id), changes[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) WatchConfiguration(ctx context.Context, onChange func(*models.Configuration), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.col(ColConfiguration).Doc(configurationDocID).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					onError(mapFirestoreErr(err))
				}
				return
			}
			if !snap.Exists() {
				continue
			}
			var cfg models.Configuration
			if err := snap.DataTo(&cfg); err != nil {
				onError(err)
				continue
			}
			onChange(&cfg)
		}
	}()
	return cancel, nil
}

func (s *FirestoreStore) ListConfigurationLogs(ctx context.Context, limit int) ([]*models.ConfigurationChangeLog, error) {
	q := s.col(ColConfigurationLogs).OrderBy("changedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	out := make([]*models.ConfigurationChangeLog, 0, len(docs))
	for _, d := range docs {
		var l models.ConfigurationChangeLog
		if err := d.DataTo(&l); err != nil {
			return nil, err
		}
		l.ID = d.Ref.ID
		out = append(out, &l)
	}
	return out, nil
}

// Posts

func decodePost(snap *firestore.DocumentSnapshot) (*models.Post, error) {
	var p models.Post
	if err := snap.DataTo(&p); err != nil {
		return nil, err
	}
	p.ID = snap.Ref.ID
	return &p, nil
}

func (s *FirestoreStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	snap, err := s.col(ColPosts).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return decodePost(snap)
}

func (s *FirestoreStore) RemovePost(ctx context.Context, id, byReport, reason string, at time.Time) (bool, error) {
	ref := s.col(ColPosts).Doc(id)
	removed := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		removed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		p, err := decodePost(snap)
		if err != nil {
			return err
		}
		if p.Status == models.PostRemoved {
			return nil
		}
		removed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: models.PostRemoved},
			{Path: "removedAt", Value: at},
			{Path: "removedReason", Value: reason},
			{Path: "removedByReport", Value: byReport},
		})
	})
	if err != nil {
		return false, mapFirestoreErr(err)
	}
	return removed, nil
}

func (s *FirestoreStore) ListPostIDsByUser(ctx context.Context, userID string) ([]string, error) {
	docs, err := s.col(ColPosts).Where("userId", "==", userID).Select().Documents(ctx).GetAll()
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Ref.ID)
	}
	return ids, nil
}

func (s *FirestoreStore) ListActivePostsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Post, error) {
	q := s.col(ColPosts).
		Where("status", "==", models.PostActive).
		Where("createdAt", "<=", cutoff).
		OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	out := make([]*models.Post, 0, len(docs))
	for _, d := range docs {
		p, err := decodePost(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *FirestoreStore) ExpirePosts(ctx context.Context, ids []string, cutoff, at time.Time) ([]string, error) {
	var moved []string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		moved = moved[:0]
		refs := make([]*firestore.DocumentRef, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, s.col(ColPosts).Doc(id))
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		due := make([]*firestore.DocumentRef, 0, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			p, err := decodePost(snap)
			if err != nil {
				return err
			}
			if p.Status == models.PostActive && !p.CreatedAt.After(cutoff) {
				due = append(due, snap.Ref)
			}
		}
		for _, ref := range due {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "status", Value: models.PostExpired},
				{Path: "expiredAt", Value: at},
			}); err != nil {
				return err
			}
			moved = append(moved, ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return moved, nil
}

// Reports

func decodeReport(snap *firestore.DocumentSnapshot) (*models.Report, error) {
	var r models.Report
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}
	r.ID = snap.Ref.ID
	return &r, nil
}

func (s *FirestoreStore) CreateReport(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.ReportPending
	}
	_, err := s.col(ColReports).Doc(r.ID).Create(ctx, r)
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	snap, err := s.col(ColReports).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return decodeReport(snap)
}

func (s *FirestoreStore) UpdateReport(ctx context.Context, id string, upd models.ReportUpdate) error {
	updates := []firestore.Update{{Path: "updatedAt", Value: upd.UpdatedAt}}
	if upd.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: upd.Status})
	}
	if upd.AutoRemoved != nil {
		updates = append(updates, firestore.Update{Path: "autoRemoved", Value: *upd.AutoRemoved})
	}
	_, err := s.col(ColReports).Doc(id).Update(ctx, updates)
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) CountReport(ctx context.Context, reportID string) (int, bool, error) {
	reportRef := s.col(ColReports).Doc(reportID)
	var (
		count   int
		counted bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		counted = false
		rsnap, err := tx.Get(reportRef)
		if err != nil {
			return err
		}
		r, err := decodeReport(rsnap)
		if err != nil {
			return err
		}
		postRef := s.col(ColPosts).Doc(r.PostID)
		psnap, err := tx.Get(postRef)
		if err != nil {
			return err
		}
		p, err := decodePost(psnap)
		if err != nil {
			return err
		}
		if r.Counted {
			count = p.ReportCount
			return nil
		}
		count = p.ReportCount + 1
		counted = true
		if err := tx.Update(postRef, []firestore.Update{{Path: "reportCount", Value: firestore.Increment(1)}}); err != nil {
			return err
		}
		return tx.Update(reportRef, []firestore.Update{
			{Path: "reportCount", Value: count},
			{Path: "counted", Value: true},
		})
	})
	if err != nil {
		return 0, false, mapFirestoreErr(err)
	}
	return count, counted, nil
}

func (s *FirestoreStore) ResolvePendingReportsForPosts(ctx context.Context, postIDs []string, at time.Time) (int, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}
	if len(postIDs) > InQueryLimit {
		return 0, fmt.Errorf("%w: %d post ids exceeds in-query limit %d", ErrConflict, len(postIDs), InQueryLimit)
	}
	q := s.col(ColReports).
		Where("postId", "in", postIDs).
		Where("status", "==", models.ReportPending)

	resolved := 0
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resolved = 0
		docs, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := tx.Update(d.Ref, []firestore.Update{
				{Path: "status", Value: models.ReportResolved},
				{Path: "updatedAt", Value: at},
			}); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, mapFirestoreErr(err)
	}
	return resolved, nil
}

// WatchNewReports listens on pending reports. The first snapshot delivers
// every report still pending, so work missed while the listener was down is
// picked up on restart.
func (s *FirestoreStore) WatchNewReports(ctx context.Context, onReport func(*models.Report), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.col(ColReports).Where("status", "==", models.ReportPending).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					onError(mapFirestoreErr(err))
				}
				return
			}
			for _, change := range qs.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				r, err := decodeReport(change.Doc)
				if err != nil {
					onError(err)
					continue
				}
				onReport(r)
			}
		}
	}()
	return cancel, nil
}

// Announcements

func decodeAnnouncement(snap *firestore.DocumentSnapshot) (*models.Announcement, error) {
	var a models.Announcement
	if err := snap.DataTo(&a); err != nil {
		return nil, err
	}
	a.ID = snap.Ref.ID
	a.Status = models.ParseAnnouncementStatus(string(a.Status))
	return &a, nil
}

func (s *FirestoreStore) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.col(ColAnnouncements).Doc(a.ID).Create(ctx, a)
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) GetAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	snap, err := s.col(ColAnnouncements).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return decodeAnnouncement(snap)
}

func announcementUpdates(to models.AnnouncementStatus, at time.Time) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: to},
		{Path: "updatedAt", Value: at},
	}
	if field := announcementStampField(to); field != "" {
		updates = append(updates, firestore.Update{Path: field, Value: at})
	}
	return updates
}

func (s *FirestoreStore) TransitionAnnouncement(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus, at time.Time) (*models.Announcement, error) {
	ref := s.col(ColAnnouncements).Doc(id)
	var out *models.Announcement
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		a, err := decodeAnnouncement(snap)
		if err != nil {
			return err
		}
		if !containsStatus(from, a.Status) {
			return ErrConflict
		}
		stampAnnouncement(a, to, at)
		out = a
		return tx.Update(ref, announcementUpdates(to, at))
	})
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return out, nil
}

func (s *FirestoreStore) ListDueAnnouncements(ctx context.Context, st models.AnnouncementStatus, now time.Time, limit int) ([]*models.Announcement, error) {
	field := "startDate"
	if st == models.AnnouncementActive {
		field = "endDate"
	}
	q := s.col(ColAnnouncements).
		Where("status", "==", st).
		Where(field, "<=", now).
		OrderBy(field, firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	out := make([]*models.Announcement, 0, len(docs))
	for _, d := range docs {
		a, err := decodeAnnouncement(d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FirestoreStore) TransitionDueAnnouncements(ctx context.Context, ids []string, from, to models.AnnouncementStatus, now, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var moved []string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		moved = moved[:0]
		refs := make([]*firestore.DocumentRef, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, s.col(ColAnnouncements).Doc(id))
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		due := make([]*firestore.DocumentRef, 0, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			a, err := decodeAnnouncement(snap)
			if err != nil {
				return err
			}
			if isDue(a, from, now) {
				due = append(due, snap.Ref)
			}
		}
		for _, ref := range due {
			if err := tx.Update(ref, announcementUpdates(to, at)); err != nil {
				return err
			}
			moved = append(moved, ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return moved, nil
}

// Users

func decodeUser(snap *firestore.DocumentSnapshot) (*models.User, error) {
	var u models.User
	if err := snap.DataTo(&u); err != nil {
		return nil, err
	}
	u.ID = snap.Ref.ID
	if u.Status == "" {
		u.Status = models.UserActive
	}
	return &u, nil
}

func (s *FirestoreStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	snap, err := s.col(ColUsers).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return decodeUser(snap)
}

func (s *FirestoreStore) IncrementWarningCount(ctx context.Context, id string, at time.Time) (*models.User, error) {
	ref := s.col(ColUsers).Doc(id)
	var out *models.User
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		u, err := decodeUser(snap)
		if err != nil {
			return err
		}
		t := at
		u.WarningCount++
		u.LastWarningAt = &t
		u.UpdatedAt = at
		updates := []firestore.Update{
			{Path: "warningCount", Value: firestore.Increment(1)},
			{Path: "lastWarningAt", Value: at},
			{Path: "updatedAt", Value: at},
		}
		if u.Status == models.UserActive {
			u.Status = models.UserWarning
			updates = append(updates, firestore.Update{Path: "status", Value: models.UserWarning})
		}
		out = u
		return tx.Update(ref, updates)
	})
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return out, nil
}

func (s *FirestoreStore) ApplySanction(ctx context.Context, id string, sanction models.UserSanction) (*models.User, error) {
	ref := s.col(ColUsers).Doc(id)
	updates := []firestore.Update{{Path: "updatedAt", Value: sanction.UpdatedAt}}
	if sanction.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: sanction.Status})
	}
	if sanction.SuspendedAt != nil {
		updates = append(updates, firestore.Update{Path: "suspendedAt", Value: *sanction.SuspendedAt})
	}
	if sanction.SuspendedUntil != nil {
		updates = append(updates, firestore.Update{Path: "suspendedUntil", Value: *sanction.SuspendedUntil})
	}
	if sanction.SuspensionReason != nil {
		updates = append(updates, firestore.Update{Path: "suspensionReason", Value: *sanction.SuspensionReason})
	}
	if sanction.BannedAt != nil {
		updates = append(updates, firestore.Update{Path: "bannedAt", Value: *sanction.BannedAt})
	}
	if sanction.BanReason != nil {
		updates = append(updates, firestore.Update{Path: "banReason", Value: *sanction.BanReason})
	}
	if sanction.IncSuspendCount {
		updates = append(updates, firestore.Update{Path: "suspendCount", Value: firestore.Increment(1)})
	}
	if sanction.ResetWarnings {
		updates = append(updates, firestore.Update{Path: "warningCount", Value: 0})
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		return nil, mapFirestoreErr(err)
	}
	return s.GetUser(ctx, id)
}

func (s *FirestoreStore) ClearPushToken(ctx context.Context, id string) error {
	_, err := s.col(ColUsers).Doc(id).Update(ctx, []firestore.Update{
		{Path: "fcmToken", Value: firestore.Delete},
	})
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) ListAdminIDs(ctx context.Context) ([]string, error) {
	iter := s.col(ColUsers).Where("role", "==", models.RoleAdmin).Select().Documents(ctx)
	defer iter.Stop()

	ids := make([]string, 0)
	for {
		d, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapFirestoreErr(err)
		}
		ids = append(ids, d.Ref.ID)
	}
	return ids, nil
}

// Notifications

func (s *FirestoreStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := s.col(ColNotifications).Doc(n.ID).Create(ctx, n)
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	snap, err := s.col(ColNotifications).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	var n models.Notification
	if err := snap.DataTo(&n); err != nil {
		return nil, err
	}
	n.ID = snap.Ref.ID
	return &n, nil
}

func (s *FirestoreStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	q := s.col(ColNotifications).
		Where("userId", "==", userID).
		Where("isRead", "==", false)
	res, err := q.NewAggregationQuery().WithCount("unread").Get(ctx)
	if err != nil {
		return 0, mapFirestoreErr(err)
	}
	v, ok := res["unread"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result %T", res["unread"])
	}
	return int(v.GetIntegerValue()), nil
}

func (s *FirestoreStore) AppendNotificationLog(ctx context.Context, l *models.NotificationLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := s.col(ColNotificationLogs).Doc(l.ID).Create(ctx, l)
	return mapFirestoreErr(err)
}
