package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuspulse/console/internal/models"
)

// memoryState is the full data set of a MemoryStore. It is also the layout of
// the JSON snapshot file.
type memoryState struct {
	Configuration    *models.Configuration            `json:"configuration,omitempty"`
	ConfigLogs       []*models.ConfigurationChangeLog `json:"configuration_logs"`
	Reports          map[string]*models.Report        `json:"reports"`
	Posts            map[string]*models.Post          `json:"posts"`
	Announcements    map[string]*models.Announcement  `json:"announcements"`
	Users            map[string]*models.User          `json:"users"`
	Notifications    map[string]*models.Notification  `json:"notifications"`
	NotificationLogs []*models.NotificationLog        `json:"notification_logs"`
	// PushTokens carries User.FCMToken, which is never JSON encoded with
	// the user.
	PushTokens map[string]string `json:"push_tokens,omitempty"`
	// CountedReports carries Report.Counted, which the report's JSON form
	// omits.
	CountedReports []string `json:"counted_reports,omitempty"`
}

func newMemoryState() *memoryState {
	return &memoryState{
		Reports:       make(map[string]*models.Report),
		Posts:         make(map[string]*models.Post),
		Announcements: make(map[string]*models.Announcement),
		Users:         make(map[string]*models.User),
		Notifications: make(map[string]*models.Notification),
	}
}

// MemoryStore keeps every collection in process memory. With a snapshot file
// configured it persists the whole state after each write, which is enough
// for local development and single-node demos.
type MemoryStore struct {
	mu       sync.RWMutex
	state    *memoryState
	snapshot *JSONStore

	watchMu        sync.Mutex
	reportWatchers map[int]func(*models.Report)
	configWatchers map[int]func(*models.Configuration)
	nextWatcher    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:          newMemoryState(),
		reportWatchers: make(map[int]func(*models.Report)),
		configWatchers: make(map[int]func(*models.Configuration)),
	}
}

// NewFileStore returns a MemoryStore backed by a JSON snapshot in dataDir.
func NewFileStore(dataDir string) (*MemoryStore, error) {
	snap, err := NewJSONStore(dataDir, "moderation.json")
	if err != nil {
		return nil, err
	}
	s := NewMemoryStore()
	if err := snap.Load(s.state); err != nil {
		return nil, err
	}
	s.state.fillMaps()
	s.snapshot = snap
	return s, nil
}

func (st *memoryState) fillMaps() {
	fresh := newMemoryState()
	if st.Reports == nil {
		st.Reports = fresh.Reports
	}
	if st.Posts == nil {
		st.Posts = fresh.Posts
	}
	if st.Announcements == nil {
		st.Announcements = fresh.Announcements
	}
	if st.Users == nil {
		st.Users = fresh.Users
	}
	if st.Notifications == nil {
		st.Notifications = fresh.Notifications
	}
	for id, token := range st.PushTokens {
		if u, ok := st.Users[id]; ok {
			u.FCMToken = token
		}
	}
	st.PushTokens = nil
	for _, id := range st.CountedReports {
		if r, ok := st.Reports[id]; ok {
			r.Counted = true
		}
	}
	st.CountedReports = nil
}

// persist must be called with mu held.
func (s *MemoryStore) persist() error {
	if s.snapshot == nil {
		return nil
	}
	tokens := make(map[string]string)
	for id, u := range s.state.Users {
		if u.FCMToken != "" {
			tokens[id] = u.FCMToken
		}
	}
	counted := make([]string, 0)
	for id, r := range s.state.Reports {
		if r.Counted {
			counted = append(counted, id)
		}
	}
	sort.Strings(counted)
	s.state.PushTokens = tokens
	s.state.CountedReports = counted
	defer func() {
		s.state.PushTokens = nil
		s.state.CountedReports = nil
	}()
	return s.snapshot.Save(s.state)
}

// Seeding helpers used by tests and local tooling.

func (s *MemoryStore) PutPost(p *models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if cp.Status == "" {
		cp.Status = models.PostActive
	}
	s.state.Posts[cp.ID] = &cp
	_ = s.persist()
}

func (s *MemoryStore) PutUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.Status == "" {
		cp.Status = models.UserActive
	}
	s.state.Users[cp.ID] = &cp
	_ = s.persist()
}

// Notifications returns every notification addressed to userID.
func (s *MemoryStore) Notifications(userID string) []*models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for _, n := range s.state.Notifications {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) NotificationLogs() []*models.NotificationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.NotificationLog, 0, len(s.state.NotificationLogs))
	for _, l := range s.state.NotificationLogs {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

// Configuration

func (s *MemoryStore) GetConfiguration(_ context.Context) (*models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Configuration == nil {
		return nil, ErrNotFound
	}
	cp := *s.state.Configuration
	return &cp, nil
}

func (s *MemoryStore) SaveConfiguration(_ context.Context, cfg *models.Configuration, changes []models.ConfigurationChangeLog) error {
	s.mu.Lock()
	cp := *cfg
	s.state.Configuration = &cp
	for i := range changes {
		entry := changes[i]
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		s.state.ConfigLogs = append(s.state.ConfigLogs, &entry)
	}
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.watchMu.Lock()
	watchers := make([]func(*models.Configuration), 0, len(s.configWatchers))
	for _, fn := range s.configWatchers {
		watchers = append(watchers, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range watchers {
		c := cp
		fn(&c)
	}
	return nil
}

func (s *MemoryStore) WatchConfiguration(_ context.Context, onChange func(*models.Configuration), _ func(error)) (func(), error) {
	s.watchMu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.configWatchers[id] = onChange
	s.watchMu.Unlock()

	if cfg, err := s.GetConfiguration(context.Background()); err == nil {
		onChange(cfg)
	}
	return func() {
		s.watchMu.Lock()
		delete(s.configWatchers, id)
		s.watchMu.Unlock()
	}, nil
}

func (s *MemoryStore) ListConfigurationLogs(_ context.Context, limit int) ([]*models.ConfigurationChangeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ConfigurationChangeLog, 0, len(s.state.ConfigLogs))
	for i := len(s.state.ConfigLogs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *s.state.ConfigLogs[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Posts

func (s *MemoryStore) GetPost(_ context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.Posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) RemovePost(_ context.Context, id, byReport, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.Posts[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status == models.PostRemoved {
		return false, nil
	}
	t := at
	p.Status = models.PostRemoved
	p.RemovedAt = &t
	p.RemovedReason = reason
	p.RemovedByReport = byReport
	return true, s.persist()
}

func (s *MemoryStore) ListPostIDsByUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, p := range s.state.Posts {
		if p.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListActivePostsCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Post, 0)
	for _, p := range s.state.Posts {
		if p.Status == models.PostActive && !p.CreatedAt.After(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ExpirePosts(_ context.Context, ids []string, cutoff, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := make([]string, 0, len(ids))
	for _, id := range ids {
		p, ok := s.state.Posts[id]
		if !ok || p.Status != models.PostActive || p.CreatedAt.After(cutoff) {
			continue
		}
		t := at
		p.Status = models.PostExpired
		p.ExpiredAt = &t
		moved = append(moved, id)
	}
	return moved, s.persist()
}

// Reports

func (s *MemoryStore) CreateReport(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.New().String()
		r.ID = cp.ID
	}
	if _, exists := s.state.Reports[cp.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	if cp.Status == "" {
		cp.Status = models.ReportPending
	}
	s.state.Reports[cp.ID] = &cp
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.watchMu.Lock()
	watchers := make([]func(*models.Report), 0, len(s.reportWatchers))
	for _, fn := range s.reportWatchers {
		watchers = append(watchers, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range watchers {
		c := cp
		fn(&c)
	}
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.Reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateReport(_ context.Context, id string, upd models.ReportUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Reports[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.AutoRemoved != nil {
		r.AutoRemoved = *upd.AutoRemoved
	}
	r.UpdatedAt = upd.UpdatedAt
	return s.persist()
}

func (s *MemoryStore) CountReport(_ context.Context, reportID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Reports[reportID]
	if !ok {
		return 0, false, ErrNotFound
	}
	p, ok := s.state.Posts[r.PostID]
	if !ok {
		return 0, false, ErrNotFound
	}
	if r.Counted {
		return p.ReportCount, false, nil
	}
	p.ReportCount++
	r.ReportCount = p.ReportCount
	r.Counted = true
	return p.ReportCount, true, s.persist()
}

func (s *MemoryStore) ResolvePendingReportsForPosts(_ context.Context, postIDs []string, at time.Time) (int, error) {
	if len(postIDs) > InQueryLimit {
		return 0, ErrConflict
	}
	want := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.state.Reports {
		if want[r.PostID] && r.Status == models.ReportPending {
			r.Status = models.ReportResolved
			r.UpdatedAt = at
			n++
		}
	}
	return n, s.persist()
}

// WatchNewReports replays reports that are still pending, then delivers every
// report created afterwards.
func (s *MemoryStore) WatchNewReports(_ context.Context, onReport func(*models.Report), _ func(error)) (func(), error) {
	s.mu.RLock()
	pending := make([]*models.Report, 0)
	for _, r := range s.state.Reports {
		if r.Status == models.ReportPending {
			cp := *r
			pending = append(pending, &cp)
		}
	}
	s.mu.RUnlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	s.watchMu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.reportWatchers[id] = onReport
	s.watchMu.Unlock()

	for _, r := range pending {
		onReport(r)
	}
	return func() {
		s.watchMu.Lock()
		delete(s.reportWatchers, id)
		s.watchMu.Unlock()
	}, nil
}

// Announcements

func (s *MemoryStore) CreateAnnouncement(_ context.Context, a *models.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if cp.ID == "" {
		cp.ID = uuid.New().String()
		a.ID = cp.ID
	}
	if _, exists := s.state.Announcements[cp.ID]; exists {
		return ErrAlreadyExists
	}
	s.state.Announcements[cp.ID] = &cp
	return s.persist()
}

func (s *MemoryStore) GetAnnouncement(_ context.Context, id string) (*models.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.Announcements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Status = models.ParseAnnouncementStatus(string(cp.Status))
	return &cp, nil
}

func (s *MemoryStore) TransitionAnnouncement(_ context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus, at time.Time) (*models.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.Announcements[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsStatus(from, models.ParseAnnouncementStatus(string(a.Status))) {
		return nil, ErrConflict
	}
	stampAnnouncement(a, to, at)
	cp := *a
	return &cp, s.persist()
}

func (s *MemoryStore) ListDueAnnouncements(_ context.Context, status models.AnnouncementStatus, now time.Time, limit int) ([]*models.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Announcement, 0)
	for _, a := range s.state.Announcements {
		if isDue(a, status, now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return dueTime(out[i], status).Before(dueTime(out[j], status)) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionDueAnnouncements(_ context.Context, ids []string, from, to models.AnnouncementStatus, now, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := make([]string, 0, len(ids))
	for _, id := range ids {
		a, ok := s.state.Announcements[id]
		if !ok || !isDue(a, from, now) {
			continue
		}
		stampAnnouncement(a, to, at)
		moved = append(moved, id)
	}
	return moved, s.persist()
}

// Users

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) IncrementWarningCount(_ context.Context, id string, at time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := at
	u.WarningCount++
	u.LastWarningAt = &t
	if u.Status == models.UserActive || u.Status == "" {
		u.Status = models.UserWarning
	}
	u.UpdatedAt = at
	cp := *u
	return &cp, s.persist()
}

func (s *MemoryStore) ApplySanction(_ context.Context, id string, sanction models.UserSanction) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sanction.Status != "" {
		u.Status = sanction.Status
	}
	if sanction.SuspendedAt != nil {
		u.SuspendedAt = sanction.SuspendedAt
	}
	if sanction.SuspendedUntil != nil {
		u.SuspendedUntil = sanction.SuspendedUntil
	}
	if sanction.SuspensionReason != nil {
		u.SuspensionReason = *sanction.SuspensionReason
	}
	if sanction.BannedAt != nil {
		u.BannedAt = sanction.BannedAt
	}
	if sanction.BanReason != nil {
		u.BanReason = *sanction.BanReason
	}
	if sanction.IncSuspendCount {
		u.SuspendCount++
	}
	if sanction.ResetWarnings {
		u.WarningCount = 0
	}
	u.UpdatedAt = sanction.UpdatedAt
	cp := *u
	return &cp, s.persist()
}

func (s *MemoryStore) ClearPushToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[id]
	if !ok {
		return ErrNotFound
	}
	u.FCMToken = ""
	return s.persist()
}

func (s *MemoryStore) ListAdminIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, u := range s.state.Users {
		if u.Role == models.RoleAdmin {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Notifications

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, exists := s.state.Notifications[n.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *n
	s.state.Notifications[cp.ID] = &cp
	return s.persist()
}

func (s *MemoryStore) GetNotification(_ context.Context, id string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.Notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.state.Notifications {
		if v.UserID == userID && !v.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendNotificationLog(_ context.Context, l *models.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.state.NotificationLogs = append(s.state.NotificationLogs, &cp)
	return s.persist()
}
