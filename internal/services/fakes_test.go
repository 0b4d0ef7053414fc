package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/storage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakePush struct {
	mu   sync.Mutex
	sent []PushMessage
	err  error
}

func (f *fakePush) Send(_ context.Context, msg PushMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakePush) Sent() []PushMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PushMessage(nil), f.sent...)
}

type fakeMailer struct {
	mu     sync.Mutex
	alerts []UrgentAlert
}

func (f *fakeMailer) SendUrgentAlert(_ context.Context, alert UrgentAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeMailer) Alerts() []UrgentAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UrgentAlert(nil), f.alerts...)
}

// flakyStore fails selected operations on top of a MemoryStore.
type flakyStore struct {
	*storage.MemoryStore
	failChunkWith string
	failNotify    bool
}

func (s *flakyStore) ResolvePendingReportsForPosts(ctx context.Context, postIDs []string, at time.Time) (int, error) {
	for _, id := range postIDs {
		if id == s.failChunkWith {
			return 0, errors.New("deadline exceeded")
		}
	}
	return s.MemoryStore.ResolvePendingReportsForPosts(ctx, postIDs, at)
}

func (s *flakyStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if s.failNotify {
		return errors.New("notifications unavailable")
	}
	return s.MemoryStore.CreateNotification(ctx, n)
}

type testEngine struct {
	*Orchestrator
	mem    *storage.MemoryStore
	push   *fakePush
	mailer *fakeMailer
}

func newTestEngine(t *testing.T, store storage.Store, mem *storage.MemoryStore) *testEngine {
	t.Helper()
	push := &fakePush{}
	mailer := &fakeMailer{}
	o := NewOrchestrator(store, push, mailer, NewMetrics(prometheus.NewRegistry()), zap.NewNop(), Options{ResolveChunkSize: 10})
	setClock(o, func() time.Time { return testNow })
	require.NoError(t, o.StartConfig(context.Background()))
	t.Cleanup(o.Stop)
	return &testEngine{Orchestrator: o, mem: mem, push: push, mailer: mailer}
}

func newMemoryEngine(t *testing.T) *testEngine {
	mem := storage.NewMemoryStore()
	return newTestEngine(t, mem, mem)
}

func setClock(o *Orchestrator, now func() time.Time) {
	o.users.now = now
	o.configSvc.now = now
	o.reports.now = now
	o.announcements.now = now
	o.posts.now = now
	o.notifier.now = now
}

func (e *testEngine) createReport(t *testing.T, id, postID, author string, cat models.ReportCategory) {
	t.Helper()
	require.NoError(t, e.mem.CreateReport(context.Background(), &models.Report{
		ID:             id,
		ReporterID:     "reporter-" + id,
		ReportedUserID: author,
		PostID:         postID,
		Category:       cat,
		Status:         models.ReportPending,
		CreatedAt:      testNow,
	}))
}
