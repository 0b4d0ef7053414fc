package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/middleware"
	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
	"github.com/campuspulse/console/internal/storage"
)

// brokenChunkStore fails report resolution for any chunk containing postID.
type brokenChunkStore struct {
	*storage.MemoryStore
	postID string
}

func (s *brokenChunkStore) ResolvePendingReportsForPosts(ctx context.Context, postIDs []string, at time.Time) (int, error) {
	for _, id := range postIDs {
		if id == s.postID {
			return 0, errors.New("write timed out")
		}
	}
	return s.MemoryStore.ResolvePendingReportsForPosts(ctx, postIDs, at)
}

const testJWTSecret = "sweep-secret"

type testAPI struct {
	token  string
	router http.Handler
	engine *services.Orchestrator
	mem    *storage.MemoryStore
}

func newTestAPI(t *testing.T, store storage.Store, mem *storage.MemoryStore) *testAPI {
	t.Helper()
	engine := services.NewOrchestrator(store, nil, nil, services.NewMetrics(prometheus.NewRegistry()), zap.NewNop(), services.Options{})
	require.NoError(t, engine.StartConfig(context.Background()))
	t.Cleanup(engine.Stop)

	r := chi.NewRouter()
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := context.WithValue(r.Context(), middleware.UserIDKey, "admin-1")
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
		AdminRoutes(r, engine, zap.NewNop())
	})
	SweepRoutes(r, engine, middleware.JWTAuth(testJWTSecret), zap.NewNop())
	return &testAPI{router: r, engine: engine, mem: mem}
}

func newMemoryAPI(t *testing.T) *testAPI {
	mem := storage.NewMemoryStore()
	return newTestAPI(t, mem, mem)
}

type apiBody struct {
	Success      bool              `json:"success"`
	Data         json.RawMessage   `json:"data"`
	Error        string            `json:"error"`
	Errors       map[string]string `json:"errors"`
	FailedChunks []struct {
		Index int      `json:"index"`
		IDs   []string `json:"ids"`
	} `json:"failed_chunks"`
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (int, apiBody) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var out apiBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAnnouncementRoutes(t *testing.T) {
	api := newMemoryAPI(t)
	now := time.Now().UTC()
	a, err := api.engine.CreateAnnouncement(context.Background(), models.CreateAnnouncementRequest{
		AnnouncerID: "club-1",
		Title:       "Open mic",
		StartDate:   now.Add(-time.Hour),
		EndDate:     now.Add(time.Hour),
	})
	require.NoError(t, err)

	code, body := api.do(t, http.MethodPost, "/api/admin/announcements/"+a.ID+"/approve", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)

	code, _ = api.do(t, http.MethodPost, "/api/admin/announcements/"+a.ID+"/decline", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(t, http.MethodPost, "/api/admin/announcements/missing/remove", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = api.do(t, http.MethodPost, "/api/admin/announcements/evaluate", nil)
	require.Equal(t, http.StatusOK, code)
	var res services.EvaluateResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, []string{a.ID}, res.Activated)
}

func TestReportRoutes(t *testing.T) {
	api := newMemoryAPI(t)
	ctx := context.Background()
	api.mem.PutPost(&models.Post{ID: "p1", UserID: "author", ReportCount: 5, CreatedAt: time.Now()})
	require.NoError(t, api.mem.CreateReport(ctx, &models.Report{ID: "r1", PostID: "p1", Category: models.CategorySpam}))

	code, body := api.do(t, http.MethodPatch, "/api/admin/reports/r1", map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Errors, "status")

	code, _ = api.do(t, http.MethodPatch, "/api/admin/reports/r1", map[string]string{"status": "dismissed"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPatch, "/api/admin/reports/r1", map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = api.do(t, http.MethodGet, "/api/admin/posts/p1/severity", nil)
	require.Equal(t, http.StatusOK, code)
	var sev services.PostSeverity
	require.NoError(t, json.Unmarshal(body.Data, &sev))
	assert.Equal(t, services.AggregateWarning, sev.Severity)
}

func TestUserRoutes(t *testing.T) {
	api := newMemoryAPI(t)
	api.mem.PutUser(&models.User{ID: "u1", WarningCount: 1, Status: models.UserWarning})

	code, body := api.do(t, http.MethodPost, "/api/admin/users/u1/warn", map[string]string{"message": "Be kind"})
	require.Equal(t, http.StatusOK, code)
	var res services.SanctionResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 2, res.User.WarningCount)

	notes := api.mem.Notifications("u1")
	require.Len(t, notes, 1)
	assert.Equal(t, "admin-1", notes[0].AdminID)

	code, body = api.do(t, http.MethodPost, "/api/admin/users/u1/ban", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Errors, "reason")

	code, _ = api.do(t, http.MethodPost, "/api/admin/users/u1/suspend", map[string]interface{}{"duration_days": 3, "reason": "spam"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/api/admin/users/u1/ban", map[string]string{"reason": "threats"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/api/admin/users/u1/ban", map[string]string{"reason": "threats"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(t, http.MethodPost, "/api/admin/users/ghost/reset-warnings", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUserRoutes_PartialResolution(t *testing.T) {
	mem := storage.NewMemoryStore()
	api := newTestAPI(t, &brokenChunkStore{MemoryStore: mem, postID: "post-12"}, mem)
	ctx := context.Background()
	mem.PutUser(&models.User{ID: "u1"})
	for i := 1; i <= 15; i++ {
		postID := fmt.Sprintf("post-%02d", i)
		mem.PutPost(&models.Post{ID: postID, UserID: "u1", CreatedAt: time.Now()})
		require.NoError(t, mem.CreateReport(ctx, &models.Report{ID: "r-" + postID, PostID: postID, Category: models.CategorySpam}))
	}

	code, body := api.do(t, http.MethodPost, "/api/admin/users/u1/ban", map[string]string{"reason": "spam ring"})
	assert.Equal(t, http.StatusMultiStatus, code)
	assert.False(t, body.Success)
	require.Len(t, body.FailedChunks, 1)
	assert.Equal(t, 1, body.FailedChunks[0].Index)
	assert.Contains(t, body.FailedChunks[0].IDs, "post-12")

	u, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UserBanned, u.Status)
}

func TestConfigRoutes(t *testing.T) {
	api := newMemoryAPI(t)

	code, body := api.do(t, http.MethodGet, "/api/admin/config/", nil)
	require.Equal(t, http.StatusOK, code)
	var cfg models.Configuration
	require.NoError(t, json.Unmarshal(body.Data, &cfg))
	assert.Equal(t, 24, cfg.PostVisibilityDurationHours)

	code, body = api.do(t, http.MethodPatch, "/api/admin/config/", map[string]interface{}{
		"report_thresholds": map[string]int{"normal": 5, "warning": 3, "urgent": 10},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Errors, "report_thresholds.warning")

	code, body = api.do(t, http.MethodPatch, "/api/admin/config/", map[string]interface{}{"ban_threshold": 3})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &cfg))
	assert.Equal(t, 3, cfg.BanThreshold)
	assert.Equal(t, "admin-1", cfg.UpdatedBy)

	code, body = api.do(t, http.MethodGet, "/api/admin/config/logs?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var logs []models.ConfigurationChangeLog
	require.NoError(t, json.Unmarshal(body.Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "banThreshold", logs[0].Field)

	code, _ = api.do(t, http.MethodGet, "/api/admin/config/logs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSweepRoutes(t *testing.T) {
	api := newMemoryAPI(t)

	code, body := api.do(t, http.MethodPost, "/sweeps/posts", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, body.Success)

	token, err := middleware.IssueAdminToken(testJWTSecret, "ops", time.Hour)
	require.NoError(t, err)
	api.token = token

	code, body = api.do(t, http.MethodPost, "/sweeps/posts", nil)
	require.Equal(t, http.StatusOK, code)
	var res services.SweepResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, services.SweepPosts, res.Sweep)

	code, body = api.do(t, http.MethodPost, "/sweeps/nightly", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Errors, "sweep")
}

func TestDecodeBody_Malformed(t *testing.T) {
	api := newMemoryAPI(t)
	req := httptest.NewRequest(http.MethodPatch, "/api/admin/reports/r1", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
