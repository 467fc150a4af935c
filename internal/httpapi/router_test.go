package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/docwriter-backend/internal/agents"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobService struct {
	lastUser   string
	lastTitle  string
	lastCycles int
	resumeErr  error
}

func (f *fakeJobService) SendJob(ctx context.Context, userID, title, audience string, requestedCycles int) (*document.Payload, error) {
	f.lastUser, f.lastTitle, f.lastCycles = userID, title, requestedCycles
	return &document.Payload{JobID: "job-new", UserID: userID, Title: title}, nil
}

func (f *fakeJobService) SendResume(ctx context.Context, jobID, userID string) (*document.Payload, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &document.Payload{JobID: jobID, UserID: userID}, nil
}

type fakeInterviewer struct{}

func (fakeInterviewer) ProposeQuestions(ctx context.Context, title string) ([]agents.Question, agents.Usage) {
	return []agents.Question{{ID: "q1", Q: "Audience?", Sample: "Engineers"}}, agents.Usage{}
}

type apiEnv struct {
	engine *gin.Engine
	jobs   *fakeJobService
	table  *status.MemoryTable
	store  *storage.MemoryStore
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	jobs := &fakeJobService{}
	table := status.NewMemoryTable()
	store := storage.NewMemoryStore()
	engine := NewRouter(RouterConfig{
		AuthMiddleware:  NewAuthMiddleware(log, testSecret),
		JobHandler:      NewJobHandler(log, jobs, table, store),
		DocumentHandler: NewDocumentHandler(table),
		IntakeHandler:   NewIntakeHandler(fakeInterviewer{}),
		HealthHandler:   NewHealthHandler(),
	})
	return &apiEnv{engine: engine, jobs: jobs, table: table, store: store}
}

func mintToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *apiEnv) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestHealthzIsPublic(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: want=200 got=%d", w.Code)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	e := newAPIEnv(t)
	for _, target := range []string{"/jobs/j1/status", "/documents"} {
		w := e.do(t, http.MethodGet, target, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: want=401 got=%d", target, w.Code)
		}
	}
	w := e.do(t, http.MethodGet, "/documents", mintToken(t, "user-1")+"garbage", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("tampered token: want=401 got=%d", w.Code)
	}
}

func TestCreateJob(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(t, http.MethodPost, "/jobs", mintToken(t, "user-1"),
		`{"title":"Ops Handbook","audience":"Engineers","cycles":2}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("create job: want=202 got=%d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["job_id"] != "job-new" || resp["stage"] != "ENQUEUED" {
		t.Fatalf("create response: %v", resp)
	}
	if e.jobs.lastUser != "user-1" || e.jobs.lastTitle != "Ops Handbook" || e.jobs.lastCycles != 2 {
		t.Fatalf("service call: user=%q title=%q cycles=%d", e.jobs.lastUser, e.jobs.lastTitle, e.jobs.lastCycles)
	}

	w = e.do(t, http.MethodPost, "/jobs", mintToken(t, "user-1"), `{"audience":"Engineers"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("create without title: want=400 got=%d", w.Code)
	}
}

func TestResumeJobConflictOnMissingMetadata(t *testing.T) {
	e := newAPIEnv(t)
	e.jobs.resumeErr = fmt.Errorf("job ghost has no cycle metadata; cannot resume")
	w := e.do(t, http.MethodPost, "/jobs/ghost/resume", mintToken(t, "user-1"), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("resume without metadata: want=409 got=%d", w.Code)
	}
}

func TestStatusOwnershipIsEnforced(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	if err := e.table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "PLAN_DONE", "ts": 1.0, "user_id": "user-2",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := e.do(t, http.MethodGet, "/jobs/j1/status", mintToken(t, "user-1"), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign job status: want=404 got=%d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/jobs/j1/status", mintToken(t, "user-2"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("own job status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var row map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row["stage"] != "PLAN_DONE" {
		t.Fatalf("latest stage: want=PLAN_DONE got=%v", row["stage"])
	}
}

func TestTimeline(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	for i, stage := range []string{"ENQUEUED", "PLAN_DONE", "WRITE_DONE"} {
		if err := e.table.Record(ctx, map[string]interface{}{
			"job_id": "j1", "stage": stage, "ts": float64(i), "user_id": "user-1",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	w := e.do(t, http.MethodGet, "/jobs/j1/status/timeline", mintToken(t, "user-1"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("timeline: want=200 got=%d", w.Code)
	}
	var resp struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 3 || resp.Events[0]["stage"] != "ENQUEUED" {
		t.Fatalf("timeline events: %v", resp.Events)
	}
}

func TestArtifactDownload(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	if err := e.table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "FINALIZE_DONE", "ts": 1.0, "user_id": "user-1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	paths := storage.NewJobStoragePaths("user-1", "j1")
	key, err := paths.Relative("final.md")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := e.store.PutText(ctx, key, "# 1. Done"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	w := e.do(t, http.MethodGet, "/jobs/j1/artifacts/final.md", mintToken(t, "user-1"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/markdown") {
		t.Fatalf("content type: %q", got)
	}
	if w.Body.String() != "# 1. Done" {
		t.Fatalf("body: %q", w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/jobs/j1/artifacts/missing.md", mintToken(t, "user-1"), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing artifact: want=404 got=%d", w.Code)
	}
}

func TestArtifactPathTraversalIsRejected(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	if err := e.table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "FINALIZE_DONE", "ts": 1.0, "user_id": "user-1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := e.do(t, http.MethodGet, "/jobs/j1/artifacts/../../user-2/j2/final.md", mintToken(t, "user-1"), "")
	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Fatalf("traversal: want=400/404 got=%d", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()
	if err := e.table.Upsert(ctx, "user-1", "j1", map[string]interface{}{"stage": "FINALIZE_DONE", "title": "Ops"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := e.table.Upsert(ctx, "user-2", "j2", map[string]interface{}{"stage": "PLAN_DONE"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := e.do(t, http.MethodGet, "/documents", mintToken(t, "user-1"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: want=200 got=%d", w.Code)
	}
	var resp struct {
		Documents []map[string]interface{} `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 1 {
		t.Fatalf("documents for user-1: want=1 got=%d (%v)", len(resp.Documents), resp.Documents)
	}
}

func TestIntakeQuestions(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(t, http.MethodPost, "/intake/questions", mintToken(t, "user-1"), `{"title":"Ops Handbook"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("intake questions: want=200 got=%d", w.Code)
	}
	var resp struct {
		Questions []agents.Question `json:"questions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Questions) != 1 || resp.Questions[0].ID != "q1" {
		t.Fatalf("questions: %v", resp.Questions)
	}
}
