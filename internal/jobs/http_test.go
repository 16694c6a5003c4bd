package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func resolveTestCaller(caller Caller, ok bool) CallerResolver {
	return func(c *gin.Context) (Caller, bool) {
		return caller, ok
	}
}

type stubUploadSaver struct {
	input *ResolvedInput
	err   error
}

func (s *stubUploadSaver) SaveUpload(ctx context.Context, userID string, file *multipart.FileHeader) (*ResolvedInput, error) {
	return s.input, s.err
}

func newJobsRouter(h *testHarness, caller Caller, authed bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	resolve := resolveTestCaller(caller, authed)
	saver := &stubUploadSaver{input: &ResolvedInput{Path: "/data/report.pdf", Name: "report.pdf"}}

	router.POST("/api/analysis/:type", SubmitHandler(h.orchestrator, saver, resolve))
	router.GET("/api/tasks/:id/status", StatusHandler(h.orchestrator, resolve))
	router.POST("/api/tasks/:id/cancel", CancelHandler(h.orchestrator, resolve))
	router.GET("/api/tasks/active", ActiveHandler(h.orchestrator, resolve))
	return router
}

func multipartForm(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if withFile {
		fw, err := writer.CreateFormFile("file", "report.pdf")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := io.Copy(fw, bytes.NewReader([]byte("%PDF-1.4 dummy"))); err != nil {
			t.Fatalf("failed to write dummy file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestSubmitHandlerAccepted(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)

	body, contentType := multipartForm(t, map[string]string{"query": "Analyze this"}, true)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/comprehensive", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp["status"] != "queued" {
		t.Fatalf("status field = %v, want queued", resp["status"])
	}
	taskID, _ := resp["task_id"].(string)
	if taskID == "" {
		t.Fatal("response missing task_id")
	}
	if resp["task_status_url"] != "/api/tasks/"+taskID+"/status" {
		t.Fatalf("unexpected status url: %v", resp["task_status_url"])
	}
}

func TestSubmitHandlerRejectsUnknownType(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)

	body, contentType := multipartForm(t, nil, true)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/astrology", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitHandlerRejectsFileAndDocumentID(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)

	body, contentType := multipartForm(t, map[string]string{"document_id": "doc-1"}, true)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/risk", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitHandlerRequiresLogin(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, Caller{}, false)

	body, contentType := multipartForm(t, nil, true)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/comprehensive", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStatusHandlerRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)
	result := submitTestJob(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+result.JobID+"/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if view.TaskID != result.JobID {
		t.Fatalf("task_id = %s, want %s", view.TaskID, result.JobID)
	}
	if view.Status != StatusPending {
		t.Fatalf("status = %s, want pending", view.Status)
	}
	if view.Progress != nil {
		t.Fatal("pending job should have null progress in the response")
	}
}

func TestStatusHandlerUnknownJob(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/no-such-job/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelHandlerRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)
	result := submitTestJob(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+result.JobID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if view.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", view.Status)
	}
}

func TestActiveHandlerResponseShape(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)
	submitTestJob(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/active", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ActiveTasks []StatusView `json:"active_tasks"`
		TotalCount  int          `json:"total_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.TotalCount != 1 || len(resp.ActiveTasks) != 1 {
		t.Fatalf("unexpected active list: %+v", resp)
	}
}

func TestActiveHandlerAllRequiresAdmin(t *testing.T) {
	h := newTestHarness(t)
	router := newJobsRouter(h, testCaller, true)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/active?all=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
