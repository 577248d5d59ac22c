package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/mysqler/pkg/osc/adapter/rest"
	"github.com/tigerroll/mysqler/pkg/osc/component/export"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/usecase"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService implements only what each test sets; other calls panic on the nil interface.
type fakeService struct {
	rest.ExecutionService

	create    func(req usecase.CreateRequest, by string) (*model.Job, error)
	start     func(id string) (*model.Job, error)
	get       func(id string) (*model.Job, error)
	list      func(f repository.JobFilter, p repository.Page) (*repository.JobPage, error)
	running   []*model.Job
	sub       *fakeSubscription
	subscribe string
}

func (f *fakeService) Create(ctx context.Context, req usecase.CreateRequest, by string) (*model.Job, error) {
	return f.create(req, by)
}

func (f *fakeService) Start(ctx context.Context, id string) (*model.Job, error) { return f.start(id) }
func (f *fakeService) Get(ctx context.Context, id string) (*model.Job, error)   { return f.get(id) }

func (f *fakeService) List(ctx context.Context, fl repository.JobFilter, p repository.Page) (*repository.JobPage, error) {
	return f.list(fl, p)
}

func (f *fakeService) ListRunning(ctx context.Context) ([]*model.Job, error) { return f.running, nil }

func (f *fakeService) Subscribe(ctx context.Context, jobID string) (port.Subscription, error) {
	f.subscribe = jobID
	return f.sub, nil
}

type fakeSubscription struct {
	ch     chan model.Event
	closed bool
}

func (s *fakeSubscription) C() <-chan model.Event { return s.ch }
func (s *fakeSubscription) Close()                { s.closed = true }

type fakeExporter struct {
	filter repository.JobFilter
}

func (e *fakeExporter) Export(ctx context.Context, f repository.JobFilter) (*export.Result, error) {
	e.filter = f
	return &export.Result{Objects: []string{"exports/dt=2026-01-01/jobs.parquet"}, Rows: 3}, nil
}

func serve(t *testing.T, svc rest.ExecutionService, exp rest.HistoryExporter, method, target, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	router := rest.NewRouter(rest.NewExecutionHandler(svc, exp), prometheus.NewRegistry())
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var decoded map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{exception.NewValidationError("m", "table_name", "bad"), http.StatusBadRequest},
		{exception.NewNotFoundError("m", "gone", nil), http.StatusNotFound},
		{exception.NewConflictError("m", "j1", "busy"), http.StatusConflict},
		{exception.NewInvalidStateError("m", "completed", "nope"), http.StatusConflict},
		{exception.NewStorageError("m", "db down", nil, true), http.StatusServiceUnavailable},
		{exception.NewProcessError("m", 1, nil, nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rest.StatusFor(tc.err), tc.err.Error())
	}
}

func TestCreateUsesCallerIdentity(t *testing.T) {
	var gotBy string
	var gotReq usecase.CreateRequest
	svc := &fakeService{create: func(req usecase.CreateRequest, by string) (*model.Job, error) {
		gotBy, gotReq = by, req
		return &model.Job{ID: "j1", Status: model.StatusPending}, nil
	}}
	body := `{"connection_id":"demo","database_name":"shop","table_name":"orders","ddl_type":"add_column","original_ddl":"ADD COLUMN note TEXT"}`

	w, resp := serve(t, svc, nil, http.MethodPost, "/api/v1/executions", body, map[string]string{"X-User": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", gotBy)
	assert.Equal(t, "orders", gotReq.TableName)
	assert.Equal(t, model.DDLAddColumn, gotReq.DDLType)
	assert.Equal(t, "j1", resp["data"].(map[string]interface{})["id"])

	_, _ = serve(t, svc, nil, http.MethodPost, "/api/v1/executions", body, nil)
	assert.Equal(t, "anonymous", gotBy)
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	w, resp := serve(t, &fakeService{}, nil, http.MethodPost, "/api/v1/executions", `{"table_name":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(400), resp["code"])
}

func TestStartConflictCarriesHolder(t *testing.T) {
	svc := &fakeService{start: func(id string) (*model.Job, error) {
		return nil, exception.NewConflictError("controller", "j-holder", "another execution is running on demo/shop.orders")
	}}
	w, resp := serve(t, svc, nil, http.MethodPost, "/api/v1/executions/j2/start", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "j-holder", resp["conflict_job_id"])
	assert.Equal(t, "conflict", resp["kind"])
}

func TestInvalidStateCarriesCurrentStatus(t *testing.T) {
	svc := &fakeService{start: func(id string) (*model.Job, error) {
		return nil, exception.NewInvalidStateError("controller", "completed", "job is not pending")
	}}
	w, resp := serve(t, svc, nil, http.MethodPost, "/api/v1/executions/j1/start", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "completed", resp["current_status"])
}

func TestStorageErrorIsRetryable503(t *testing.T) {
	svc := &fakeService{get: func(id string) (*model.Job, error) {
		return nil, exception.NewStorageError("store", "database unavailable", errors.New("dial tcp"), true)
	}}
	w, resp := serve(t, svc, nil, http.MethodGet, "/api/v1/executions/j1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, resp["retryable"])
	assert.Equal(t, "database unavailable", resp["message"])
}

func TestListParsesFilters(t *testing.T) {
	var gotF repository.JobFilter
	var gotP repository.Page
	svc := &fakeService{list: func(f repository.JobFilter, p repository.Page) (*repository.JobPage, error) {
		gotF, gotP = f, p
		return &repository.JobPage{Items: []*model.Job{}, Page: p.Number, Size: p.Size}, nil
	}}
	w, _ := serve(t, svc, nil, http.MethodGet,
		"/api/v1/executions?status=running,failed&connection_id=demo&keyword=ord&start_date=2026-01-01&end_date=2026-01-31&page=2&size=500", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []model.JobStatus{model.StatusRunning, model.StatusFailed}, gotF.Statuses)
	assert.Equal(t, "demo", gotF.ConnectionID)
	assert.Equal(t, "ord", gotF.Keyword)
	require.NotNil(t, gotF.CreatedFrom)
	require.NotNil(t, gotF.CreatedTo)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *gotF.CreatedFrom)
	assert.True(t, gotF.CreatedTo.After(time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, repository.Page{Number: 2, Size: repository.MaxPageSize}, gotP)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	w, resp := serve(t, &fakeService{}, nil, http.MethodGet, "/api/v1/executions?status=paused", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status", resp["field"])
}

func TestExportPassesFilter(t *testing.T) {
	exp := &fakeExporter{}
	w, resp := serve(t, &fakeService{}, exp, http.MethodPost, "/api/v1/executions/export?status=completed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []model.JobStatus{model.StatusCompleted}, exp.filter.Statuses)
	assert.Equal(t, float64(3), resp["data"].(map[string]interface{})["rows"])
}

func TestHealthAndMetrics(t *testing.T) {
	w, _ := serve(t, &fakeService{}, nil, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = serve(t, &fakeService{}, nil, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobEventsStreamsSnapshotThenUntilTerminal(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan model.Event, 4)}
	sub.ch <- model.Event{Type: model.EventLog, JobID: "j1", Line: "Copying rows"}
	sub.ch <- model.Event{Type: model.EventStatus, JobID: "j1", Status: model.StatusCompleted}
	svc := &fakeService{
		sub: sub,
		get: func(id string) (*model.Job, error) {
			return &model.Job{ID: id, Status: model.StatusRunning, ProcessedRows: 10, TotalRows: 100}, nil
		},
	}
	srv := httptest.NewServer(rest.NewRouter(rest.NewExecutionHandler(svc, nil), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/executions/j1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	snapshot := strings.Index(text, `"message":"snapshot"`)
	logLine := strings.Index(text, "Copying rows")
	terminal := strings.Index(text, `"status":"completed"`)
	require.True(t, snapshot >= 0 && logLine > snapshot && terminal > logLine, text)
	assert.Equal(t, "j1", svc.subscribe)
	assert.True(t, sub.closed)
}

func TestJobEventsEndsImmediatelyForFinishedJob(t *testing.T) {
	svc := &fakeService{
		sub: &fakeSubscription{ch: make(chan model.Event)},
		get: func(id string) (*model.Job, error) {
			return &model.Job{ID: id, Status: model.StatusFailed}, nil
		},
	}
	srv := httptest.NewServer(rest.NewRouter(rest.NewExecutionHandler(svc, nil), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/executions/j1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"failed"`)
}

func TestAllEventsSubscribesToEveryJob(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan model.Event)}
	close(sub.ch)
	svc := &fakeService{sub: sub, running: []*model.Job{{ID: "r1", Status: model.StatusRunning}}}
	srv := httptest.NewServer(rest.NewRouter(rest.NewExecutionHandler(svc, nil), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/executions/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, port.AllJobs, svc.subscribe)
	assert.Contains(t, string(body), `"job_id":"r1"`)
}
