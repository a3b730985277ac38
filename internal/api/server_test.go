package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/config"
	"github.com/JakeFAU/chapter-archiver/internal/pipeline"
	"github.com/JakeFAU/chapter-archiver/internal/sources"
)

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobService()
	server := newTestServer(t, jobs, config.Config{})

	body := `{"owner_id":"chat-1","output_target":"chat-1","source":"fake","manga_id":"m1",` +
		`"selection":{"mode":"range","from":1,"to":2}}`
	rec := serve(server, http.MethodPost, "/v1/jobs", body, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "Vagabond_Cap_1-2", resp.ArchiveName)
	assert.Equal(t, []string{"1", "2"}, resp.Chapters)

	submitted := jobs.submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, "chat-1", submitted[0].OwnerID)
	assert.Equal(t, "fake", submitted[0].SourceName)
	assert.Len(t, submitted[0].Chapters, 2)
}

func TestServer_SubmitJob_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
		{name: "missing manga", body: `{"owner_id":"o","source":"fake"}`, want: http.StatusBadRequest},
		{name: "unknown source", body: `{"owner_id":"o","source":"nope","manga_id":"m1"}`, want: http.StatusNotFound},
		{
			name: "no matching chapters",
			body: `{"owner_id":"o","source":"fake","manga_id":"m1","selection":{"mode":"single","from":99}}`,
			want: http.StatusBadRequest,
		},
		{name: "source failure", body: `{"owner_id":"o","source":"fake","manga_id":"broken"}`, want: http.StatusBadGateway},
		{
			name:      "shutting down",
			body:      `{"owner_id":"o","source":"fake","manga_id":"m1"}`,
			submitErr: pipeline.ErrShutdown,
			want:      http.StatusServiceUnavailable,
		},
		{
			name:      "missing owner",
			body:      `{"source":"fake","manga_id":"m1"}`,
			submitErr: fmt.Errorf("%w: owner id is required", archiver.ErrInvalidJob),
			want:      http.StatusBadRequest,
		},
		{
			name:      "store failure",
			body:      `{"owner_id":"o","source":"fake","manga_id":"m1"}`,
			submitErr: errors.New("db down"),
			want:      http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jobs := newFakeJobService()
			jobs.submitErr = tt.submitErr
			rec := serve(newTestServer(t, jobs, config.Config{}), http.MethodPost, "/v1/jobs", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobService()
	jobs.records["job-9"] = archiver.JobRecord{ID: "job-9", OwnerID: "o", Status: archiver.JobStatusCompleted}
	server := newTestServer(t, jobs, config.Config{})

	rec := serve(server, http.MethodGet, "/v1/jobs/job-9", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	rec = serve(server, http.MethodGet, "/v1/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelOwner(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobService()
	server := newTestServer(t, jobs, config.Config{})

	rec := serve(server, http.MethodPost, "/v1/owners/chat-7/cancel", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"chat-7"}, jobs.canceledOwners())

	jobs.cancelErr = errors.New("redis down")
	rec = serve(server, http.MethodPost, "/v1/owners/chat-7/cancel", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobService(), config.Config{})

	rec := serve(server, http.MethodGet, "/v1/search?q=vagabond", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fake", resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "m1", resp.Results[0].ID)

	rec = serve(server, http.MethodGet, "/v1/search?q=vagabond&source=fake", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/search?q=nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/search", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListChaptersAndSources(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobService(), config.Config{})

	rec := serve(server, http.MethodGet, "/v1/chapters?source=fake&manga_id=m1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page_source":"c2"`)

	rec = serve(server, http.MethodGet, "/v1/chapters?source=fake", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":["fake"]}`, rec.Body.String())
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(t, newFakeJobService(), cfg)

	rec := serve(server, http.MethodGet, "/v1/sources", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/sources", "", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/sources?api_key=secret", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ProbesAndMetrics(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobService()
	jobs.depth = 3
	server := newTestServer(t, jobs, config.Config{})

	rec := serve(server, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","queue_depth":3}`, rec.Body.String())

	rec = serve(server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobService(), config.Config{})
	rec := serve(server, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, jobs *fakeJobService, cfg config.Config) *Server {
	t.Helper()
	registry, err := sources.NewRegistry(zap.NewNop(), &fakeSource{})
	require.NoError(t, err)
	return NewServer(jobs, registry, cfg, zap.NewNop())
}

func serve(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeJobService struct {
	mu        sync.Mutex
	jobs      []archiver.Job
	records   map[string]archiver.JobRecord
	owners    []string
	submitErr error
	cancelErr error
	depth     int
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{records: make(map[string]archiver.JobRecord)}
}

func (f *fakeJobService) Submit(_ context.Context, job archiver.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.jobs = append(f.jobs, job)
	return fmt.Sprintf("job-%d", len(f.jobs)), nil
}

func (f *fakeJobService) RequestCancel(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.owners = append(f.owners, ownerID)
	return nil
}

func (f *fakeJobService) Status(_ context.Context, jobID string) (archiver.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jobID]
	if !ok {
		return archiver.JobRecord{}, archiver.ErrJobNotFound
	}
	return rec, nil
}

func (f *fakeJobService) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

func (f *fakeJobService) submitted() []archiver.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archiver.Job(nil), f.jobs...)
}

func (f *fakeJobService) canceledOwners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.owners...)
}

type fakeSource struct{}

func (fakeSource) Name() string { return "fake" }

func (fakeSource) Search(_ context.Context, query string) ([]archiver.SearchResult, error) {
	if strings.Contains(query, "vagabond") {
		return []archiver.SearchResult{{Title: "Vagabond", ID: "m1"}}, nil
	}
	return nil, nil
}

func (fakeSource) ListChapters(_ context.Context, mangaID string) ([]archiver.Chapter, error) {
	if mangaID == "broken" {
		return nil, errors.New("upstream 500")
	}
	return []archiver.Chapter{
		{Number: 1, PageSource: "c1", Title: "Vagabond"},
		{Number: 2, PageSource: "c2", Title: "Vagabond"},
		{Number: 3, PageSource: "c3", Title: "Vagabond"},
	}, nil
}

func (fakeSource) ListPages(context.Context, string) ([]string, error) {
	return []string{"https://img.example/1.jpg"}, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
