package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/cloudwatcher/internal/collect"
	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/metrics"
	"github.com/TobiSchelling/cloudwatcher/internal/scan"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), "")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, n int) {
	t.Helper()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := &database.NewsRecord{
			Title:       fmt.Sprintf("News %03d", i),
			Summary:     "Résumé.",
			Provider:    "AWS",
			Category:    "Compute",
			ImpactLevel: 1 + i%3,
			Link:        fmt.Sprintf("https://aws.example.com/%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute).Format("2006-01-02T15:04:05.000000Z07:00"),
		}
		require.NoError(t, db.Insert(context.Background(), rec))
	}
}

type fakeScanner struct {
	mu       sync.Mutex
	snapshot scan.Snapshot
	result   scan.TriggerResult
	ctxs     []context.Context
}

func (f *fakeScanner) Status() scan.Snapshot { return f.snapshot }

func (f *fakeScanner) Trigger(ctx context.Context) scan.TriggerResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs = append(f.ctxs, ctx)
	return f.result
}

type fakeAdvisor struct {
	response string
	err      error
	question string
	digest   string
}

func (f *fakeAdvisor) Advise(_ context.Context, question, digest string) (string, error) {
	f.question, f.digest = question, digest
	if f.err != nil {
		return "Unavailable for now (" + f.err.Error() + ")", f.err
	}
	return f.response, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	db.Close()
	rec = do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewsNewestFirstCapped(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 105)
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/news", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []database.NewsRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 100)
	assert.Equal(t, "News 104", records[0].Title)
	assert.Equal(t, "News 005", records[99].Title)
}

func TestNewsEmptyAndDegraded(t *testing.T) {
	db := openTestDB(t)
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/news", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	db.Close()
	rec = do(t, srv.Handler(), http.MethodGet, "/news", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 3)
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats database.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalNews)
	assert.Equal(t, 1, stats.CriticalNews)
	assert.Equal(t, "AWS", stats.ActiveProvider)
	assert.Equal(t, map[string]int{"Compute": 3}, stats.CategoriesStats)
	assert.Equal(t, map[string]int{"2026-02-01": 3}, stats.TimelineStats)
}

func TestStatsDegraded(t *testing.T) {
	db := openTestDB(t)
	db.Close()
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_news":0,"critical_news":0,"active_provider":"-","providers_stats":{},"categories_stats":{},"timeline_stats":{}}`, rec.Body.String())
}

func TestScanStatus(t *testing.T) {
	at := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	sc := &fakeScanner{snapshot: scan.Snapshot{IsScanning: true, Progress: 42, Message: "processing (2/5): Amazon S3 adds...", TotalFound: 5, NewAdded: 1, LastExecution: &at}}
	srv := New(openTestDB(t), sc, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/scan-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_scanning":true,"progress":42,"message":"processing (2/5): Amazon S3 adds...","total_found":5,"new_added":1,"last_execution":"2026-02-01T06:00:00Z"}`, rec.Body.String())
}

func TestScanStatusInitial(t *testing.T) {
	o := scan.New(nil, nil, nil, scan.Options{}, nil)
	srv := New(openTestDB(t), o, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/scan-status", "")
	assert.JSONEq(t, `{"is_scanning":false,"progress":0,"message":"ready","total_found":0,"new_added":0,"last_execution":null}`, rec.Body.String())
}

type blockingCollector struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingCollector) Fetch(ctx context.Context) ([]collect.Article, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestTriggerScanSingleFlight(t *testing.T) {
	col := &blockingCollector{release: make(chan struct{})}
	o := scan.New(col, nil, nil, scan.Options{}, nil)
	srv := New(openTestDB(t), o, &fakeAdvisor{}, nil, nil)

	first := do(t, srv.Handler(), http.MethodPost, "/trigger-scan", "")
	second := do(t, srv.Handler(), http.MethodPost, "/trigger-scan", "")

	assert.JSONEq(t, `{"status":"started","message":"started"}`, first.Body.String())
	assert.JSONEq(t, `{"status":"busy","message":"already running"}`, second.Body.String())

	close(col.release)
	o.Wait()
	assert.Equal(t, 1, col.calls)
	assert.False(t, o.Status().IsScanning)
}

func TestTriggerScanUsesRunContext(t *testing.T) {
	sc := &fakeScanner{result: scan.TriggerResult{Status: scan.StatusStarted, Message: "started"}}
	srv := New(openTestDB(t), sc, &fakeAdvisor{}, nil, nil)

	do(t, srv.Handler(), http.MethodPost, "/trigger-scan", "")
	require.Len(t, sc.ctxs, 1)
	assert.NoError(t, sc.ctxs[0].Err(), "background scans must not inherit the request context")
}

func TestChat(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 25)
	adv := &fakeAdvisor{response: "## Conseil\n\nMigrez vers **Graviton**."}
	srv := New(db, &fakeScanner{}, adv, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"question":"Que faire ?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"## Conseil\n\nMigrez vers **Graviton**."}`, rec.Body.String())
	assert.Equal(t, "Que faire ?", adv.question)
	assert.Equal(t, 20, strings.Count(adv.digest, "\n- "))
	assert.True(t, strings.HasPrefix(adv.digest, "Cloud news:\n- News 024 (Impact: 1)\n"))
}

func TestChatContextLimitAndHTML(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 5)
	adv := &fakeAdvisor{response: "Migrez vers **Graviton**."}
	srv := New(db, &fakeScanner{}, adv, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"question":"q","context_limit":2,"format":"html"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Migrez vers **Graviton**.", resp.Response)
	assert.Equal(t, "<p>Migrez vers <strong>Graviton</strong>.</p>\n", resp.ResponseHTML)
	assert.Equal(t, 2, strings.Count(adv.digest, "\n- "))
}

func TestChatAdvisorUnavailable(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("quota exceeded")}
	srv := New(openTestDB(t), &fakeScanner{}, adv, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"question":"q"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"Unavailable for now (quota exceeded)"}`, rec.Body.String())
}

func TestChatBadRequest(t *testing.T) {
	srv := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"context_limit":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleSave(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 1)
	records, err := db.List(context.Background(), 1)
	require.NoError(t, err)
	id := records[0].ID
	srv := New(db, &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/news/"+id+"/toggle-save", "")
	assert.JSONEq(t, `{"status":"success","is_saved":true}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/news/"+id+"/toggle-save", "")
	assert.JSONEq(t, `{"status":"success","is_saved":false}`, rec.Body.String())
}

func TestToggleSaveUnknown(t *testing.T) {
	srv := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/news/does-not-exist/toggle-save", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","is_saved":false}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, nil, nil)

	rec := do(t, srv.Handler(), http.MethodOptions, "/chat", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Article(metrics.ResultAdded)
	srv := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, reg, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cloudwatcher_scan_articles_total{result="added"} 1`)

	noMetrics := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, nil, nil)
	rec = do(t, noMetrics.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDown(t *testing.T) {
	srv := New(openTestDB(t), &fakeScanner{}, &fakeAdvisor{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
