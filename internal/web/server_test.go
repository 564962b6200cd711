package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/core"
	"github.com/JonMunkholm/shelver/internal/enrich"
	"github.com/JonMunkholm/shelver/internal/store/memory"
)

type stubEnricher struct{}

func (stubEnricher) Enrich(_ context.Context, req enrich.Request) *enrich.Result {
	md := req.Known
	if md.Genre == "" {
		md.Genre = "Fiction"
	}
	return &enrich.Result{Metadata: md, Source: "stub", Status: enrich.StatusCompleted}
}

type pingFailStore struct{ *memory.Store }

func (pingFailStore) Ping(context.Context) error { return errors.New("connection refused") }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20, MaxRecords: 1000, MaxImages: 2},
		Rate:   config.RateLimitConfig{Enabled: false, RequestsPerMinute: 100, UploadLimit: 10},
		Security: config.SecurityConfig{
			EnableCSP: true,
		},
	}
}

func newTestServer(t *testing.T, store core.Store, cfg *config.Config) (*Server, *core.Service) {
	t.Helper()
	svc := core.NewService(store, stubEnricher{}, core.Options{BatchLimit: cfg.Upload.MaxRecords})
	srv := NewServer(svc, cfg, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("shelver_up 1\n"))
	})))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
		srv.Shutdown(ctx)
	})
	return srv, svc
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func waitIdle(t *testing.T, svc *core.Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func multipartBody(t *testing.T, manifestName, manifest string, images map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("manifest", manifestName)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(manifest))
	for name, data := range images {
		iw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatal(err)
		}
		iw.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

const twoBookCSV = "isbn,title,author,genre,quantity\n9780306406157,Dune,Frank Herbert,Science Fiction,1\n12345,Broken,Nobody,,1\n"

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, memory.New(), testConfig())
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	down, _ := newTestServer(t, pingFailStore{memory.New()}, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept", "application/json")
	rec = do(down, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Code != "DB002" {
		t.Errorf("code = %q, want DB002", got.Code)
	}
}

func TestCreateBatch_Multipart(t *testing.T) {
	srv, svc := newTestServer(t, memory.New(), testConfig())

	body, ctype := multipartBody(t, "books.csv", twoBookCSV, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", ctype)
	rec := do(srv, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	acc := decode[core.Acceptance](t, rec)
	if acc.Total != 2 || acc.Queued != 1 || acc.Rejected != 1 {
		t.Errorf("acceptance = %+v, want 2 total, 1 queued, 1 rejected", acc)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/batches/"+acc.BatchID {
		t.Errorf("Location = %q", loc)
	}

	waitIdle(t, svc)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/batches/"+acc.BatchID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	report := decode[core.BatchReport](t, rec)
	if report.Status != core.StatusCompleted || report.Progress != 100 {
		t.Errorf("report = %s at %v%%, want completed at 100%%", report.Status, report.Progress)
	}
	if report.Successful != 1 || report.Failed != 1 {
		t.Errorf("counts = %d ok, %d failed, want 1 and 1", report.Successful, report.Failed)
	}
}

func TestCreateBatch_JSONBody(t *testing.T) {
	srv, svc := newTestServer(t, memory.New(), testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/batches",
		strings.NewReader(`{"books":[{"title":"Emma","author":"Jane Austen","quantity":2}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(srv, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	acc := decode[core.Acceptance](t, rec)
	if acc.Queued != 1 {
		t.Errorf("Queued = %d, want 1", acc.Queued)
	}
	waitIdle(t, svc)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/queue?batch_id="+acc.BatchID+"&status=completed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status = %d", rec.Code)
	}
	view := decode[core.QueueView](t, rec)
	if len(view.Records) != 1 || view.Records[0].AssignedShelf != "A" {
		t.Errorf("records = %+v, want one record on shelf A", view.Records)
	}
}

func TestCreateBatch_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		build    func(t *testing.T) *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name: "missing manifest field",
			build: func(t *testing.T) *http.Request {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				mw.WriteField("note", "x")
				mw.Close()
				req := httptest.NewRequest(http.MethodPost, "/api/batches", &buf)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "MAN004",
		},
		{
			name: "header only",
			build: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/batches?filename=b.csv", strings.NewReader("isbn,title\n"))
				req.Header.Set("Content-Type", "text/csv")
				return req
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "BAT001",
		},
		{
			name: "too many images",
			build: func(t *testing.T) *http.Request {
				body, ctype := multipartBody(t, "b.csv", twoBookCSV, map[string][]byte{
					"a.jpg": {1}, "b.jpg": {2}, "c.jpg": {3},
				})
				req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
				req.Header.Set("Content-Type", ctype)
				return req
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "MAN006",
		},
		{
			name: "oversized body",
			build: func(t *testing.T) *http.Request {
				big := "title\n" + strings.Repeat("x\n", 1<<20)
				req := httptest.NewRequest(http.MethodPost, "/api/batches?filename=b.csv", strings.NewReader(big))
				req.Header.Set("Content-Type", "text/csv")
				return req
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "MAN005",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			srv, _ := newTestServer(t, store, testConfig())
			rec := do(srv, tt.build(t))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			got := decode[ErrorResponse](t, rec)
			if got.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", got.Code, tt.wantErr)
			}
			if got.Type != "SHELVER_STRUCTURAL" {
				t.Errorf("type = %q, want SHELVER_STRUCTURAL", got.Type)
			}
			if n := len(store.Batches()); n != 0 {
				t.Errorf("stored batches = %d, want 0", n)
			}
		})
	}
}

func TestBatchStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, memory.New(), testConfig())
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/batches/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	got := decode[ErrorResponse](t, rec)
	if got.Code != "BAT003" || got.Type != "SHELVER_NOT_FOUND" {
		t.Errorf("error = %+v, want BAT003 / SHELVER_NOT_FOUND", got)
	}
}

func TestBatchView(t *testing.T) {
	srv, svc := newTestServer(t, memory.New(), testConfig())
	acc, err := svc.Accept(context.Background(), core.Manifest{
		Filename: "<script>.csv",
		Data:     []byte(twoBookCSV),
	})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	waitIdle(t, svc)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/batches/"+acc.BatchID+"/view", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("filename rendered unescaped")
	}
	if !strings.Contains(body, `value="100.00"`) {
		t.Errorf("body missing full progress bar: %s", body)
	}
	if strings.Contains(body, "hx-trigger") {
		t.Error("terminal batch still polls")
	}
	if !strings.Contains(body, "<tr><td>2</td><td>12345</td>") {
		t.Errorf("body missing error row 2: %s", body)
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/batches/missing/view", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `role="alert"`) {
		t.Errorf("missing view = %d %q, want 404 alert fragment", rec.Code, rec.Body.String())
	}
}

func TestQueue_InvalidParams(t *testing.T) {
	srv, _ := newTestServer(t, memory.New(), testConfig())
	tests := []struct {
		query    string
		wantCode string
	}{
		{"status=shelved", "REQ003"},
		{"limit=-1", "VAL000"},
		{"limit=abc", "VAL000"},
	}
	for _, tt := range tests {
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/queue?"+tt.query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.query, rec.Code)
			continue
		}
		if got := decode[ErrorResponse](t, rec); got.Code != tt.wantCode {
			t.Errorf("%s: code = %q, want %q", tt.query, got.Code, tt.wantCode)
		}
	}
}

func TestCapacity(t *testing.T) {
	srv, svc := newTestServer(t, memory.New(), testConfig())
	ctx := context.Background()
	svc.Ledger().Create(ctx, "A", "01", 10, "")
	svc.Ledger().Reserve(ctx, "A", "01", 4)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/capacity", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	report := decode[core.CapacityReport](t, rec)
	if report.TotalCapacity != 10 || report.TotalCount != 4 {
		t.Errorf("totals = %d/%d, want 4/10", report.TotalCount, report.TotalCapacity)
	}
}

func TestMetricsAndSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, memory.New(), testConfig())
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "shelver_up") {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy missing with CSP enabled")
	}

	cfg := testConfig()
	cfg.Security.EnableCSP = false
	noCSP, _ := newTestServer(t, memory.New(), cfg)
	rec = do(noCSP, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("Content-Security-Policy") != "" {
		t.Error("Content-Security-Policy set with CSP disabled")
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	srv, _ := newTestServer(t, memory.New(), cfg)

	tests := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/capacity", nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		if rec := do(srv, req); rec.Code != tt.want {
			t.Errorf("key %q: status = %d, want %d", tt.key, rec.Code, tt.want)
		}
	}

	// Health stays open for probes.
	if rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 2}
	srv, svc := newTestServer(t, memory.New(), cfg)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/batches?filename=b.csv",
			strings.NewReader("title,author\nEmma,Jane Austen\n"))
		req.Header.Set("Content-Type", "text/csv")
		return do(srv, req).Code
	}
	for i := 0; i < 2; i++ {
		if code := post(); code != http.StatusAccepted {
			t.Fatalf("upload %d status = %d, want 202", i+1, code)
		}
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("third upload status = %d, want 429", code)
	}

	// Reads use the general limit.
	if rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/capacity", nil)); rec.Code != http.StatusOK {
		t.Errorf("capacity status = %d, want 200", rec.Code)
	}
	waitIdle(t, svc)
}
