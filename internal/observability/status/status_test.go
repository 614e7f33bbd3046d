package status

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

	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

var next = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeRuns struct {
	job   string
	limit int
}

func (f *fakeRuns) runs(_ context.Context, job string, limit int) ([]storage.RunRecord, error) {
	f.job, f.limit = job, limit
	return []storage.RunRecord{{Job: job, OK: true, Due: next}}, nil
}

func testSources(runs *fakeRuns) Sources {
	return Sources{
		Jobs: func(context.Context) ([]JobInfo, error) {
			return []JobInfo{{ID: "1", Name: "backup", Rule: "every day at 02:30:00", NextRun: next}}, nil
		},
		Runs: runs.runs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "cadence_jobs_registered 1\n")
		}),
	}
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{}
	h := New(Config{Enabled: true}, testSources(runs), logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		code   int
		body   string
	}{
		{name: "health", target: "/healthz", code: 200, body: "ok"},
		{name: "jobs", target: "/jobs", code: 200, body: `"name":"backup"`},
		{name: "runs", target: "/runs?job=backup&limit=5", code: 200, body: `"job":"backup"`},
		{name: "runs by path", target: "/jobs/backup/runs", code: 200, body: `"ok":true`},
		{name: "bad limit", target: "/runs?limit=zero", code: 400, body: "limit"},
		{name: "metrics", target: "/metrics", code: 200, body: "cadence_jobs_registered 1"},
		{name: "pprof off", target: "/debug/pprof/", code: 404},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.target)
		if rec.Code != tt.code {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.code)
		}
		if !strings.Contains(rec.Body.String(), tt.body) {
			t.Fatalf("%s: body %q does not contain %q", tt.name, rec.Body.String(), tt.body)
		}
	}

	get(t, h, "/runs?limit=100000")
	if runs.limit != maxRunLimit {
		t.Fatalf("limit = %d, want clamp to %d", runs.limit, maxRunLimit)
	}
	get(t, h, "/jobs/sync/runs")
	if runs.job != "sync" || runs.limit != defaultRunLimit {
		t.Fatalf("runs called with job=%q limit=%d", runs.job, runs.limit)
	}
}

func TestJobsJSON(t *testing.T) {
	t.Parallel()
	h := New(Config{Enabled: true}, testSources(&fakeRuns{}), logx.Nop()).Handler()
	rec := get(t, h, "/jobs")
	var jobs []JobInfo
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 1 || !jobs[0].NextRun.Equal(next) || jobs[0].LastRun != nil {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestMissingSources(t *testing.T) {
	t.Parallel()
	h := New(Config{Enabled: true}, Sources{}, logx.Nop()).Handler()
	for _, target := range []string{"/jobs", "/runs", "/metrics"} {
		if rec := get(t, h, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Enabled: true, Token: "s3cret", Pprof: true}, testSources(&fakeRuns{}), logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		header []string
		code   int
	}{
		{name: "health is public", target: "/healthz", code: 200},
		{name: "no token", target: "/jobs", code: 401},
		{name: "wrong bearer", target: "/jobs", header: []string{"Authorization", "Bearer nope"}, code: 401},
		{name: "bearer", target: "/jobs", header: []string{"Authorization", "Bearer s3cret"}, code: 200},
		{name: "query token", target: "/jobs?token=s3cret", code: 200},
		{name: "pprof needs token", target: "/debug/pprof/", code: 401},
		{name: "pprof", target: "/debug/pprof/cmdline?token=s3cret", code: 200},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.target, tt.header...); rec.Code != tt.code {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.code)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9090", true},
		{"localhost:9090", true},
		{"[::1]:9090", true},
		{":9090", false},
		{"0.0.0.0:9090", false},
		{"10.0.0.5:9090", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestStartStopReconfigure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(&fakeRuns{}), logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"}); err != nil {
		t.Fatalf("Reconfigure error: %v", err)
	}
	resp, err = http.Get("http://" + s.Addr() + "/jobs")
	if err != nil {
		t.Fatalf("GET /jobs: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("restarted server ignored the token: %d", resp.StatusCode)
	}

	if err := s.Reconfigure(ctx, Config{}); err != nil {
		t.Fatalf("disable error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("server still bound after disable")
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Start = %v, want ErrInsecureBind", err)
	}
	if err := New(Config{}, Sources{}, logx.Nop()).Start(context.Background()); err != nil {
		t.Fatalf("disabled Start = %v", err)
	}
}
