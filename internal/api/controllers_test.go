package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-core/internal/engine"
	"session-core/internal/events"
	"session-core/internal/monitor"
	"session-core/internal/reconciliation"
	"session-core/internal/session"
	exchange "session-core/pkg/exchanges/common"
)

// fakeEngine keeps sessions in a map and fails every call with err when set.
type fakeEngine struct {
	mu       sync.Mutex
	sessions map[string]session.Snapshot
	err      error
	calls    []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: make(map[string]session.Snapshot)}
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) Create(_ context.Context, req engine.CreateRequest) (session.Snapshot, error) {
	if err := f.record("create"); err != nil {
		return session.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[req.SessionID]; ok {
		return session.Snapshot{}, fmt.Errorf("%w: %s", engine.ErrDuplicateSession, req.SessionID)
	}
	snap := session.Snapshot{
		Definition: session.Definition{
			ID:           req.SessionID,
			AccountID:    req.AccountID,
			StrategyName: req.StrategyName,
			Instrument:   req.Instrument,
			Granularity:  req.Granularity,
		},
		Status: session.StatusStopped,
	}
	f.sessions[req.SessionID] = snap
	return snap, nil
}

func (f *fakeEngine) Get(_ context.Context, id string) (session.Snapshot, error) {
	if err := f.record("get"); err != nil {
		return session.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.sessions[id]
	if !ok {
		return session.Snapshot{}, fmt.Errorf("%w: %s", engine.ErrNotFound, id)
	}
	return snap, nil
}

func (f *fakeEngine) List(context.Context) []session.Snapshot { return f.Snapshots() }

func (f *fakeEngine) Update(ctx context.Context, id string, req engine.UpdateRequest) (session.Snapshot, error) {
	snap, err := f.Get(ctx, id)
	if err != nil {
		return snap, err
	}
	if req.MaxDailyLoss != nil {
		snap.MaxDailyLoss = *req.MaxDailyLoss
	}
	f.mu.Lock()
	f.sessions[id] = snap
	f.mu.Unlock()
	return snap, nil
}

func (f *fakeEngine) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.sessions, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) setStatus(ctx context.Context, id string, st session.Status) error {
	snap, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	snap.Status = st
	f.mu.Lock()
	f.sessions[id] = snap
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Start(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, session.StatusRunning)
}
func (f *fakeEngine) Stop(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, session.StatusStopped)
}
func (f *fakeEngine) Pause(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, session.StatusPaused)
}
func (f *fakeEngine) Resume(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, session.StatusRunning)
}

func (f *fakeEngine) Trades(ctx context.Context, id string) (engine.TradesView, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return engine.TradesView{}, err
	}
	return engine.TradesView{SessionID: id}, nil
}

func (f *fakeEngine) Positions(ctx context.Context, id string) (map[string]session.Position, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return map[string]session.Position{}, nil
}

func (f *fakeEngine) ClosePosition(ctx context.Context, id, instrument string) (engine.ClosePositionResult, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return engine.ClosePositionResult{}, err
	}
	return engine.ClosePositionResult{SessionID: id, Instrument: instrument, UnitsClosed: 10000}, nil
}

func (f *fakeEngine) Accounts(context.Context) ([]exchange.AccountRef, error) {
	if err := f.record("accounts"); err != nil {
		return nil, err
	}
	return []exchange.AccountRef{{ID: "A"}}, nil
}

func (f *fakeEngine) AccountSummary(_ context.Context, accountID string) (exchange.AccountSummary, error) {
	if err := f.record("summary"); err != nil {
		return exchange.AccountSummary{}, err
	}
	return exchange.AccountSummary{ID: accountID, Balance: 100000}, nil
}

func (f *fakeEngine) AccountPositions(context.Context, string) ([]exchange.Position, error) {
	if err := f.record("positions"); err != nil {
		return nil, err
	}
	return []exchange.Position{{Instrument: "EUR_USD", LongUnits: 10000}}, nil
}

func (f *fakeEngine) CloseAccountPosition(_ context.Context, accountID, instrument string) (engine.ClosePositionResult, error) {
	if err := f.record("close-account"); err != nil {
		return engine.ClosePositionResult{}, err
	}
	return engine.ClosePositionResult{AccountID: accountID, Instrument: instrument, UnitsClosed: 5000}, nil
}

func (f *fakeEngine) RecoverOrphans(_ context.Context, accountID string, autoClose bool) ([]*reconciliation.OrphanReport, error) {
	if err := f.record("recover"); err != nil {
		return nil, err
	}
	return []*reconciliation.OrphanReport{{AccountID: accountID, AutoClose: autoClose}}, nil
}

func (f *fakeEngine) Backtest(_ context.Context, req engine.BacktestRequest) (*engine.BacktestResponse, error) {
	if err := f.record("backtest"); err != nil {
		return nil, err
	}
	return &engine.BacktestResponse{ID: "bt-1", Strategy: req.Strategy, Instrument: req.Instrument}, nil
}

func (f *fakeEngine) Strategies() []engine.StrategyInfo {
	return []engine.StrategyInfo{{Key: "sma_crossover", Name: "SMA crossover"}}
}

func (f *fakeEngine) Snapshots() []session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Snapshot, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func setupServer(t *testing.T, opts Options) (*Server, *fakeEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fe := newFakeEngine()
	srv := NewServer(fe, events.NewBus(), monitor.NewMetrics(nil), opts)
	return srv, fe
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, Options{})

	w := doJSON(t, srv.Router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, srv.Router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestSessionCRUD(t *testing.T) {
	srv, _ := setupServer(t, Options{})
	h := srv.Router

	create := map[string]any{
		"session_id":    "s1",
		"account_id":    "A",
		"strategy_name": "sma_crossover",
		"instrument":    "EUR_USD",
		"granularity":   "M5",
	}
	w := doJSON(t, h, http.MethodPost, "/api/sessions", create)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "s1", decode(t, w)["session_id"])

	w = doJSON(t, h, http.MethodPost, "/api/sessions", create)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_SESSION", decode(t, w)["code"])

	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = doJSON(t, h, http.MethodGet, "/api/sessions?status=running", nil)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = doJSON(t, h, http.MethodPatch, "/api/sessions/s1", map[string]any{"max_daily_loss": 250.0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 250, decode(t, w)["max_daily_loss"])

	w = doJSON(t, h, http.MethodDelete, "/api/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["code"])
}

func TestCreateSession_BadPayload(t *testing.T) {
	srv, fe := setupServer(t, Options{})

	w := doJSON(t, srv.Router, http.MethodPost, "/api/sessions", map[string]any{"instrument": "EUR_USD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYLOAD", decode(t, w)["code"])
	assert.Empty(t, fe.calls)
}

func TestLifecycleRoutes(t *testing.T) {
	srv, fe := setupServer(t, Options{})
	fe.sessions["s1"] = session.Snapshot{Definition: session.Definition{ID: "s1"}, Status: session.StatusStopped}

	tests := []struct {
		action string
		want   session.Status
	}{
		{"start", session.StatusRunning},
		{"pause", session.StatusPaused},
		{"resume", session.StatusRunning},
		{"stop", session.StatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			w := doJSON(t, srv.Router, http.MethodPost, "/api/sessions/s1/"+tt.action, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, string(tt.want), decode(t, w)["status"])
		})
	}

	w := doJSON(t, srv.Router, http.MethodPost, "/api/sessions/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", engine.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate", engine.ErrDuplicateSession, http.StatusConflict, "DUPLICATE_SESSION"},
		{"capacity", fmt.Errorf("%w: 10 of 10", engine.ErrCapacityExceeded), http.StatusTooManyRequests, "CAPACITY_EXCEEDED"},
		{"invalid params", fmt.Errorf("fast: %w", engine.ErrInvalidParams), http.StatusBadRequest, "INVALID_PARAMS"},
		{"upstream", exchange.Unavailable("accounts", fmt.Errorf("dial tcp: refused")), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "ENGINE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, fe := setupServer(t, Options{})
			fe.err = tt.err
			w := doJSON(t, srv.Router, http.MethodGet, "/api/accounts", nil)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAccountRoutes(t *testing.T) {
	srv, _ := setupServer(t, Options{})
	h := srv.Router

	w := doJSON(t, h, http.MethodGet, "/api/accounts/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 100000, decode(t, w)["balance"])

	w = doJSON(t, h, http.MethodGet, "/api/accounts/A/positions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["positions"], 1)

	w = doJSON(t, h, http.MethodPost, "/api/accounts/A/positions/eur_usd/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "EUR_USD", body["instrument"])
	assert.EqualValues(t, 5000, body["units_closed"])
}

func TestRecoveryAndBacktestRoutes(t *testing.T) {
	srv, _ := setupServer(t, Options{})
	h := srv.Router

	w := doJSON(t, h, http.MethodPost, "/api/recovery/orphans", map[string]any{"account_id": "A", "auto_close": true})
	require.Equal(t, http.StatusOK, w.Code)
	reports := decode(t, w)["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, true, reports[0].(map[string]any)["auto_close"])

	w = doJSON(t, h, http.MethodPost, "/api/backtest", map[string]any{"strategy": "sma_crossover", "instrument": "EUR_USD"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bt-1", decode(t, w)["id"])

	w = doJSON(t, h, http.MethodPost, "/api/backtest", map[string]any{"strategy": "sma_crossover"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStaticListings(t *testing.T) {
	srv, _ := setupServer(t, Options{Meta: SystemMeta{Instruments: []string{"EUR_USD"}}})

	w := doJSON(t, srv.Router, http.MethodGet, "/api/instruments", nil)
	assert.Equal(t, []any{"EUR_USD"}, decode(t, w)["instruments"])

	w = doJSON(t, srv.Router, http.MethodGet, "/api/granularities", nil)
	grans := decode(t, w)["granularities"].([]any)
	assert.Equal(t, "S5", grans[0].(map[string]any)["value"])

	w = doJSON(t, srv.Router, http.MethodGet, "/api/strategies", nil)
	assert.Len(t, decode(t, w)["strategies"], 1)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := setupServer(t, Options{RequireAuth: true, JWTSecret: "test-secret"})
	h := srv.Router

	w := doJSON(t, h, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", decode(t, w)["code"])

	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil, "Authorization", "Token abc")
	assert.Equal(t, "INVALID_AUTH_HEADER", decode(t, w)["code"])

	bad, _, err := MintToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil, "Authorization", "Bearer "+bad)
	assert.Equal(t, "INVALID_TOKEN", decode(t, w)["code"])

	expired, _, err := MintToken("ops", "test-secret", -time.Minute)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	good, _, err := MintToken("ops", "test-secret", time.Hour)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/sessions", nil, "Authorization", "Bearer "+good)
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays public
	w = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMintToken_EmptySecret(t *testing.T) {
	_, _, err := MintToken("ops", "", time.Hour)
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	srv, _ := setupServer(t, Options{RatePerSecond: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, doJSON(t, srv.Router, http.MethodGet, "/health", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupServer(t, Options{})
	w := doJSON(t, srv.Router, http.MethodOptions, "/api/sessions", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TimeoutMiddleware(10 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := doJSON(t, r, http.MethodGet, "/slow", nil)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)

	w = doJSON(t, r, http.MethodGet, "/fast", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebsocketSessionDetail(t *testing.T) {
	srv, fe := setupServer(t, Options{})
	srv.DetailInterval = 10 * time.Millisecond
	fe.sessions["s1"] = session.Snapshot{Definition: session.Definition{ID: "s1"}, Status: session.StatusRunning}

	ts := httptest.NewServer(srv.Router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/s1"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for range 2 {
		var msg struct {
			Type    string           `json:"type"`
			Session session.Snapshot `json:"session"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "session", msg.Type)
		assert.Equal(t, "s1", msg.Session.ID)
	}

	resp, err := http.Get(ts.URL + "/ws/sessions/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketSessionList(t *testing.T) {
	srv, fe := setupServer(t, Options{})
	fe.sessions["s1"] = session.Snapshot{Definition: session.Definition{ID: "s1"}}

	ts := httptest.NewServer(srv.Router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type listMsg struct {
		Type     string             `json:"type"`
		Sessions []session.Snapshot `json:"sessions"`
	}
	var first listMsg
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "sessions", first.Type)
	require.Len(t, first.Sessions, 1)

	// later frames follow the engine's bus publication
	require.Eventually(t, func() bool {
		return srv.Bus.Subscribers(events.EventSessionSnapshot) == 1
	}, time.Second, 5*time.Millisecond)
	srv.Bus.Publish(events.EventSessionSnapshot, []session.Snapshot{
		{Definition: session.Definition{ID: "s1"}},
		{Definition: session.Definition{ID: "s2"}},
	})
	var next listMsg
	require.NoError(t, conn.ReadJSON(&next))
	assert.Len(t, next.Sessions, 2)
}
