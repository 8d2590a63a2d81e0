package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justerbaster/clobster-railway/internal/api"
	"github.com/justerbaster/clobster-railway/internal/engine"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeCycler struct {
	rep   *engine.Report
	err   error
	calls int
}

func (f *fakeCycler) Run(ctx context.Context) (*engine.Report, error) {
	f.calls++
	return f.rep, f.err
}

// newTestEnv creates a router over an in-memory ledger with 1500 cash.
func newTestEnv(t *testing.T, cyc api.Cycler) (*store.MemoryStore, http.Handler) {
	t.Helper()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.EnsureAccount(context.Background(), d("1500")))
	if cyc == nil {
		cyc = &fakeCycler{rep: &engine.Report{CycleID: "c1"}}
	}
	svc := api.NewService(ms, cyc, nil)
	return ms, api.NewRouter(svc, nil)
}

func seedPosition(t *testing.T, ms *store.MemoryStore, id, entry, current, shares string) {
	t.Helper()
	p := &model.Position{
		MarketID:     id,
		MarketTitle:  "Market " + id,
		Outcome:      "Yes",
		Shares:       d(shares),
		EntryPrice:   d(entry),
		CurrentPrice: d(current),
		Invested:     d(entry).Mul(d(shares)),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, ms.UpsertPosition(context.Background(), p))
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, h := newTestEnv(t, nil)
	w := do(t, h, "GET", "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestDashboard_EmptyLedger(t *testing.T) {
	_, h := newTestEnv(t, nil)

	w := do(t, h, "GET", "/api/dashboard")
	require.Equal(t, http.StatusOK, w.Code)

	// Empty lists must serialise as [] rather than null.
	body := w.Body.String()
	assert.Contains(t, body, `"positions":[]`)
	assert.Contains(t, body, `"trades":[]`)
	assert.Contains(t, body, `"thoughts":[]`)

	var dash api.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	assert.True(t, dash.Stats.Balance.Equal(d("1500")))
	assert.Equal(t, 0, dash.Stats.ActivePositions)
	assert.False(t, dash.LastUpdate.IsZero())
}

func TestDashboard_PositionFigures(t *testing.T) {
	ms, h := newTestEnv(t, nil)
	seedPosition(t, ms, "m1", "0.40", "0.50", "100")

	w := do(t, h, "GET", "/api/dashboard")
	require.Equal(t, http.StatusOK, w.Code)

	var dash api.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	require.Len(t, dash.Positions, 1)
	p := dash.Positions[0]
	assert.Equal(t, "m1", p.MarketID)
	assert.True(t, p.CurrentValue.Equal(d("50")), "value = %s", p.CurrentValue)
	assert.True(t, p.UnrealizedPnL.Equal(d("10")), "pnl = %s", p.UnrealizedPnL)
	assert.True(t, p.PnLPercent.Equal(d("25")), "pct = %s", p.PnLPercent)
	assert.True(t, dash.Stats.UnrealizedPnL.Equal(d("10")))
}

func TestListTrades_Limit(t *testing.T) {
	ms, h := newTestEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ms.AppendTrade(ctx, &model.Trade{
			MarketID: "m1", Outcome: "Yes", Action: model.ActionBuy,
			Shares: d("10"), Price: d("0.5"), Total: d("5"),
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	w := do(t, h, "GET", "/api/trades?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var trades []model.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	assert.Len(t, trades, 2)

	w = do(t, h, "GET", "/api/trades")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	assert.Len(t, trades, 3)
}

func TestListEndpoints_InvalidLimit(t *testing.T) {
	_, h := newTestEnv(t, nil)
	for _, path := range []string{"/api/trades?limit=abc", "/api/trades?limit=0", "/api/thoughts?limit=-3"} {
		t.Run(path, func(t *testing.T) {
			w := do(t, h, "GET", path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "limit must be a positive integer")
		})
	}
}

func TestListThoughts(t *testing.T) {
	ms, h := newTestEnv(t, nil)
	require.NoError(t, ms.AddThought(context.Background(), &model.Thought{
		TradeID: "t1", Content: "bought the dip", Action: model.ActionBuy, CreatedAt: time.Now().UTC(),
	}))

	w := do(t, h, "GET", "/api/thoughts")
	require.Equal(t, http.StatusOK, w.Code)
	var thoughts []model.Thought
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &thoughts))
	require.Len(t, thoughts, 1)
	assert.Equal(t, "bought the dip", thoughts[0].Content)
}

func TestGetStats(t *testing.T) {
	ms, h := newTestEnv(t, nil)
	_, err := ms.AppendTrade(context.Background(), &model.Trade{
		MarketID: "m1", Outcome: "Yes", Action: model.ActionSell,
		Shares: d("100"), Price: d("0.6"), Total: d("60"), PnL: d("20"),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	w := do(t, h, "GET", "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var st model.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Wins)
	assert.True(t, st.TotalPnL.Equal(d("20")))
}

func TestAnalyze_ReturnsReport(t *testing.T) {
	cyc := &fakeCycler{rep: &engine.Report{CycleID: "cycle-1", Candidates: 4}}
	_, h := newTestEnv(t, cyc)

	w := do(t, h, "POST", "/api/analyze")
	require.Equal(t, http.StatusOK, w.Code)
	var rep engine.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, "cycle-1", rep.CycleID)
	assert.Equal(t, 4, rep.Candidates)
	assert.Equal(t, 1, cyc.calls)
}

func TestAnalyze_InProgress(t *testing.T) {
	_, h := newTestEnv(t, &fakeCycler{err: engine.ErrCycleInProgress})

	w := do(t, h, "POST", "/api/analyze")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in progress")
}

func TestAnalyze_GetNotAllowed(t *testing.T) {
	cyc := &fakeCycler{}
	_, h := newTestEnv(t, cyc)

	w := do(t, h, "GET", "/api/analyze")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 0, cyc.calls)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestEnv(t, nil)
	w := do(t, h, "OPTIONS", "/api/dashboard")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// --- WebSocket ---

func TestWSHub_StreamsCommittedTrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)

	ms := store.NewMemoryStore()
	require.NoError(t, ms.EnsureAccount(ctx, d("1500")))
	svc := api.NewService(ms, &fakeCycler{rep: &engine.Report{CycleID: "c9"}}, hub)
	srv := httptest.NewServer(api.NewRouter(svc, hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.OnCommit(ctx, engine.CommitEvent{
		CycleID: "c9",
		Trade: model.Trade{
			ID: "t1", MarketID: "m1", MarketTitle: "Will it rain?", Outcome: "Yes",
			Action: model.ActionSell, Shares: d("250"), Price: d("0.5"), Total: d("125"), PnL: d("50"),
		},
		ExitReason: "take profit",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, api.MsgTradeExecuted, msg.Type)
	assert.Equal(t, "t1", msg.TradeID)
	assert.Equal(t, "SELL", msg.Action)
	assert.Equal(t, "125.00", msg.Total)
	assert.Equal(t, "50.00", msg.PnL)
	assert.Equal(t, "take profit", msg.Reason)

	// A manual cycle is announced after its report is returned.
	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, api.MsgCycleCompleted, msg.Type)
	assert.Equal(t, "c9", msg.CycleID)
}

func TestWSHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := api.NewWSHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after shutdown must not block.
	hub.Broadcast(api.WSMessage{Type: api.MsgCycleCompleted})
}
