// Package api exposes the agent's ledger and decision cycle over HTTP:
// a JSON dashboard, read endpoints for positions, trades, thoughts and
// stats, a manual cycle trigger, and a WebSocket stream of commits.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justerbaster/clobster-railway/internal/engine"
	"github.com/justerbaster/clobster-railway/internal/model"
	"github.com/justerbaster/clobster-railway/internal/store"
)

// Cycler runs one decision cycle. *engine.Sequencer satisfies it.
type Cycler interface {
	Run(ctx context.Context) (*engine.Report, error)
}

// Service handles the HTTP API.
type Service struct {
	ledger store.Ledger
	cycler Cycler
	wsHub  *WSHub // optional
	now    func() time.Time
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(ledger store.Ledger, cycler Cycler, hub *WSHub) *Service {
	return &Service{
		ledger: ledger,
		cycler: cycler,
		wsHub:  hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// --- Response types ---

// PositionView is a position with its mark-to-market figures.
type PositionView struct {
	model.Position
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"pnl"`
	PnLPercent    decimal.Decimal `json:"pnl_percent"`
}

// Dashboard is the JSON body returned from GET /api/dashboard.
type Dashboard struct {
	Stats      *model.Stats    `json:"stats"`
	Positions  []PositionView  `json:"positions"`
	Trades     []model.Trade   `json:"trades"`
	Thoughts   []model.Thought `json:"thoughts"`
	LastUpdate time.Time       `json:"last_update"`
}

func positionViews(positions []model.Position) []PositionView {
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, PositionView{
			Position:      p,
			CurrentValue:  p.CurrentValue().Round(2),
			UnrealizedPnL: p.UnrealizedPnL().Round(2),
			PnLPercent:    p.PnLPercent().Round(2),
		})
	}
	return views
}

// --- HTTP Handlers ---

// GetDashboard handles GET /api/dashboard
func (s *Service) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := store.ComputeStats(ctx, s.ledger)
	if err != nil {
		writeStoreError(w, "failed to compute stats", err)
		return
	}
	positions, err := s.ledger.ListPositions(ctx)
	if err != nil {
		writeStoreError(w, "failed to load positions", err)
		return
	}
	trades, err := s.ledger.ListTrades(ctx, 20)
	if err != nil {
		writeStoreError(w, "failed to load trades", err)
		return
	}
	thoughts, err := s.ledger.ListThoughts(ctx, 10)
	if err != nil {
		writeStoreError(w, "failed to load thoughts", err)
		return
	}

	writeJSON(w, http.StatusOK, Dashboard{
		Stats:      stats,
		Positions:  positionViews(positions),
		Trades:     nonNil(trades),
		Thoughts:   nonNil(thoughts),
		LastUpdate: s.now(),
	})
}

// Analyze handles POST /api/analyze
// Runs one cycle synchronously. The cycle is detached from the request
// context so a disconnecting client cannot cut it short.
func (s *Service) Analyze(w http.ResponseWriter, r *http.Request) {
	rep, err := s.cycler.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, engine.ErrCycleInProgress) {
		writeError(w, "analysis already in progress", http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("manual cycle failed", "err", err)
		if rep == nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastCycle(rep)
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListPositions handles GET /api/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.ListPositions(r.Context())
	if err != nil {
		writeStoreError(w, "failed to load positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positionViews(positions))
}

// ListTrades handles GET /api/trades?limit=N
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}
	trades, err := s.ledger.ListTrades(r.Context(), limit)
	if err != nil {
		writeStoreError(w, "failed to load trades", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trades))
}

// ListThoughts handles GET /api/thoughts?limit=N
func (s *Service) ListThoughts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	thoughts, err := s.ledger.ListThoughts(r.Context(), limit)
	if err != nil {
		writeStoreError(w, "failed to load thoughts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(thoughts))
}

// GetStats handles GET /api/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.ComputeStats(r.Context(), s.ledger)
	if err != nil {
		writeStoreError(w, "failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

const maxLimit = 500

// parseLimit reads ?limit=, writing a 400 and returning false if invalid.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps ledger errors to 503 (unreachable) or 500.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	slog.Error(message, "err", err)
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, message, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
