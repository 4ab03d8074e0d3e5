package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/executor"
)

// SignalHandler exposes signal ingestion and execution triggers.
type SignalHandler struct {
	signals     domain.SignalStore
	coordinator *executor.Coordinator
	logger      *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals domain.SignalStore, coordinator *executor.Coordinator, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		signals:     signals,
		coordinator: coordinator,
		logger:      logger.With(slog.String("handler", "signal")),
	}
}

type createSignalRequest struct {
	AgentID      string   `json:"agentId"`
	DeploymentID string   `json:"deploymentId"`
	Venue        string   `json:"venue"`
	Token        string   `json:"token"`
	Side         string   `json:"side"`
	SizingKind   string   `json:"sizingKind"`
	SizingValue  float64  `json:"sizingValue"`
	Leverage     float64  `json:"leverage"`
	Trailing     *struct {
		ActivationPct float64 `json:"activationPct"`
		TrailPct      float64 `json:"trailPct"`
	} `json:"trailing"`
	Source string `json:"source"`
}

// CreateSignal records a new signal. Duplicate signals within the same time
// bucket collapse onto the existing row and return 409.
// POST /api/signals
func (h *SignalHandler) CreateSignal(w http.ResponseWriter, r *http.Request) {
	var req createSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	venue := domain.Venue(req.Venue)
	if !venue.Valid() {
		writeError(w, http.StatusBadRequest, "unknown venue")
		return
	}
	side := domain.Side(req.Side)
	if side != domain.SideLong && side != domain.SideShort {
		writeError(w, http.StatusBadRequest, "side must be LONG or SHORT")
		return
	}
	kind := domain.SizingKind(req.SizingKind)
	if kind != domain.SizingPercentage && kind != domain.SizingFixedNotional {
		writeError(w, http.StatusBadRequest, "sizingKind must be percentage or fixed-notional")
		return
	}
	if req.SizingValue <= 0 {
		writeError(w, http.StatusBadRequest, "sizingValue must be positive")
		return
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	now := time.Now().UTC()
	sig := domain.Signal{
		ID:          uuid.New().String(),
		AgentID:     req.AgentID,
		Deployment:  req.DeploymentID,
		Venue:       venue,
		TokenSymbol: req.Token,
		Side:        side,
		Sizing: domain.Sizing{
			Kind:     kind,
			Value:    req.SizingValue,
			Leverage: leverage,
		},
		Source:    req.Source,
		Bucket:    domain.TimeBucket(now),
		CreatedAt: now,
	}
	if t := req.Trailing; t != nil {
		sig.Risk.Trailing = &domain.TrailingParams{
			Enabled:       true,
			ActivationPct: t.ActivationPct,
			TrailPct:      t.TrailPct,
		}
	}

	if err := h.signals.Create(r.Context(), sig); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "duplicate signal for this token and time bucket")
			return
		}
		h.logger.ErrorContext(r.Context(), "create signal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store signal")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": sig.ID})
}

// ExecuteSignal triggers execution of a stored signal by id.
// POST /api/signals/{id}/execute
func (h *SignalHandler) ExecuteSignal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing signal id")
		return
	}

	result, err := h.coordinator.ExecuteSignal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "signal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "execute failed",
			slog.String("signal_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	status := http.StatusOK
	if result.State == executor.StateRejected {
		status = http.StatusUnprocessableEntity
	}
	if result.State == executor.StateFailed {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"state":      result.State,
		"reason":     result.Reason,
		"positionId": result.PositionID,
		"txRef":      result.TxRef,
	})
}
