package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/executor"
)

// PositionHandler exposes position listing and manual close.
type PositionHandler struct {
	positions   domain.PositionStore
	coordinator *executor.Coordinator
	logger      *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, coordinator *executor.Coordinator, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions:   positions,
		coordinator: coordinator,
		logger:      logger.With(slog.String("handler", "position")),
	}
}

// ListOpen returns the open positions for a deployment.
// GET /api/positions?deployment={id}
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deployment")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "missing deployment query parameter")
		return
	}

	positions, err := h.positions.ListOpenByDeployment(r.Context(), deploymentID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

// GetPosition returns one position by id, open or closed.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition manually closes an open position. Closing an already-closed
// position is reported as a conflict, not an error.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	result, err := h.coordinator.ClosePosition(r.Context(), id, domain.CloseReasonManual)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "close failed",
			slog.String("position_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "close failed")
		return
	}

	status := http.StatusOK
	if result.State == executor.StateRejected {
		status = http.StatusConflict
	}
	if result.State == executor.StateFailed {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"state":  result.State,
		"reason": result.Reason,
		"txRef":  result.TxRef,
	})
}
