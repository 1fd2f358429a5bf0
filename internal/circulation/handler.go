// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulib/pkg/recordstore"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes wires the engine's operations onto a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/assets/{assetID}", func(r chi.Router) {
		r.Post("/checkout", h.handleCheckOut)
		r.Post("/checkin", h.handleCheckIn)
		r.Post("/found", h.handleMarkFound)
		r.Post("/lost", h.handleMarkLost)
		r.Post("/holds", h.handlePlaceHold)

		r.Get("/checkout", h.handleGetCheckout)
		r.Get("/holds", h.handleGetHolds)
		r.Get("/history", h.handleGetHistory)
	})
	r.Get("/holds/{holdID}", h.handleGetHold)

	return r
}

type cardRequest struct {
	CardID uuid.UUID `json:"card_id"`
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.CheckOutItem(r.Context(), assetID, req.CardID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	if err := h.service.CheckInItem(r.Context(), assetID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkFound(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	if err := h.service.MarkFound(r.Context(), assetID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkLost(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	if err := h.service.MarkLost(r.Context(), assetID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePlaceHold(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.PlaceHold(r.Context(), assetID, req.CardID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	checkout, err := h.service.GetLatestCheckout(r.Context(), assetID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := struct {
		CheckedOut bool          `json:"checked_out"`
		Checkout   *CheckoutView `json:"checkout,omitempty"`
		Patron     string        `json:"patron,omitempty"`
	}{}

	if checkout != nil {
		patron, err := h.service.GetCurrentCheckoutPatron(r.Context(), assetID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.CheckedOut = true
		resp.Checkout = checkout
		resp.Patron = patron
	}

	h.writeJSON(w, resp)
}

func (h *Handler) handleGetHolds(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	holds, err := h.service.GetCurrentHolds(r.Context(), assetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if holds == nil {
		holds = []HoldView{}
	}
	h.writeJSON(w, holds)
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r, "assetID")
	if !ok {
		return
	}

	history, err := h.service.GetCheckoutHistory(r.Context(), assetID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if history == nil {
		history = []HistoryView{}
	}
	h.writeJSON(w, history)
}

func (h *Handler) handleGetHold(w http.ResponseWriter, r *http.Request) {
	holdID, ok := h.pathID(w, r, "holdID")
	if !ok {
		return
	}

	placed, err := h.service.GetCurrentHoldPlaced(r.Context(), holdID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	patron, err := h.service.GetCurrentHoldPatronName(r.Context(), holdID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, struct {
		ID         uuid.UUID `json:"id"`
		HoldPlaced time.Time `json:"hold_placed"`
		Patron     string    `json:"patron,omitempty"`
	}{
		ID:         holdID,
		HoldPlaced: placed,
		Patron:     patron,
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response", zap.Error(err))
	}
}

// writeError translates engine outcomes into status codes: missing records
// are 404, an invalid transition is 409, a store conflict that survived
// retries is 503 so the caller can retry.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAssetNotFound),
		errors.Is(err, ErrCardNotFound),
		errors.Is(err, ErrHoldNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAlreadyCheckedOut):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, recordstore.ErrConflict):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("operation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
