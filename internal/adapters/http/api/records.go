package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// IdempotencyHeader carries the client key that makes a stat create retry-safe.
const IdempotencyHeader = "Idempotency-Key"

// maxBatch bounds the records accepted by one batch request.
const maxBatch = 500

// RecordsHandler serves the statistics of one player.
type RecordsHandler struct {
	deps Dependencies
}

func NewRecordsHandler(deps Dependencies) *RecordsHandler {
	return &RecordsHandler{deps: deps}
}

type batchResponse struct {
	Created []model.StatRecord `json:"created"`
	Error   *ErrorResponse     `json:"error,omitempty"`
}

// HandleList handles GET /players/{playerID}/stats.
func (h *RecordsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.deps.ListStats)
}

// HandleTrend handles GET /players/{playerID}/stats/trend: dated records
// oldest first.
func (h *RecordsHandler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.deps.StatTrend)
}

func (h *RecordsHandler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, playerID string) ([]model.StatRecord, error)) {
	records, err := fetch(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if records == nil {
		records = []model.StatRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleCreate handles POST /players/{playerID}/stats.
func (h *RecordsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		writeFailure(w, WrapKind("create stat", ErrBadRequest, err))
		return
	}
	rec, err := h.deps.CreateStat(r.Context(), r.Header.Get(IdempotencyHeader), chi.URLParam(r, "playerID"), raw)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleBatch handles POST /players/{playerID}/stats/batch. Records are
// written in order; the first failure stops the batch and the response
// lists what was written before it.
func (h *RecordsHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var raws []map[string]any
	if err := decodeJSON(r, &raws); err != nil {
		writeFailure(w, WrapKind("create stats", ErrBadRequest, err))
		return
	}
	if len(raws) == 0 {
		writeFailure(w, NewKind("create stats: empty batch", ErrBadRequest))
		return
	}
	if len(raws) > maxBatch {
		writeFailure(w, NewKind("create stats: batch too large", ErrBackpressure))
		return
	}
	created, err := h.deps.CreateStats(r.Context(), chi.URLParam(r, "playerID"), raws)
	if created == nil {
		created = []model.StatRecord{}
	}
	if err != nil {
		status, code := statusFor(err)
		writeJSON(w, status, batchResponse{Created: created, Error: &ErrorResponse{Code: code, Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{Created: created})
}

// HandleUpdate handles PUT /players/{playerID}/stats/{statID}. The body
// replaces the record; absent numeric fields become zero.
func (h *RecordsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		writeFailure(w, WrapKind("update stat", ErrBadRequest, err))
		return
	}
	rec, err := h.deps.UpdateStat(r.Context(), chi.URLParam(r, "playerID"), chi.URLParam(r, "statID"), raw)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /players/{playerID}/stats/{statID}.
func (h *RecordsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteStat(r.Context(), chi.URLParam(r, "playerID"), chi.URLParam(r, "statID")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
