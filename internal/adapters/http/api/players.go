package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// PlayersHandler serves player CRUD.
type PlayersHandler struct {
	deps Dependencies
}

func NewPlayersHandler(deps Dependencies) *PlayersHandler {
	return &PlayersHandler{deps: deps}
}

// HandleList handles GET /players.
func (h *PlayersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	players, err := h.deps.ListPlayers(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if players == nil {
		players = []model.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

// HandleCreate handles POST /players.
func (h *PlayersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var f model.PlayerFields
	if err := decodeJSON(r, &f); err != nil {
		writeFailure(w, WrapKind("create player", ErrBadRequest, err))
		return
	}
	p, err := h.deps.CreatePlayer(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleGet handles GET /players/{playerID}.
func (h *PlayersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdate handles PUT /players/{playerID}. The body replaces every
// writable field.
func (h *PlayersHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var f model.PlayerFields
	if err := decodeJSON(r, &f); err != nil {
		writeFailure(w, WrapKind("update player", ErrBadRequest, err))
		return
	}
	p, err := h.deps.UpdatePlayer(r.Context(), chi.URLParam(r, "playerID"), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDelete handles DELETE /players/{playerID}.
func (h *PlayersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeletePlayer(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
