package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// AnalyticsHandler serves derived analytics views.
type AnalyticsHandler struct {
	deps Dependencies
}

func NewAnalyticsHandler(deps Dependencies) *AnalyticsHandler {
	return &AnalyticsHandler{deps: deps}
}

// etag identifies a view by the statistics it was derived from, its
// generation and its lifecycle state.
func etag(v model.View) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%s-%d-%s", v.StatsDigest, v.Generation, v.State))
}

// HandleGet handles GET /players/{playerID}/analytics. With ?wait=true the
// response is held until the in-flight fetch settles or the request times
// out; a timed out wait still answers with the latest view.
func (h *AnalyticsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wait := false
	if s := r.URL.Query().Get("wait"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeFailure(w, WrapKind("analytics: wait", ErrBadRequest, err))
			return
		}
		wait = b
	}
	v, err := h.deps.Analytics(r.Context(), chi.URLParam(r, "playerID"), wait)
	if err != nil && (v.PlayerID == "" || model.KindOf(err) != model.KindNetwork) {
		writeFailure(w, err)
		return
	}
	tag := etag(v)
	w.Header().Set("ETag", tag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleRefresh handles POST /players/{playerID}/analytics/refresh.
func (h *AnalyticsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.RefreshAnalytics(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("ETag", etag(v))
	writeJSON(w, http.StatusAccepted, v)
}

// HandleInsights handles GET /insights?max_age=&top_n=. Missing values use
// the configured defaults.
func (h *AnalyticsHandler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	maxAge, err := intParam(r, "max_age")
	if err != nil {
		writeFailure(w, err)
		return
	}
	topN, err := intParam(r, "top_n")
	if err != nil {
		writeFailure(w, err)
		return
	}
	ins, err := h.deps.Insights(r.Context(), maxAge, topN)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, NewKind(fmt.Sprintf("%s must be a positive integer", name), ErrBadRequest)
	}
	return n, nil
}
