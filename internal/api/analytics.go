package api

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
)

func (h *Handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.analytics.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSummary(e, s) })
}

// analyticsMonthly handles GET /api/analytics/monthly?year=YYYY. The year
// defaults to the current one.
func (h *Handler) analyticsMonthly(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			writeError(w, http.StatusBadRequest, "year must be a number between 1 and 9999")
			return
		}
		year = y
	}

	sales, err := h.analytics.Monthly(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMonthly(e, year, sales) })
}
