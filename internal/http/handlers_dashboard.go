package http

import (
	"bytes"
	"net/http"

	"frota/internal/core"
	"frota/internal/lifecycle"
	"frota/internal/log"
	"frota/internal/report"
)

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in lifecycle.TripCompletion
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.EndLocation = sanitizeInput(in.EndLocation)

	account := AccountFromContext(r.Context())
	out, err := s.fleet.CompleteTrip(r.Context(), account, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.fleet.TripMetrics(r.Context(), account, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": out, "trip": view})
}

func (s *Server) handleCompleteRental(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in lifecycle.RentalCompletion
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.EndLocation = sanitizeInput(in.EndLocation)

	account := AccountFromContext(r.Context())
	out, err := s.fleet.CompleteRental(r.Context(), account, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.fleet.RentalMetrics(r.Context(), account, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": out, "rental": view})
}

func (s *Server) handleTripMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.fleet.TripMetrics(r.Context(), AccountFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRentalMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.fleet.RentalMetrics(r.Context(), AccountFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[core.TransactionType][]string{
		core.Revenue: core.Categories(core.Revenue),
		core.Expense: core.Categories(core.Expense),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.fleet.Dashboard(r.Context(), AccountFromContext(r.Context()), ParseCriteria(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleFinanceSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.fleet.Finance(r.Context(), AccountFromContext(r.Context()), ParseCriteria(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleFinanceMonth(w http.ResponseWriter, r *http.Request) {
	totals, err := s.fleet.CurrentMonth(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// handleReport builds one report kind as JSON tables or as CSV.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	kind := report.Kind(sanitizeInput(r.PathValue("kind")))
	format := wantsFormat(r, "json", "csv")
	if format == "" {
		writeError(w, r, &core.ValidationError{Field: "format", Reason: "must be json or csv"})
		return
	}

	records, err := s.fleet.LoadRecords(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := report.Build(kind, s.now(), ParseCriteria(r.URL.Query()), records)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Report generated",
		"kind", string(kind), "format", format, log.FieldOperation, log.OpExport)
	if format == "json" {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rep); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Header("Content-Disposition", `attachment; filename="relatorio-`+string(kind)+`.csv"`).
		Raw("text/csv; charset=utf-8", buf.Bytes()).
		Write(w)
}
