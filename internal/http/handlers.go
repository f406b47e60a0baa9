package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"frota/internal/core"
	"frota/internal/filter"
	"frota/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// handleReady checks that the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	status, code := "ready", http.StatusOK
	if err := s.fleet.Ping(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	if s.sessions != nil {
		checks["live_sessions"] = strconv.Itoa(s.sessions.Len())
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// resource is the CRUD surface of one collection.
type resource[T any] struct {
	create func(ctx context.Context, account string, v T) (T, error)
	get    func(ctx context.Context, account, id string) (T, error)
	list   func(ctx context.Context, account string) ([]T, error)
	update func(ctx context.Context, account, id string, patch map[string]any) (T, error)
	remove func(ctx context.Context, account, id string) error
	// filter narrows list results by the dashboard criteria, when the
	// collection has a date and references to filter on.
	filter func(now time.Time, c filter.Criteria, items []T) []T
}

func mountResource[T any](s *Server, mux *http.ServeMux, name string, res resource[T]) {
	collection := "/" + name
	item := collection + "/{id}"

	s.handle(mux, "GET "+collection, func(w http.ResponseWriter, r *http.Request) {
		items, err := res.list(r.Context(), AccountFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.filter != nil && len(r.URL.Query()) > 0 {
			items = res.filter(s.now(), ParseCriteria(r.URL.Query()), items)
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	})

	s.handle(mux, "POST "+collection, func(w http.ResponseWriter, r *http.Request) {
		var v T
		if err := DecodeJSON(w, r, &v); err != nil {
			writeError(w, r, err)
			return
		}
		created, err := res.create(r.Context(), AccountFromContext(r.Context()), v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.FromContext(r.Context()).InfoContext(r.Context(), "Record created",
			log.FieldCollection, name, log.FieldOperation, log.OpCreate)
		writeJSON(w, http.StatusCreated, created)
	})

	s.handle(mux, "GET "+item, func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v, err := res.get(r.Context(), AccountFromContext(r.Context()), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	s.handle(mux, "PATCH "+item, func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch, err := DecodePatch(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v, err := res.update(r.Context(), AccountFromContext(r.Context()), id, patch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	s.handle(mux, "DELETE "+item, func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := res.remove(r.Context(), AccountFromContext(r.Context()), id); err != nil {
			writeError(w, r, err)
			return
		}
		NewJSONResponse().Status(http.StatusNoContent).Write(w)
	})
}

func filterTrips(now time.Time, c filter.Criteria, trips []core.Trip) []core.Trip {
	return c.Trips(now, trips)
}

func filterRentals(now time.Time, c filter.Criteria, rentals []core.Rental) []core.Rental {
	return c.Rentals(now, rentals)
}

func filterTransactions(now time.Time, c filter.Criteria, txs []core.Transaction) []core.Transaction {
	return c.Transactions(now, txs)
}
