// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// JSON bodies, record patches and the dashboard filter query.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"frota/internal/core"
	"frota/internal/filter"
)

const maxBodyBytes = 4 << 20

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.ValidationError{Field: "body", Reason: "too large"}
		}
		return nil, &core.ValidationError{Field: "body", Reason: err.Error()}
	}
	return body, nil
}

// DecodeJSON decodes the request body into v. An empty or malformed body is
// a validation error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &core.ValidationError{Field: "body", Reason: "is required"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &core.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// DecodePatch reads a JSON object of top-level fields to merge into a record.
// Numbers keep their literal text so decimal readings are not rounded.
func DecodePatch(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var patch map[string]any
	if err := dec.Decode(&patch); err != nil {
		return nil, &core.ValidationError{Field: "body", Reason: "invalid JSON object: " + err.Error()}
	}
	if len(patch) == 0 {
		return nil, &core.ValidationError{Field: "body", Reason: "patch is empty"}
	}
	for k, v := range patch {
		if s, ok := v.(string); ok {
			patch[k] = sanitizeInput(s)
		}
	}
	return patch, nil
}

// ParseCriteria reads the dashboard filter from the query string. Absent
// parameters leave the filter open; an unknown period reads as all.
func ParseCriteria(query url.Values) filter.Criteria {
	return filter.Criteria{
		Period:   filter.ParsePeriod(strings.TrimSpace(query.Get("period"))),
		TruckID:  sanitizeInput(query.Get("truckId")),
		DriverID: sanitizeInput(query.Get("driverId")),
		TripID:   sanitizeInput(query.Get("tripId")),
		RentalID: sanitizeInput(query.Get("rentalId")),
	}
}

// wantsFormat picks the response format from ?format= or the Accept header.
func wantsFormat(r *http.Request, formats ...string) string {
	if f := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); f != "" {
		for _, want := range formats {
			if f == want {
				return f
			}
		}
		return ""
	}
	accept := r.Header.Get("Accept")
	for _, want := range formats {
		if strings.Contains(accept, want) {
			return want
		}
	}
	return formats[0]
}
