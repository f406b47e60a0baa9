package http

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"frota/internal/core"
	"frota/internal/services"

	"gopkg.in/yaml.v3"
)

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	format := wantsFormat(r, "json", "yaml")
	if format == "" {
		writeError(w, r, &core.ValidationError{Field: "format", Reason: "must be json or yaml"})
		return
	}
	b, err := s.fleet.ExportBackup(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := "frota-backup-" + b.ExportedAt.Format("2006-01-02")
	var (
		body        []byte
		contentType string
	)
	if format == "yaml" {
		body, err = yaml.Marshal(b)
		contentType = "application/yaml"
		filename += ".yaml"
	} else {
		body, err = json.MarshalIndent(b, "", "  ")
		contentType = "application/json"
		filename += ".json"
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Header("Content-Disposition", `attachment; filename="`+filename+`"`).
		Raw(contentType, body).
		Write(w)
}

// handleImportBackup accepts a backup in JSON or YAML. YAML is picked by
// content type, or by the body not starting with a JSON object.
func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeError(w, r, &core.ValidationError{Field: "body", Reason: "is required"})
		return
	}

	var b services.Backup
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isYAML := mediaType == "application/yaml" || mediaType == "application/x-yaml" || mediaType == "text/yaml" ||
		(mediaType != "application/json" && trimmed[0] != '{')
	if isYAML {
		err = yaml.Unmarshal(trimmed, &b)
	} else {
		err = json.Unmarshal(trimmed, &b)
	}
	if err != nil {
		writeError(w, r, &core.ValidationError{Field: "body", Reason: "invalid backup: " + err.Error()})
		return
	}

	n, err := s.fleet.ImportBackup(r.Context(), AccountFromContext(r.Context()), b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handleClearAccount deletes every record of the account. The caller must
// confirm with ?confirm=true.
func (s *Server) handleClearAccount(w http.ResponseWriter, r *http.Request) {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !ok {
		writeError(w, r, &core.ValidationError{Field: "confirm", Reason: "must be true"})
		return
	}
	n, err := s.fleet.ClearAccount(r.Context(), AccountFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
