package web

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/JonMunkholm/helios/internal/workbook"
)

// handleHealth pings the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListTables returns the table catalog.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListTables())
}

// handleExportData returns the flattened telemetry as sheets.
func (s *Server) handleExportData(w http.ResponseWriter, r *http.Request) {
	f, err := parseExportFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	export, err := s.service.ExportData(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleExportWorkbook returns the flattened telemetry as an .xlsx file.
func (s *Server) handleExportWorkbook(w http.ResponseWriter, r *http.Request) {
	f, err := parseExportFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	export, err := s.service.ExportData(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}

	// Render fully before writing headers so a failure can still be reported.
	var buf bytes.Buffer
	if err := workbook.Write(&buf, export.Sheets); err != nil {
		respondError(w, r, err)
		return
	}

	filename := "telemetry_" + time.Now().UTC().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleHistory lists recent ingest batches.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", core.DefaultHistoryLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	batches, err := s.service.ListBatches(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleBatch returns one ingest batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.service.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func parseExportFilter(r *http.Request) (core.ExportFilter, error) {
	q := r.URL.Query()
	f := core.ExportFilter{CameraIP: q.Get("camera_ip")}
	if v := q.Get("preset_number"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, core.Invalid("", "preset_number", "%q is not an integer", v)
		}
		f.PresetNumber = &n
	}
	return f, nil
}

// intParam parses a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.Invalid("", name, "%q is not a non-negative integer", v)
	}
	return n, nil
}
