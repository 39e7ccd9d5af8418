package web

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/JonMunkholm/helios/internal/workbook"
)

// IngestResponse is the body returned after a committed batch.
type IngestResponse struct {
	*core.IngestResult
	Inserted   int   `json:"inserted"`
	Updated    int   `json:"updated"`
	DurationMs int64 `json:"duration_ms"`
}

func toIngestResponse(res *core.IngestResult) IngestResponse {
	return IngestResponse{
		IngestResult: res,
		Inserted:     res.Inserted(),
		Updated:      res.Updated(),
		DurationMs:   res.Duration.Milliseconds(),
	}
}

// handleUploadData ingests a JSON sheet payload as a new upload.
func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	s.ingestJSON(w, r, core.ModeUpload, http.StatusCreated)
}

// handleUpdateData ingests a JSON sheet payload as an update.
func (s *Server) handleUpdateData(w http.ResponseWriter, r *http.Request) {
	s.ingestJSON(w, r, core.ModeUpdate, http.StatusOK)
}

func (s *Server) ingestJSON(w http.ResponseWriter, r *http.Request, mode core.Mode, status int) {
	var batch core.Batch
	if err := decodeJSON(w, r, s.cfg.Ingest.MaxBodySize, &batch); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.Ingest(r.Context(), mode, batch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, status, toIngestResponse(res))
}

// handleUploadWorkbook ingests an .xlsx file sent as multipart field "file".
func (s *Server) handleUploadWorkbook(w http.ResponseWriter, r *http.Request) {
	batch, err := s.readWorkbook(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	mode := core.ModeUpload
	status := http.StatusCreated
	if r.FormValue("mode") == string(core.ModeUpdate) {
		mode, status = core.ModeUpdate, http.StatusOK
	}

	res, err := s.service.Ingest(r.Context(), mode, batch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, status, toIngestResponse(res))
}

// handlePreview dry-runs a payload. JSON bodies and .xlsx uploads are both
// accepted.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var (
		batch core.Batch
		err   error
	)
	if isMultipart(r) {
		batch, err = s.readWorkbook(w, r)
	} else {
		err = decodeJSON(w, r, s.cfg.Ingest.MaxBodySize, &batch)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.Preview(r.Context(), batch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleIngestStatus reports ingestion slot usage.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.IngestLimiterStatus())
}

func (s *Server) readWorkbook(w http.ResponseWriter, r *http.Request) (core.Batch, error) {
	maxSize := s.cfg.Ingest.MaxBodySize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Batch{}, err
		}
		return core.Batch{}, &core.Error{Kind: core.KindInvalidValue, Field: "file", Msg: "invalid multipart form: " + err.Error()}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Batch{}, &core.Error{Kind: core.KindInvalidValue, Field: "file", Msg: "no file provided"}
	}
	defer file.Close()

	sheets, err := workbook.Read(file)
	if err != nil {
		return core.Batch{}, err
	}
	return core.Batch{Filename: header.Filename, Sheets: sheets}, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "multipart/")
}
