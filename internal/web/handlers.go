package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/core"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before parts spill to temporary files.
const multipartMemory = 32 << 20

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.respondError(w, r, apperr.E(apperr.KindUnavailable, "health", err))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateBatch accepts a manifest and queues its books.
//
// Two request shapes are supported:
//   - multipart/form-data with a "manifest" file and optional "images" files
//   - a raw manifest body (JSON, YAML or CSV) with an optional ?filename=
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	manifest, err := s.readManifest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	acc, err := s.service.Accept(r.Context(), manifest)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if acc.Errors == nil {
		acc.Errors = []core.BatchError{}
	}
	w.Header().Set("Location", "/api/batches/"+acc.BatchID)
	writeJSON(w, r, http.StatusAccepted, acc)
}

func (s *Server) readManifest(r *http.Request) (core.Manifest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.readMultipart(r)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return core.Manifest{}, uploadError(err)
	}
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = defaultFilename(mediaType)
	}
	return core.Manifest{Filename: name, Data: data}, nil
}

func (s *Server) readMultipart(r *http.Request) (core.Manifest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return core.Manifest{}, uploadError(err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("manifest")
	if err != nil {
		return core.Manifest{}, apperr.New(apperr.KindStructural, "create batch", "manifest file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return core.Manifest{}, uploadError(err)
	}

	parts := r.MultipartForm.File["images"]
	if limit := s.cfg.Upload.MaxImages; limit > 0 && len(parts) > limit {
		return core.Manifest{}, apperr.New(apperr.KindStructural, "create batch",
			fmt.Sprintf("too many images: %d exceeds limit of %d", len(parts), limit))
	}
	images := make([]core.Image, 0, len(parts))
	for _, part := range parts {
		img, err := readImage(part)
		if err != nil {
			return core.Manifest{}, err
		}
		images = append(images, img)
	}

	return core.Manifest{Filename: header.Filename, Data: data, Images: images}, nil
}

func readImage(fh *multipart.FileHeader) (core.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return core.Image{}, uploadError(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return core.Image{}, uploadError(err)
	}
	return core.Image{Name: fh.Filename, Data: data}, nil
}

// uploadError classifies a body read failure. Oversized bodies are a
// structural rejection, anything else is the client's connection.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.New(apperr.KindStructural, "create batch",
			fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit))
	}
	return apperr.E(apperr.KindStructural, "create batch", fmt.Errorf("read upload: %w", err))
}

func defaultFilename(mediaType string) string {
	switch mediaType {
	case "application/json":
		return "manifest.json"
	case "application/yaml", "application/x-yaml", "text/yaml":
		return "manifest.yaml"
	case "text/csv":
		return "manifest.csv"
	}
	return ""
}

// handleBatchStatus returns the aggregated status of one batch.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Status(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleBatchView renders the batch status as an HTML fragment for polling.
func (s *Server) handleBatchView(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Status(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		// The view is always HTML, even under /api.
		r.Header.Set("HX-Request", "true")
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !report.Status.Terminal() {
		w.Header().Set("HX-Trigger-After-Settle", "batch-progress")
	}
	if err := batchStatusView(report).Render(r.Context(), w); err != nil {
		s.respondError(w, r, apperr.E(apperr.KindInternal, "render batch view", err))
	}
}

// handleQueue lists records, optionally filtered by batch and status.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.RecordFilter{BatchID: q.Get("batch_id")}

	if raw := q.Get("status"); raw != "" {
		st, err := core.ParseStatus(raw)
		if err != nil {
			s.respondError(w, r, apperr.E(apperr.KindValidation, "queue", fmt.Errorf("invalid status filter: %w", err)))
			return
		}
		filter.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			s.respondError(w, r, apperr.New(apperr.KindValidation, "queue", "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	view, err := s.service.Queue(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleCapacity returns the shelf capacity ledger snapshot.
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.CapacityReport(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
