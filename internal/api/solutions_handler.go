package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/solution"
)

func (s *Server) handleListSolutionFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Solutions.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleUploadSolutionFile accepts multipart/form-data with the file in
// field "file".
func (s *Server) handleUploadSolutionFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: ErrorDetail{
				Kind:    apperr.KindValidation,
				Code:    "UPLOAD_TOO_LARGE",
				Message: "solution file exceeds the upload limit",
			}})
			return
		}
		s.writeError(w, apperr.Validation("INVALID_UPLOAD", "expected multipart form with field \"file\": %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, apperr.Validation("INVALID_UPLOAD", "missing form field \"file\""))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, apperr.Validation("INVALID_UPLOAD", "read uploaded file: %v", err))
		return
	}

	f, err := s.deps.Solutions.Upload(r.Context(), r.PathValue("id"),
		header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDeleteSolutionFile(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Solutions.Delete(r.Context(), r.PathValue("id"), r.PathValue("fileId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Solutions.Preview(r.Context(), r.PathValue("id"), r.PathValue("fileId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleApply applies a solution file. The body is optional and defaults
// to no examples and no fingerprint check.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var opts solution.ApplyOptions
	if err := decodeJSON(w, r, &opts, true); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.deps.Solutions.Apply(r.Context(), r.PathValue("id"), r.PathValue("fileId"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
