package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/models"
)

// maxImportBytes caps activity file uploads at 20MB. GPX tracks of even
// ultra-length runs stay well under this.
const maxImportBytes = 20 << 20

// MountImportRoutes registers the activity file import endpoints.
func MountImportRoutes(r chi.Router, srv *Server) {
	r.Post("/imports/upload", srv.HandleUploadImport)
	r.Get("/imports", srv.HandleListImports)
	r.Get("/imports/{importID}", srv.HandleGetImport)
	r.Delete("/imports/{importID}", srv.HandleDeleteImport)
}

// HandleUploadImport accepts a GPX or FIT file as multipart form data
// and queues it for background processing.
func (s *Server) HandleUploadImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes+4096)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		errorJSON(w, "File too large. Maximum size: 20MB", apperror.CodeUploadTooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		errorJSON(w, "file is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		errorJSON(w, "reading upload failed", apperror.CodeValidation, http.StatusBadRequest)
		return
	}
	if len(data) > maxImportBytes {
		errorJSON(w, "File too large. Maximum size: 20MB", apperror.CodeUploadTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	imp, err := s.Imports.CreateUpload(r.Context(), UserFromContext(r.Context()).ID, header.Filename, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"import_id": imp.ID,
		"status":    imp.Status,
		"message":   "File uploaded. Processing will start shortly.",
	})
}

type importResponse struct {
	ID               uuid.UUID      `json:"id"`
	Source           string         `json:"source"`
	Status           string         `json:"status"`
	ExternalID       string         `json:"external_id"`
	OriginalFilename string         `json:"original_filename"`
	ImportSummary    map[string]any `json:"import_summary"`
	CourseMatch      map[string]any `json:"course_match"`
	RunRecordID      *uuid.UUID     `json:"run_record_id"`
	ErrorMessage     string         `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
}

func toImportResponse(imp *models.ExternalImport) importResponse {
	return importResponse{
		ID:               imp.ID,
		Source:           imp.Source,
		Status:           imp.Status,
		ExternalID:       imp.ExternalID,
		OriginalFilename: imp.OriginalFilename,
		ImportSummary:    imp.ImportSummary,
		CourseMatch:      imp.CourseMatch,
		RunRecordID:      imp.RunRecordID,
		ErrorMessage:     imp.ErrorMessage,
		CreatedAt:        imp.CreatedAt,
	}
}

// HandleListImports serves the caller's import history, newest first.
func (s *Server) HandleListImports(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)

	imports, total, err := s.Imports.ListImports(r.Context(), UserFromContext(r.Context()).ID, page, perPage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows := make([]importResponse, 0, len(imports))
	for i := range imports {
		rows = append(rows, toImportResponse(&imports[i]))
	}
	writeJSON(w, http.StatusOK, envelope(rows, page, perPage, total))
}

// HandleGetImport serves one import with its processing outcome. Clients
// poll this while status is pending or processing.
func (s *Server) HandleGetImport(w http.ResponseWriter, r *http.Request) {
	importID, ok := uuidParam(w, r, "importID")
	if !ok {
		return
	}

	imp, err := s.Imports.GetImport(r.Context(), UserFromContext(r.Context()).ID, importID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(imp))
}

// HandleDeleteImport removes an import record. The run record it
// produced, if any, stays.
func (s *Server) HandleDeleteImport(w http.ResponseWriter, r *http.Request) {
	importID, ok := uuidParam(w, r, "importID")
	if !ok {
		return
	}

	if err := s.Imports.DeleteImport(r.Context(), UserFromContext(r.Context()).ID, importID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
