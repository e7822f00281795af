package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/apperror"
)

var avatarContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var avatarExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// MountUploadRoutes registers the avatar image upload endpoint.
func MountUploadRoutes(r chi.Router, srv *Server) {
	r.Post("/uploads/avatar", srv.HandleUploadAvatar)
}

// HandleUploadAvatar stores a profile image and returns its public URL.
// The client sets the URL on the profile in a separate PATCH; uploading
// alone changes nothing.
func (s *Server) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.Config.MaxUploadSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		errorJSON(w, fmt.Sprintf("File too large. Maximum size: %dMB", s.Config.MaxUploadSizeMB),
			apperror.CodeUploadTooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		errorJSON(w, "file is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !avatarContentTypes[ct] {
		errorJSON(w, fmt.Sprintf("Invalid file type: %s. Allowed: image/jpeg, image/png, image/webp", ct),
			apperror.CodeValidation, http.StatusBadRequest)
		return
	}
	ext := ".jpg"
	if header.Filename != "" {
		ext = strings.ToLower(path.Ext(header.Filename))
	}
	if !avatarExtensions[ext] {
		errorJSON(w, fmt.Sprintf("Invalid file extension: %s. Allowed: .jpg, .jpeg, .png, .webp", ext),
			apperror.CodeValidation, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		errorJSON(w, "reading upload failed", apperror.CodeValidation, http.StatusBadRequest)
		return
	}
	if int64(len(data)) > maxBytes {
		errorJSON(w, fmt.Sprintf("File too large. Maximum size: %dMB", s.Config.MaxUploadSizeMB),
			apperror.CodeUploadTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	object := "avatars/" + uuid.New().String() + ext
	if err := s.Blob.Write(r.Context(), s.Config.StorageBucket, object, data); err != nil {
		s.writeError(w, fmt.Errorf("storing avatar: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": s.blobURL(object)})
}

// blobURL maps a stored object to the URL clients fetch it from. With a
// CDN in front the object is served from there; otherwise the local
// uploads path is used.
func (s *Server) blobURL(object string) string {
	if base := strings.TrimSuffix(s.Config.CDNBaseURL, "/"); base != "" {
		return base + "/" + object
	}
	return "/uploads/" + object
}
