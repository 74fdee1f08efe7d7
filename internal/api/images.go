package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/bartermate/internal/barterservice"
)

const (
	imagesDir      = "images"
	maxUploadBytes = 20 << 20 // 20 MB
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// ImageHandler accepts draft photos and keeps them on the device until the
// draft is submitted.
type ImageHandler struct {
	dataDir string
	svc     *barterservice.Service
}

// NewImageHandler creates a handler storing images under dataDir/images.
func NewImageHandler(dataDir string, svc *barterservice.Service) *ImageHandler {
	return &ImageHandler{dataDir: dataDir, svc: svc}
}

func (h *ImageHandler) imagesPath() string {
	return filepath.Join(h.dataDir, imagesDir)
}

// localName validates the uploaded filename and returns a fresh absolute
// path under the images dir that keeps its extension.
func (h *ImageHandler) localName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	ext := strings.ToLower(filepath.Ext(cleaned))
	if !slices.Contains(imageExts, ext) {
		return "", fmt.Errorf("unsupported image type %q", ext)
	}
	abs, err := filepath.Abs(filepath.Join(h.imagesPath(), uuid.NewString()+ext))
	if err != nil {
		return "", err
	}
	return abs, nil
}

// Upload handles POST /api/draft/image (multipart/form-data, field "file").
// The stored file becomes the draft's image.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.localName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := os.MkdirAll(h.imagesPath(), 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create images dir"))
		return
	}

	dst, err := os.Create(abs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	written, err := io.Copy(dst, file)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(abs)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	d, err := h.svc.AttachImage(r.Context(), abs)
	if err != nil {
		_ = os.Remove(abs)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to update draft"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"size":  written,
		"draft": d,
	})
}
