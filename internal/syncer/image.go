package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/bartermate/internal/models"
)

// ErrForeignImage reports a local image outside the image directory.
var ErrForeignImage = errors.New("local image is outside the image directory")

// CheckImage rejects a local image reference that does not resolve to a
// file under dir. Remote URLs and empty references are accepted.
func CheckImage(dir, uri string) error {
	local, kind := classifyImage(uri)
	if kind != imageLocal {
		return nil
	}
	if !withinDir(dir, local) {
		return ErrForeignImage
	}
	return nil
}

// withinDir reports whether p resolves strictly below dir. An empty dir
// contains nothing.
func withinDir(dir, p string) bool {
	if dir == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ObjectKey is where a draft's image is stored. Re-uploading the same draft
// overwrites it.
func ObjectKey(draftID, localPath string) string {
	return "listings/" + draftID + strings.ToLower(filepath.Ext(localPath))
}

// uploadImage returns the URL to submit for the draft's image. Remote URLs
// pass through; local files are uploaded only from the image directory.
func (r *Reconciler) uploadImage(ctx context.Context, d models.Draft) (string, error) {
	local, kind := classifyImage(d.ImageURI)
	switch kind {
	case imageNone:
		return "", nil
	case imageRemote:
		return d.ImageURI, nil
	case imageUnsupported:
		r.deps.Logger.Warn("sync: unsupported image reference dropped",
			slog.String("id", d.ID),
			slog.String("image_uri", d.ImageURI),
		)
		return "", nil
	}
	if !withinDir(r.deps.ImageDir, local) {
		r.deps.Logger.Warn("sync: image outside image directory dropped",
			slog.String("id", d.ID),
			slog.String("image_uri", d.ImageURI),
		)
		return "", nil
	}
	if info, err := os.Lstat(local); err == nil && info.Mode()&os.ModeSymlink != 0 {
		r.deps.Logger.Warn("sync: symlinked image dropped", slog.String("id", d.ID))
		return "", nil
	}
	if r.deps.Blobs == nil {
		r.deps.Logger.Warn("sync: no blob store configured, submitting without image", slog.String("id", d.ID))
		return "", nil
	}

	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("sync: open image: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("sync: stat image: %w", err)
	}

	contentType := mime.TypeByExtension(path.Ext(local))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	u, err := r.deps.Blobs.Upload(ctx, ObjectKey(d.ID, local), f, info.Size(), contentType)
	if err != nil {
		return "", fmt.Errorf("sync: upload image: %w", err)
	}
	return u, nil
}

type imageKind int

const (
	imageNone imageKind = iota
	imageLocal
	imageRemote
	imageUnsupported
)

// classifyImage returns the local path when uri names a file on this device.
func classifyImage(uri string) (string, imageKind) {
	if uri == "" {
		return "", imageNone
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return uri, imageLocal
	}
	switch {
	case u.Scheme == "file":
		return u.Path, imageLocal
	case u.Scheme == "http" || u.Scheme == "https":
		return "", imageRemote
	case len(u.Scheme) == 1:
		// Windows drive letter.
		return uri, imageLocal
	default:
		return "", imageUnsupported
	}
}
