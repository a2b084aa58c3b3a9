package fs

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/itchan-dev/itchat/backend/internal/service"
	"github.com/itchan-dev/itchat/shared/logger"

	"github.com/google/uuid"
)

// Storage keeps uploads on local disk and hands out URL references under
// urlPrefix. The router serves rootPath at the same prefix.
type Storage struct {
	rootPath  string
	urlPrefix string
}

// Ensure Storage struct implements the interface at compile time.
var _ service.MediaStorage = (*Storage)(nil)

func New(rootPath, urlPrefix string) (*Storage, error) {
	p := filepath.Clean(rootPath)
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage directory %s: %w", p, err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Storage{rootPath: p, urlPrefix: urlPrefix}, nil
}

func (s *Storage) Root() string { return s.rootPath }

func (s *Storage) URLPrefix() string { return s.urlPrefix }

var preferredExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tiff",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// extensionFor picks a stable extension so served files get a sensible
// Content-Type. Unknown types are stored as .bin.
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Upload writes data under a fresh name, sharded by the first two
// characters, and returns the URL reference.
func (s *Storage) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + extensionFor(contentType)
	relativePath := filepath.Join(name[:2], name)
	fullPath := filepath.Join(s.rootPath, relativePath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create subdirectories: %w", err)
	}

	// write to a temp file first so a reader never sees a partial upload
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	logger.Log.Debug("stored upload", "component", "media", "path", relativePath, "size", len(data))
	return s.urlPrefix + filepath.ToSlash(relativePath), nil
}

// resolve maps a reference back to a path inside rootPath.
func (s *Storage) resolve(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, s.urlPrefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("reference %q is not served by this storage", ref)
	}
	clean := path.Clean("/" + rel)[1:]
	if clean == "" || clean != rel {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return filepath.Join(s.rootPath, filepath.FromSlash(clean)), nil
}

// Delete removes a single upload. An already missing file is not an error.
func (s *Storage) Delete(ctx context.Context, ref string) error {
	fullPath, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
