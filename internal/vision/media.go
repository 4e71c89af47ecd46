package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MediaStore persists annotated images on disk and hands out public URLs.
type MediaStore struct {
	dir     string
	baseURL string
}

// NewMediaStore creates a media store rooted at dir. The directory is
// created on first save.
func NewMediaStore(dir, baseURL string) *MediaStore {
	return &MediaStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Dir returns the directory annotated images are written to.
func (m *MediaStore) Dir() string {
	return m.dir
}

// SaveAnnotated writes an annotated JPEG under a unique name and returns its
// public URL.
func (m *MediaStore) SaveAnnotated(data []byte) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	filename := fmt.Sprintf("detected_%s.jpeg", uuid.New().String())
	path := filepath.Join(m.dir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write annotated image: %w", err)
	}

	return m.baseURL + "/" + filename, nil
}
