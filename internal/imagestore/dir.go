// Package imagestore saves uploaded cover images to a local directory.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/shelver/internal/core"
)

// Dir writes images under Root/<batchID>/<name>.
type Dir struct {
	Root string
}

var _ core.ImageStore = (*Dir)(nil)

// New returns a Dir rooted at root. The directory is created on first save.
func New(root string) *Dir {
	return &Dir{Root: root}
}

// Save writes img and returns its path relative to Root, which is what gets
// stored as the record's image reference.
func (d *Dir) Save(ctx context.Context, batchID string, img core.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := core.ValidateImageName(img.Name); err != nil {
		return "", err
	}

	name := filepath.Base(img.Name)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, "..") {
		return "", fmt.Errorf("invalid image name %q", img.Name)
	}
	batch := filepath.Base(batchID)
	if batch == "" || batch == "." || batch != batchID {
		return "", errors.New("invalid batch id for image path")
	}

	dir := filepath.Join(d.Root, batch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return filepath.ToSlash(filepath.Join(batch, name)), nil
}

// Open reads a stored image back by the reference Save returned.
func (d *Dir) Open(ref string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid image reference %q", ref)
	}
	return os.ReadFile(filepath.Join(d.Root, clean))
}
