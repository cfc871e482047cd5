// Package localfs implements media.StorageProvider on a local directory.
// Key "<account_id>/<subpath>" is stored at <root>/<account_id>/<subpath> and
// served to operators under /media/<account_id>/<subpath>.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/socialdesk/internal/media"
)

// URLPrefix is the HTTP path under which stored media is served.
const URLPrefix = "/media"

// Provider stores media files below a root directory.
type Provider struct {
	root string
}

// New creates a provider rooted at root, creating the directory if needed.
func New(root string) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Provider{root: abs}, nil
}

// Put writes reader to key, replacing any previous file atomically.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".put-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

// Move renames a spooled file into storage. Callers fall back to Put when
// the rename crosses filesystems.
func (p *Provider) Move(_ context.Context, key, srcPath string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(srcPath, dest); err != nil {
		return fmt.Errorf("move file: %w", err)
	}
	return nil
}

// Open reads a stored file.
func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, media.ErrAssetNotFound
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file. A missing file is not an error.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// AccessPath returns the operator-facing URL path for key.
func (p *Provider) AccessPath(key string) string {
	return URLPrefix + "/" + filepath.ToSlash(filepath.Clean(key))
}

func (p *Provider) hostPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("storage key is required")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", media.ErrPathTraversal, key)
	}
	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	idx := strings.IndexByte(clean, filepath.Separator)
	if idx <= 0 || strings.TrimSpace(clean[idx+1:]) == "" {
		return "", fmt.Errorf("storage key must contain account prefix: %s", key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}
