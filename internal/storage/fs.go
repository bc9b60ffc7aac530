package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FS writes artifacts below a local directory and serves them over HTTP.
type FS struct {
	dir           string
	publicBaseURL string
}

// NewFS creates the directory if needed. publicBaseURL is prefixed to keys to form
// returned URLs; when empty a file:// URL is returned. Putting an existing key replaces it.
func NewFS(dir, publicBaseURL string) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}
	return &FS{dir: dir, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (f *FS) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	dst := filepath.Join(f.dir, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("ensure object dir: %w", err)
	}
	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}

	slashed := filepath.ToSlash(clean)
	if f.publicBaseURL == "" {
		abs, err := filepath.Abs(dst)
		if err != nil {
			return "", fmt.Errorf("resolve object path: %w", err)
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	return f.publicBaseURL + "/" + slashed, nil
}

// Handler serves stored objects; mount it with http.StripPrefix.
func (f *FS) Handler() http.Handler {
	return http.FileServer(http.Dir(f.dir))
}
