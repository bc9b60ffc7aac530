package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/jo-hoe/reelforge/internal/config"
)

// Blob stores generated artifacts and returns a URL a client can fetch them from.
type Blob interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// New returns the Blob configured by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Blob, error) {
	switch cfg.Backend {
	case "", "inline":
		return Inline{}, nil
	case "fs":
		return NewFS(cfg.Dir, cfg.PublicBaseURL)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Key builds an object key like jobs/{jobID}/{itemID}/{name}. A random suffix is
// added before the extension so repeated artifacts never overwrite each other.
func Key(jobID, itemID, name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return path.Join("jobs", sanitize(jobID), sanitize(itemID), fmt.Sprintf("%s-%s%s", sanitize(base), randomHex(4), ext))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
