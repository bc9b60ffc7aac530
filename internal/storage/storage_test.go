package storage

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/reelforge/internal/config"
)

func TestInline_Put(t *testing.T) {
	u, err := Inline{}.Put(context.Background(), "ignored", "application/json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	prefix := "data:application/json;base64,"
	if !strings.HasPrefix(u, prefix) {
		t.Fatalf("unexpected url %q", u)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("decode: %q %v", raw, err)
	}
	if got := DataURL("", []byte("x")); !strings.HasPrefix(got, "data:application/octet-stream;base64,") {
		t.Fatalf("empty content type should fall back: %q", got)
	}
}

func TestKey(t *testing.T) {
	k1 := Key("job 1", "item/2", "editpack.json")
	k2 := Key("job 1", "item/2", "editpack.json")
	if k1 == k2 {
		t.Fatalf("keys should be unique: %q", k1)
	}
	if !strings.HasPrefix(k1, "jobs/job_1/item_2/editpack-") || !strings.HasSuffix(k1, ".json") {
		t.Fatalf("unexpected key %q", k1)
	}
}

func TestFS_PutAndServe(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(dir, "")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/files/", http.StripPrefix("/files/", fs.Handler()))
	srv := httptest.NewServer(mux)
	defer srv.Close()
	fs.publicBaseURL = srv.URL + "/files"

	u, err := fs.Put(context.Background(), "jobs/j/i/voice.mp3", "audio/mpeg", []byte("ID3mp3"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if u != srv.URL+"/files/jobs/j/i/voice.mp3" {
		t.Fatalf("url = %q", u)
	}
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ID3mp3" {
		t.Fatalf("served %d %q", resp.StatusCode, body)
	}

	// Re-putting a key replaces the object.
	if _, err := fs.Put(context.Background(), "jobs/j/i/voice.mp3", "audio/mpeg", []byte("v2")); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "jobs", "j", "i", "voice.mp3"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("overwrite: %q %v", got, err)
	}
	if _, err := fs.Put(context.Background(), "../escape.txt", "", []byte("x")); err == nil {
		t.Fatalf("expected error for key escaping the dir")
	}
}

func TestFS_FileURLWithoutBase(t *testing.T) {
	fs, err := NewFS(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	u, err := fs.Put(context.Background(), "a/b.json", "application/json", []byte("{}"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(u, "file://") || !strings.HasSuffix(u, "/a/b.json") {
		t.Fatalf("url = %q", u)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	b, err := New(context.Background(), config.StorageConfig{Backend: "inline"})
	if err != nil {
		t.Fatalf("New inline: %v", err)
	}
	if _, ok := b.(Inline); !ok {
		t.Fatalf("expected Inline, got %T", b)
	}
	b, err = New(context.Background(), config.StorageConfig{Backend: "fs", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New fs: %v", err)
	}
	if _, ok := b.(*FS); !ok {
		t.Fatalf("expected *FS, got %T", b)
	}
	if _, err := New(context.Background(), config.StorageConfig{Backend: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestS3BaseURL(t *testing.T) {
	if got := s3BaseURL(config.S3Settings{Endpoint: "minio:9000", Bucket: "reels"}); got != "http://minio:9000/reels" {
		t.Fatalf("base = %q", got)
	}
	if got := s3BaseURL(config.S3Settings{Endpoint: "s3.example", Bucket: "b", UseSSL: true}); got != "https://s3.example/b" {
		t.Fatalf("base = %q", got)
	}
	if got := s3BaseURL(config.S3Settings{Endpoint: "x", Bucket: "b", PublicBaseURL: "https://cdn.example/"}); got != "https://cdn.example" {
		t.Fatalf("base = %q", got)
	}
}

func TestS3Integration_Put(t *testing.T) {
	endpoint := os.Getenv("REELFORGE_S3_ENDPOINT_INTEGRATION")
	if endpoint == "" {
		t.Skip("set REELFORGE_S3_ENDPOINT_INTEGRATION to run S3 integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := NewS3(ctx, config.S3Settings{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("REELFORGE_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("REELFORGE_S3_SECRET_KEY"),
		Bucket:    "reelforge-itest",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	u, err := s.Put(ctx, Key("job", "item", "editpack.json"), "application/json", []byte("{}"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(u, "/reelforge-itest/jobs/job/item/editpack-") {
		t.Fatalf("url = %q", u)
	}
}
