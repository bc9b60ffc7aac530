package postbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/publish"
)

const accountsBody = `{"data":[{"id":11,"platform":"tiktok"},{"id":12,"platform":"Instagram"},{"id":13,"platform":"tiktok"}]}`

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(config.PostBridgeSettings{BaseURL: ts.URL, APIKey: "pb-key", WorkspaceID: "ws-1"})
}

func TestSchedule_CreatesPostForPlatformAccounts(t *testing.T) {
	var post createPostRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer pb-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/social-accounts":
			_, _ = w.Write([]byte(accountsBody))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/posts":
			_ = json.NewDecoder(r.Body).Decode(&post)
			_, _ = w.Write([]byte(`{"id":987,"status":"scheduled"}`))
		default:
			http.NotFound(w, r)
		}
	})

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := c.Schedule(context.Background(), publish.ScheduleRequest{
		Channel: publish.TikTok, MediaURL: "https://cdn/v.mp4", Caption: "Watch this", ScheduledFor: when,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if res.ExternalPostID != "987" || res.Status != "scheduled" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(post.SocialAccounts) != 2 || post.SocialAccounts[0] != 11 || post.SocialAccounts[1] != 13 {
		t.Fatalf("social accounts = %v", post.SocialAccounts)
	}
	if post.WorkspaceID != "ws-1" || post.ScheduledAt != "2026-03-01T12:00:00Z" || post.IsDraft || !post.ProcessingEnabled {
		t.Fatalf("unexpected post body: %+v", post)
	}
}

func TestSchedule_NoAccounts(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":1,"platform":"youtube"}]}`))
	})
	_, err := c.Schedule(context.Background(), publish.ScheduleRequest{Channel: publish.InstagramReels})
	if err == nil || !strings.Contains(err.Error(), "instagram") {
		t.Fatalf("expected missing instagram account error, got %v", err)
	}
}

func TestSchedule_CreateFailure(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/social-accounts" {
			_, _ = w.Write([]byte(accountsBody))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"bad media"}`))
	})
	res, err := c.Schedule(context.Background(), publish.ScheduleRequest{Channel: publish.TikTok})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
	if res.Raw["message"] != "bad media" {
		t.Fatalf("raw = %v", res.Raw)
	}
}

func TestCheckStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/posts/987" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":987,"status":"posted"}`))
	})
	st, err := c.CheckStatus(context.Background(), "987")
	if err != nil || st != "posted" {
		t.Fatalf("CheckStatus = %q, %v", st, err)
	}
	if _, err := c.CheckStatus(context.Background(), "404"); err == nil {
		t.Fatalf("expected error for missing post")
	}
}

func TestNoAPIKey(t *testing.T) {
	c := New(config.PostBridgeSettings{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Schedule(context.Background(), publish.ScheduleRequest{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}
