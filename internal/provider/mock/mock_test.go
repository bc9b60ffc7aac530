package mock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/provider"
)

func TestMockVideo_CompletesAfterPolls(t *testing.T) {
	c := New(config.MockVideoSettings{PollsToFinish: 2})
	ctx := context.Background()

	task, err := c.CreateTask(ctx, "hook", 8)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != provider.StatusQueued || !strings.HasPrefix(task.ID, "mock_") {
		t.Fatalf("unexpected task: %+v", task)
	}
	first, err := c.PollTask(ctx, task.ID)
	if err != nil || first.Status != provider.StatusProcessing {
		t.Fatalf("first poll: %+v %v", first, err)
	}
	second, err := c.PollTask(ctx, task.ID)
	if err != nil || second.Status != provider.StatusCompleted {
		t.Fatalf("second poll: %+v %v", second, err)
	}
	if second.OutputURL != defaultBaseURL+"/"+task.ID+".mp4" {
		t.Fatalf("output url = %q", second.OutputURL)
	}
}

func TestMockVideo_CompleteOnCreate(t *testing.T) {
	c := New(config.MockVideoSettings{CompleteOnCreate: true, BaseURL: "https://cdn.test/"})
	task, err := c.CreateTask(context.Background(), "hook", 8)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != provider.StatusCompleted || !strings.HasPrefix(task.OutputURL, "https://cdn.test/mock_") {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestMockVideo_RespectsContextCancel(t *testing.T) {
	c := New(config.MockVideoSettings{Delay: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CreateTask(ctx, "x", 4); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
