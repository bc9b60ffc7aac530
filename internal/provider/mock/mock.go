package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/provider"
)

var _ provider.Video = (*Client)(nil)

const defaultBaseURL = "https://mock.reelforge.invalid/videos"

// Client is an in-process provider.Video that completes a task after a fixed
// number of polls.
type Client struct {
	delay          time.Duration
	pollsToFinish  int
	completeOnCall bool
	baseURL        string

	mu    sync.Mutex
	polls map[string]int
}

func New(cfg config.MockVideoSettings) *Client {
	polls := cfg.PollsToFinish
	if polls <= 0 {
		polls = 1
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		delay:          cfg.Delay,
		pollsToFinish:  polls,
		completeOnCall: cfg.CompleteOnCreate,
		baseURL:        base,
		polls:          map[string]int{},
	}
}

func (c *Client) Name() provider.Tag { return provider.Mock }

func (c *Client) Configured() bool { return true }

func (c *Client) CreateTask(ctx context.Context, _ string, _ int) (provider.Task, error) {
	if err := c.wait(ctx); err != nil {
		return provider.Task{}, err
	}
	id := "mock_" + uuid.NewString()
	if c.completeOnCall {
		return provider.Task{ID: id, Status: provider.StatusCompleted, OutputURL: c.url(id)}, nil
	}
	c.mu.Lock()
	c.polls[id] = 0
	c.mu.Unlock()
	return provider.Task{ID: id, Status: provider.StatusQueued}, nil
}

// PollTask reports processing until the task has been polled pollsToFinish times.
// Unknown ids complete immediately so restarts do not strand items.
func (c *Client) PollTask(ctx context.Context, rawID string) (provider.Task, error) {
	if err := c.wait(ctx); err != nil {
		return provider.Task{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, known := c.polls[rawID]
	if !known {
		return provider.Task{ID: rawID, Status: provider.StatusCompleted, OutputURL: c.url(rawID)}, nil
	}
	n++
	c.polls[rawID] = n
	if n < c.pollsToFinish {
		return provider.Task{ID: rawID, Status: provider.StatusProcessing}, nil
	}
	return provider.Task{ID: rawID, Status: provider.StatusCompleted, OutputURL: c.url(rawID)}, nil
}

func (c *Client) url(id string) string {
	return c.baseURL + "/" + id + ".mp4"
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
