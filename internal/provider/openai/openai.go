package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/provider"
	"github.com/jo-hoe/reelforge/internal/storage"
)

var _ provider.Video = (*Client)(nil)

const (
	headerAuthorization = "Authorization"
	authSchemeBearer    = "Bearer"

	endpointVideos = "videos"

	defaultTimeout = 60 * time.Second
	defaultSeconds = 10
)

// Client implements provider.Video against the OpenAI videos API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	size       string
	blobs      storage.Blob
}

// New creates a client. Downloaded video content is written to blobs.
func New(cfg config.OpenAIVideoSettings, blobs storage.Blob) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if blobs == nil {
		blobs = storage.Inline{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		size:       cfg.Size,
		blobs:      blobs,
	}
}

func (c *Client) Name() provider.Tag { return provider.OpenAI }

func (c *Client) Configured() bool { return strings.TrimSpace(c.apiKey) != "" }

// CreateTask submits a multipart create request. seconds is snapped to 4, 8 or 12.
func (c *Client) CreateTask(ctx context.Context, prompt string, seconds int) (provider.Task, error) {
	if !c.Configured() {
		return provider.Task{}, fmt.Errorf("openai api key is not set")
	}
	if seconds <= 0 {
		seconds = defaultSeconds
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"model", c.model},
		{"prompt", prompt},
		{"seconds", strconv.Itoa(NormalizeSeconds(seconds))},
		{"size", c.size},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return provider.Task{}, fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return provider.Task{}, fmt.Errorf("close form: %w", err)
	}

	u, err := url.JoinPath(c.baseURL, endpointVideos)
	if err != nil {
		return provider.Task{}, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return provider.Task{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, w.FormDataContentType())
	req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)

	status, data, err := c.doJSON(req)
	if err != nil {
		return provider.Task{}, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return provider.Task{
			Status: provider.StatusFailed,
			Error:  formatAPIError(data, fmt.Sprintf("OpenAI request failed (%d)", status)),
		}, nil
	}

	id := firstString(data, "id", "task_id")
	if id == "" {
		return provider.Task{Status: provider.StatusFailed, Error: "OpenAI response did not include a task id"}, nil
	}
	return provider.Task{
		ID:        id,
		Status:    MapStatus(data["status"]),
		OutputURL: extractOutputURL(data),
	}, nil
}

// PollTask fetches the task. A completed task without a URL falls back to the
// content endpoint; if that also fails the task is reported completed without a
// URL and will be polled again.
func (c *Client) PollTask(ctx context.Context, rawID string) (provider.Task, error) {
	if !c.Configured() {
		return provider.Task{}, fmt.Errorf("openai api key is not set")
	}
	u, err := url.JoinPath(c.baseURL, endpointVideos, rawID)
	if err != nil {
		return provider.Task{}, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return provider.Task{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)

	status, data, err := c.doJSON(req)
	if err != nil {
		return provider.Task{}, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return provider.Task{
			ID:     rawID,
			Status: provider.StatusFailed,
			Error:  formatAPIError(data, fmt.Sprintf("OpenAI task fetch failed (%d)", status)),
		}, nil
	}

	task := provider.Task{ID: rawID, Status: MapStatus(data["status"]), OutputURL: extractOutputURL(data)}
	if task.Status == provider.StatusCompleted && task.OutputURL == "" {
		task.OutputURL = c.downloadContent(ctx, rawID)
	}
	return task, nil
}

func (c *Client) downloadContent(ctx context.Context, rawID string) string {
	u, err := url.JoinPath(c.baseURL, endpointVideos, rawID, "content")
	if err != nil {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ""
	}
	req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ""
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return ""
	}
	contentType := resp.Header.Get(common.HeaderContentType)
	if contentType == "" {
		contentType = common.ContentTypeMP4
	}
	stored, err := c.blobs.Put(ctx, "videos/openai/"+rawID+".mp4", contentType, data)
	if err != nil {
		return ""
	}
	return stored
}

func (c *Client) doJSON(req *http.Request) (int, map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return 0, nil, req.Context().Err()
		}
		return 0, nil, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				return 0, nil, fmt.Errorf("parse response: %w", err)
			}
			data = map[string]any{"error": provider.Truncate(string(raw), common.ErrorSnippetLimit)}
		}
	}
	return resp.StatusCode, data, nil
}

// NormalizeSeconds snaps a requested duration to the lengths the API accepts.
func NormalizeSeconds(v int) int {
	switch {
	case v == 4 || v == 8 || v == 12:
		return v
	case v <= 0:
		return 8
	case v <= 6:
		return 4
	case v <= 10:
		return 8
	default:
		return 12
	}
}

// MapStatus normalizes the API's status vocabulary.
func MapStatus(v any) provider.Status {
	s, _ := v.(string)
	switch s {
	case "completed", "succeeded":
		return provider.StatusCompleted
	case "processing", "running", "in_progress":
		return provider.StatusProcessing
	case "failed", "error", "cancelled":
		return provider.StatusFailed
	default:
		return provider.StatusQueued
	}
}

func extractOutputURL(data map[string]any) string {
	if u := firstString(data, "output_url", "url", "content_url"); u != "" {
		return u
	}
	if result, ok := data["result"].(map[string]any); ok {
		return firstString(result, "url")
	}
	return ""
}

func formatAPIError(data map[string]any, fallback string) string {
	switch e := data["error"].(type) {
	case nil:
		return fallback
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			if code, ok := e["code"].(string); ok && code != "" {
				return fmt.Sprintf("%s (%s)", msg, code)
			}
			return msg
		}
		b, _ := json.Marshal(e)
		return string(b)
	default:
		return fallback
	}
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
