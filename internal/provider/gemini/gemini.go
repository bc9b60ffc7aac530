package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/provider"
	"github.com/jo-hoe/reelforge/internal/storage"
)

var _ provider.Video = (*Client)(nil)

const (
	defaultTimeout = 2 * time.Minute
	queryKey       = "key"
)

// Client implements provider.Video against the Gemini long-running predict API (Veo).
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	aspectRatio string
	blobs       storage.Blob
}

func New(cfg config.GeminiVideoSettings, blobs storage.Blob) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if blobs == nil {
		blobs = storage.Inline{}
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		aspectRatio: cfg.AspectRatio,
		blobs:       blobs,
	}
}

func (c *Client) Name() provider.Tag { return provider.Gemini }

func (c *Client) Configured() bool { return strings.TrimSpace(c.apiKey) != "" }

// CreateTask starts a long-running operation. The API picks the clip length, so
// seconds is not sent.
func (c *Client) CreateTask(ctx context.Context, prompt string, _ int) (provider.Task, error) {
	if !c.Configured() {
		return provider.Task{}, fmt.Errorf("gemini api key is not set")
	}
	reqBody := predictRequest{
		Instances:  []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{AspectRatio: c.aspectRatio},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return provider.Task{}, fmt.Errorf("marshal request: %w", err)
	}
	u := c.withKey(c.baseURL + "/models/" + c.model + ":predictLongRunning")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return provider.Task{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)

	status, raw, err := c.do(req)
	if err != nil {
		return provider.Task{}, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return provider.Task{Status: provider.StatusFailed, Error: provider.Truncate(string(raw), common.ErrorSnippetLimit)}, nil
	}
	var op operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return provider.Task{}, fmt.Errorf("parse response: %w", err)
	}
	if op.Name == "" {
		return provider.Task{Status: provider.StatusFailed, Error: "Gemini operation name missing"}, nil
	}
	return provider.Task{ID: op.Name, Status: provider.StatusProcessing}, nil
}

// PollTask reads the operation. When it is done the first generated video is
// downloaded and stored through the blob store.
func (c *Client) PollTask(ctx context.Context, rawID string) (provider.Task, error) {
	if !c.Configured() {
		return provider.Task{}, fmt.Errorf("gemini api key is not set")
	}
	u := c.withKey(c.baseURL + "/" + strings.TrimLeft(rawID, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return provider.Task{}, fmt.Errorf("new request: %w", err)
	}
	status, raw, err := c.do(req)
	if err != nil {
		return provider.Task{}, err
	}
	failed := func(msg string) (provider.Task, error) {
		return provider.Task{ID: rawID, Status: provider.StatusFailed, Error: msg}, nil
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return failed(provider.Truncate(string(raw), common.ErrorSnippetLimit))
	}
	var op operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return provider.Task{}, fmt.Errorf("parse response: %w", err)
	}
	if op.Error != nil {
		if op.Error.Message != "" {
			return failed(op.Error.Message)
		}
		b, _ := json.Marshal(op.Error)
		return failed(string(b))
	}
	if !op.Done {
		return provider.Task{ID: rawID, Status: provider.StatusProcessing}, nil
	}
	uri := op.videoURI()
	if uri == "" {
		return failed("Gemini response did not include a video URI")
	}
	stored, err := c.download(ctx, uri, rawID)
	if err != nil {
		return failed(err.Error())
	}
	return provider.Task{ID: rawID, Status: provider.StatusCompleted, OutputURL: stored}, nil
}

func (c *Client) download(ctx context.Context, uri, rawID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.withKey(uri), nil)
	if err != nil {
		return "", fmt.Errorf("new download request: %w", err)
	}
	req.Header.Set("Accept", "video/*")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download video: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("could not download Gemini video (%d)", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read video: %w", err)
	}
	contentType := resp.Header.Get(common.HeaderContentType)
	if contentType == "" {
		contentType = common.ContentTypeMP4
	}
	key := path.Join("videos", "gemini", path.Base(rawID)+".mp4")
	return c.blobs.Put(ctx, key, contentType, data)
}

func (c *Client) withKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(queryKey, c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return 0, nil, req.Context().Err()
		}
		// The request URL carries the api key; keep it out of the message.
		return 0, nil, fmt.Errorf("http do: %s", redact(err.Error(), c.apiKey))
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response *struct {
		GeneratedVideos []struct {
			Video videoRef `json:"video"`
		} `json:"generatedVideos"`
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video videoRef `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

type videoRef struct {
	URI string `json:"uri"`
}

func (op operation) videoURI() string {
	if op.Response == nil {
		return ""
	}
	if len(op.Response.GeneratedVideos) > 0 && op.Response.GeneratedVideos[0].Video.URI != "" {
		return op.Response.GeneratedVideos[0].Video.URI
	}
	if g := op.Response.GenerateVideoResponse; g != nil && len(g.GeneratedSamples) > 0 {
		return g.GeneratedSamples[0].Video.URI
	}
	return ""
}
