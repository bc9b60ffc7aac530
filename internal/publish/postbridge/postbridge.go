package postbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/publish"
)

var _ publish.Scheduler = (*Client)(nil)

const defaultTimeout = 30 * time.Second

// ErrNoAPIKey is returned when the client has no credentials.
var ErrNoAPIKey = errors.New("post bridge api key is not set")

// Client schedules posts through the Post Bridge API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	workspaceID string
}

func New(cfg config.PostBridgeSettings) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		workspaceID: cfg.WorkspaceID,
	}
}

type socialAccount struct {
	ID       json.Number `json:"id"`
	Platform string      `json:"platform"`
}

type createPostRequest struct {
	WorkspaceID       string   `json:"workspace_id,omitempty"`
	Caption           string   `json:"caption"`
	ScheduledAt       string   `json:"scheduled_at"`
	MediaURLs         []string `json:"media_urls"`
	SocialAccounts    []int64  `json:"social_accounts"`
	IsDraft           bool     `json:"is_draft"`
	ProcessingEnabled bool     `json:"processing_enabled"`
}

// Schedule posts req.MediaURL to every connected account of the channel's platform.
func (c *Client) Schedule(ctx context.Context, req publish.ScheduleRequest) (publish.ScheduleResult, error) {
	if c.apiKey == "" {
		return publish.ScheduleResult{}, ErrNoAPIKey
	}
	platform := "tiktok"
	if req.Channel == publish.InstagramReels {
		platform = "instagram"
	}
	accounts, err := c.accountsFor(ctx, platform)
	if err != nil {
		return publish.ScheduleResult{}, err
	}
	if len(accounts) == 0 {
		return publish.ScheduleResult{}, fmt.Errorf("no connected Post Bridge %s social accounts found", platform)
	}

	body := createPostRequest{
		WorkspaceID:       c.workspaceID,
		Caption:           req.Caption,
		ScheduledAt:       req.ScheduledFor.UTC().Format(time.RFC3339),
		MediaURLs:         []string{req.MediaURL},
		SocialAccounts:    accounts,
		ProcessingEnabled: true,
	}
	var raw map[string]any
	status, err := c.do(ctx, http.MethodPost, "/v1/posts", body, &raw)
	if err != nil {
		return publish.ScheduleResult{}, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return publish.ScheduleResult{Raw: raw}, fmt.Errorf("post bridge post create failed (%d)", status)
	}
	id := firstID(raw, "id", "postId", "externalPostId")
	if id == "" {
		return publish.ScheduleResult{Raw: raw}, errors.New("post bridge response missing post id")
	}
	st, _ := raw["status"].(string)
	if st == "" {
		st = common.PublishScheduled
	}
	return publish.ScheduleResult{ExternalPostID: id, Status: st, Raw: raw}, nil
}

// CheckStatus returns the current status of a scheduled post.
func (c *Client) CheckStatus(ctx context.Context, externalID string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	var raw map[string]any
	status, err := c.do(ctx, http.MethodGet, "/v1/posts/"+url.PathEscape(externalID), nil, &raw)
	if err != nil {
		return "", err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", fmt.Errorf("post bridge status fetch failed (%d)", status)
	}
	if st, ok := raw["status"].(string); ok && st != "" {
		return st, nil
	}
	return "unknown", nil
}

func (c *Client) accountsFor(ctx context.Context, platform string) ([]int64, error) {
	var resp struct {
		Data []socialAccount `json:"data"`
	}
	status, err := c.do(ctx, http.MethodGet, "/v1/social-accounts?limit=100", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("post bridge social account fetch failed (%d)", status)
	}
	var ids []int64
	for _, a := range resp.Data {
		if !strings.EqualFold(a.Platform, platform) {
			continue
		}
		id, err := a.ID.Int64()
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// do sends a JSON request and decodes the response body into out when possible.
func (c *Client) do(ctx context.Context, method, path string, in any, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	_ = dec.Decode(out)
	return resp.StatusCode, nil
}

func firstID(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
