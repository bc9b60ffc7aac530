package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/storage"
)

const (
	headerAPIKey   = "xi-api-key"
	defaultTimeout = 60 * time.Second
	errBodyLimit   = 200
)

// ErrNoAPIKey is returned when the client has no credentials.
var ErrNoAPIKey = errors.New("elevenlabs api key is not set")

// Client calls the ElevenLabs text-to-speech endpoint.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	outputFormat string
	blobs        storage.Blob
}

func New(cfg config.ElevenLabsSettings, blobs storage.Blob) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if blobs == nil {
		blobs = storage.Inline{}
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		outputFormat: cfg.OutputFormat,
		blobs:        blobs,
	}
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize renders text with voiceID and stores the mp3 under key.
func (c *Client) Synthesize(ctx context.Context, voiceID, text, key string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", ErrNoAPIKey
	}
	if strings.TrimSpace(voiceID) == "" {
		return "", errors.New("voice id is required")
	}
	b, err := json.Marshal(speechRequest{Text: text, ModelID: c.model})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	u, err := url.JoinPath(c.baseURL, "v1", "text-to-speech", voiceID)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}
	if c.outputFormat != "" {
		u += "?output_format=" + url.QueryEscape(c.outputFormat)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	req.Header.Set("Accept", common.ContentTypeMPEG)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := string(data)
		if len(snippet) > errBodyLimit {
			snippet = snippet[:errBodyLimit]
		}
		return "", fmt.Errorf("ElevenLabs request failed (%d): %s", resp.StatusCode, snippet)
	}
	if len(data) == 0 {
		return "", errors.New("ElevenLabs returned empty audio")
	}
	stored, err := c.blobs.Put(ctx, key, common.ContentTypeMPEG, data)
	if err != nil {
		return "", fmt.Errorf("store voiceover: %w", err)
	}
	return stored, nil
}
