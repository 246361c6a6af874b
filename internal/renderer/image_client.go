package renderer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/boardforge/api/internal/config"
)

// ImageClient is the AI image generation backend. Hard failures (network,
// timeout, non-2xx) surface as errors; an empty image in a 2xx response is
// the soft no-output case and returns nil, nil.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewImageClient creates a client for the image generation API.
func NewImageClient(cfg *config.ImageGenConfig) *ImageClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ImageClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// IsConfigured returns true when an API key is set.
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

type generateImageRequest struct {
	Prompt  string   `json:"prompt"`
	Model   string   `json:"model,omitempty"`
	Style   string   `json:"style,omitempty"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Palette []string `json:"palette,omitempty"`
}

type generateImageResponse struct {
	Image  string `json:"image"` // base64 for raster, raw markup for svg
	Format string `json:"format"`
}

// Render requests one image from the backend.
func (c *ImageClient) Render(ctx context.Context, req *Request) (*Result, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("image generation backend not configured")
	}

	genReq := &generateImageRequest{
		Prompt:  req.Prompt,
		Model:   c.model,
		Style:   string(req.Style),
		Width:   req.Size,
		Height:  req.Size,
		Palette: req.ThemeColors,
	}

	var genResp generateImageResponse
	if err := c.post(ctx, "/v1/images/generate", genReq, &genResp); err != nil {
		return nil, err
	}

	if genResp.Image == "" {
		// 2xx with no image: the backend declined this prompt.
		return nil, nil
	}

	if genResp.Format == "svg" {
		return &Result{Data: []byte(genResp.Image), Format: "svg"}, nil
	}

	data, err := base64.StdEncoding.DecodeString(genResp.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	format := genResp.Format
	if format == "" {
		format = "png"
	}
	return &Result{Data: data, Format: format}, nil
}

// post sends a POST request with JSON body
func (c *ImageClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[ImageGen API] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[ImageGen API] ✗ POST %s — request failed: %v", req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[ImageGen API] ← %d POST %s", resp.StatusCode, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("imagegen API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

var _ Renderer = (*ImageClient)(nil)
