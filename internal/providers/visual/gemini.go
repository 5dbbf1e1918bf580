package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiClient generates image and video assets through the Gemini
// generateContent API. Without an API key it falls back to deterministic
// synthetic assets so the full generation pipeline stays operational in local
// and CI environments.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiTool struct {
	ImageGeneration *struct{} `json:"image_generation,omitempty"`
	VideoGeneration *struct{} `json:"video_generation,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents []geminiContent `json:"contents"`
	Tools    []geminiTool    `json:"tools,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewGeminiClient constructs a Gemini client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one will be created.
func NewGeminiClient(opts Options) *GeminiClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = imageModel
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &GeminiClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: client,
		logger:     logger,
	}
}

// Configured reports whether the client holds an API key for remote calls.
func (c *GeminiClient) Configured() bool {
	return c.apiKey != ""
}

// GenerateAsset produces one image or video for the request. Errors are
// classified onto the domain taxonomy so the caller can decide whether to
// retry.
func (c *GeminiClient) GenerateAsset(ctx context.Context, req Request) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	if c.apiKey == "" {
		return c.synthetic(req), nil
	}

	asset, err := c.remoteGenerate(ctx, req)
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

func (c *GeminiClient) synthetic(req Request) Asset {
	asset := renderSyntheticAsset(req)
	c.logger.Debug().
		Str("campaign_id", req.CampaignID).
		Str("seed", req.Seed).
		Str("content_type", string(req.ContentType)).
		Msg("visual: generated synthetic asset")
	return asset
}

func (c *GeminiClient) remoteGenerate(ctx context.Context, req Request) (Asset, error) {
	model := c.imageModel
	tool := geminiTool{ImageGeneration: &struct{}{}}
	if req.ContentType == domain.ContentTypeVideo {
		model = c.videoModel
		tool = geminiTool{VideoGeneration: &struct{}{}}
	}
	if req.Model != "" {
		model = req.Model
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildPrompt(req)}},
		}},
		Tools: []geminiTool{tool},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return Asset{}, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			mimeType := part.InlineData.MimeType
			if mimeType == "" {
				mimeType = defaultMIME(req.ContentType)
			}
			c.logger.Debug().
				Str("campaign_id", req.CampaignID).
				Str("model", model).
				Str("mime", mimeType).
				Msg("visual: generated remote asset")
			return Asset{Data: data, MIMEType: mimeType}, nil
		}
	}

	return Asset{}, fmt.Errorf("%w: no inline asset in response", domain.ErrProviderUnavailable)
}

func (c *GeminiClient) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", domain.ErrProviderTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}

// classifyStatus translates an HTTP error response onto the domain taxonomy:
// 429 is rate limiting, other 4xx mean the prompt or request was rejected,
// and 5xx are transient.
func classifyStatus(resp *http.Response) error {
	message := fmt.Sprintf("gemini status %d", resp.StatusCode)
	var apiErr geminiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", message, apiErr.Error.Message)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrProviderRateLimited, message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, message)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderRejected, message)
	}
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func buildPrompt(req Request) string {
	var b strings.Builder
	prompt := strings.TrimSpace(req.Prompt)
	if prompt != "" {
		b.WriteString(prompt)
	}
	if b.Len() == 0 {
		if req.ContentType == domain.ContentTypeVideo {
			b.WriteString("Create a short promotional video")
		} else {
			b.WriteString("Create a marketing image")
		}
	}
	if req.VariantIndex > 0 {
		fmt.Fprintf(&b, "\nVariation: %d", req.VariantIndex+1)
	}
	return b.String()
}

func defaultMIME(contentType domain.ContentType) string {
	if contentType == domain.ContentTypeVideo {
		return "video/mp4"
	}
	return "image/png"
}
