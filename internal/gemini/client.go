// Package gemini is a small REST client for Gemini image editing: one source
// image plus an instruction in, edited images out.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultAPIVersion = "v1beta"
	defaultModel      = "gemini-2.5-flash-image"
)

const systemInstruction = `You are an image-to-image editor.
Transform the provided source image according to the user's instructions.
Keep the composition of the source unless told otherwise and always answer with an image.`

const imageOnlyHint = "\n\nReturn only the edited image as inline data. Do not answer with text."

// ErrBlocked is returned when the API refuses the prompt outright.
var ErrBlocked = errors.New("gemini: prompt blocked")

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Body)
}

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	c := &Client{
		apiKey:     opts.APIKey,
		model:      orDefault(opts.Model, defaultModel),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base := strings.TrimRight(orDefault(opts.BaseURL, defaultBaseURL), "/")
	c.endpoint = fmt.Sprintf("%s/%s/models/%s:generateContent", base, orDefault(opts.APIVersion, defaultAPIVersion), c.model)
	return c
}

// EditImage sends one source image with an instruction and returns the images
// the model produced, as data URLs.
//
// Older API versions reject imageConfig; the call is repeated without it. A
// reply with text but no image is retried once with a stricter instruction.
func (c *Client) EditImage(ctx context.Context, prompt string, source ImageInput, opts EditOptions) (Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Response{}, errors.New("prompt is empty")
	}
	if source.DataBase64 == "" {
		return Response{}, errors.New("source image is empty")
	}

	req := generateContentRequest{
		Contents:          editContents(prompt, source),
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: systemInstruction}}},
		GenerationConfig: generationConfig{
			Temperature:        opts.Temperature,
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}
	if opts.AspectRatio != "" {
		req.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: opts.AspectRatio}
	}

	resp, err := c.post(ctx, req)
	if req.GenerationConfig.ImageConfig != nil && rejectsField(err, "imageConfig") {
		c.logger.Debug("gemini rejected imageConfig, retrying without it", "model", c.model)
		req.GenerationConfig.ImageConfig = nil
		resp, err = c.post(ctx, req)
	}
	if err != nil {
		return Response{}, err
	}
	if len(resp.Images) > 0 {
		return resp, nil
	}

	c.logger.Debug("gemini answered without an image, retrying", "model", c.model, "text_len", len(resp.Text))
	req.Contents = editContents(prompt+imageOnlyHint, source)
	if retry, err := c.post(ctx, req); err == nil && len(retry.Images) > 0 {
		return retry, nil
	}
	return resp, nil
}

func editContents(prompt string, source ImageInput) []content {
	return []content{{
		Role: "user",
		Parts: []part{
			{Text: prompt},
			{InlineData: &blob{Data: stripDataURLPrefix(source.DataBase64), MimeType: orDefault(source.MimeType, "image/png")}},
		},
	}}
}

func (c *Client) post(ctx context.Context, payload generateContentRequest) (Response, error) {
	if c.httpClient == nil {
		return Response{}, errors.New("http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, &APIError{StatusCode: httpResp.StatusCode, Status: httpResp.Status, Body: strings.TrimSpace(string(raw))}
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if reason := decoded.PromptFeedback.BlockReason; reason != "" {
		return Response{}, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	out := decoded.response()
	c.logger.Debug("gemini response", "model", c.model, "images", len(out.Images), "text_len", len(out.Text))
	return out, nil
}

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// response flattens the first candidate. Inline images come back as data URLs.
func (r generateContentResponse) response() Response {
	var out Response
	if len(r.Candidates) == 0 {
		return out
	}
	var text strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
		if b := p.InlineData; b != nil && b.Data != "" && b.MimeType != "" {
			out.Images = append(out.Images, "data:"+b.MimeType+";base64,"+b.Data)
		}
	}
	out.Text = text.String()
	return out
}

var dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.+)$`)

// SplitDataURL returns the MIME type and base64 payload of a data URL.
func SplitDataURL(dataURL string) (mimeType, data string, ok bool) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(dataURL))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func stripDataURLPrefix(value string) string {
	if _, data, ok := SplitDataURL(value); ok {
		return data
	}
	return value
}

func rejectsField(err error, field string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.Contains(apiErr.Body, "Unknown name") && strings.Contains(apiErr.Body, field)
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
