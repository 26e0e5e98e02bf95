package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lessonforge/internal/config"
	"lessonforge/internal/util"
)

// DefaultHTTPTimeout bounds requests for models that do not configure
// http_timeout_seconds
const DefaultHTTPTimeout = 120 * time.Second

// Client handles HTTP requests to OpenAI-compatible API endpoints.
// It performs exactly one request per Generate call; retry and pacing
// policy belong to the scheduler that sits in front of it.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Result is the outcome of one successful generation call
type Result struct {
	// Text is the raw completion content
	Text string
	// JSON is the extracted, sanitized JSON payload when a validator
	// was supplied; nil otherwise
	JSON  []byte
	Model string
	Usage Usage
}

// NewClient creates a new API client. Request deadlines are set per
// call from the model config, not on the underlying http.Client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Generate sends one chat completion request. When v is non-nil the
// completion must contain JSON of the expected shape; the extracted
// payload is returned in Result.JSON. When v is nil the raw text is
// returned as-is.
func (c *Client) Generate(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []Message,
	v Validator,
) (*Result, error) {
	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    messages,
		Temperature: modelCfg.Temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   modelCfg.MaxOutputTokens,
		N:           1,
	}
	if v != nil && modelCfg.UseJSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := c.doRequest(ctx, modelCfg, apiKey, req)
	if err != nil {
		return nil, err
	}

	content := resp.Choices[0].Message.Content
	result := &Result{
		Text:  content,
		Model: resp.Model,
		Usage: resp.Usage,
	}

	if v != nil {
		jsonStr := SanitizeJSON(ExtractJSON(content))
		if err := v.Validate([]byte(jsonStr)); err != nil {
			return nil, fmt.Errorf("model %s returned malformed output %q: %w",
				modelCfg.ModelName, util.TruncateString(jsonStr, 120), err)
		}
		result.JSON = []byte(jsonStr)
	}

	return result, nil
}

func (c *Client) doRequest(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := modelCfg.BaseURL
	if endpoint[len(endpoint)-1] != '/' {
		endpoint += "/"
	}
	endpoint += "chat/completions"

	timeout := DefaultHTTPTimeout
	if modelCfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			Message:    fmt.Sprintf("API request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			RetryAfter: parseRetryAfterHeader(httpResp.Header.Get("Retry-After")),
		}

		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
			apiErr.Type = errResp.Error.Type
			apiErr.Code = errResp.Error.Code
			if apiErr.RetryAfter == 0 && errResp.Error.RetryAfterSeconds > 0 {
				apiErr.RetryAfter = time.Duration(errResp.Error.RetryAfterSeconds * float64(time.Second))
			}
		}
		return nil, apiErr
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned in response")
	}

	return &resp, nil
}

// parseRetryAfterHeader parses a Retry-After header carrying a delay in
// seconds. HTTP-date form is ignored; providers in practice send seconds.
func parseRetryAfterHeader(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
