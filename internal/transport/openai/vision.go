package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/metrics"
)

// Compile-time checks.
var (
	_ domain.VisionModel   = (*VisionModel)(nil)
	_ domain.HealthChecker = (*VisionModel)(nil)
)

// VisionModel is a vision provider using the OpenAI-compatible chat completions API.
type VisionModel struct {
	client   *openai.Client
	apiKey   string
	model    string
	detail   openai.ImageURLDetail
	provider string
	logger   *zap.Logger
}

// Config holds the vision provider settings.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Detail   string // low, high or auto
	Provider string
	Logger   *zap.Logger
}

// NewVisionModel creates an OpenAI-compatible vision provider.
// An empty APIKey yields a model that reports Configured() == false.
func NewVisionModel(cfg *Config) *VisionModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	detail := openai.ImageURLDetail(cfg.Detail)
	if detail == "" {
		detail = openai.ImageURLDetailHigh
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VisionModel{
		client:   openai.NewClientWithConfig(clientCfg),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		detail:   detail,
		provider: cfg.Provider,
		logger:   logger,
	}
}

// Configured reports whether an API key is set.
func (v *VisionModel) Configured() bool { return v.apiKey != "" }

// Complete sends one prompt plus one image and returns the first choice's text.
func (v *VisionModel) Complete(ctx context.Context, req domain.VisionRequest) (domain.VisionResponse, error) {
	if !v.Configured() {
		return domain.VisionResponse{}, domain.ErrModelNotConfigured
	}

	chatReq := openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    req.Image.DataURL(),
						Detail: v.detail,
					},
				},
			},
		}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	pass := req.Pass
	if pass == "" {
		pass = "unknown"
	}

	start := time.Now()

	resp, err := v.client.CreateChatCompletion(ctx, chatReq)

	duration := time.Since(start)

	if err != nil {
		mapped := parseAPIError(err)
		metrics.ModelRequestsTotal.WithLabelValues(v.provider, v.model, pass, "error").Inc()
		metrics.ModelErrorsTotal.WithLabelValues(v.provider, v.model, errorType(mapped)).Inc()
		v.logger.Debug("vision call failed",
			zap.String("pass", pass), zap.Duration("duration", duration), zap.Error(mapped))
		return domain.VisionResponse{}, mapped
	}

	if len(resp.Choices) == 0 {
		metrics.ModelRequestsTotal.WithLabelValues(v.provider, v.model, pass, "error").Inc()
		metrics.ModelErrorsTotal.WithLabelValues(v.provider, v.model, "empty_response").Inc()
		return domain.VisionResponse{}, fmt.Errorf("empty completion response: %w", domain.ErrModelUnavailable)
	}

	metrics.ModelRequestsTotal.WithLabelValues(v.provider, v.model, pass, "success").Inc()
	metrics.ModelRequestDuration.WithLabelValues(v.provider, v.model, pass).Observe(duration.Seconds())

	usage := resp.Usage
	if usage.TotalTokens > 0 {
		metrics.ModelTokensTotal.WithLabelValues(v.provider, v.model, "prompt").Add(float64(usage.PromptTokens))
		metrics.ModelTokensTotal.WithLabelValues(v.provider, v.model, "completion").Add(float64(usage.CompletionTokens))
		metrics.ModelTokensTotal.WithLabelValues(v.provider, v.model, "total").Add(float64(usage.TotalTokens))
	}

	return domain.VisionResponse{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (v *VisionModel) HealthCheck(ctx context.Context) error {
	if !v.Configured() {
		return domain.ErrModelNotConfigured
	}
	if _, err := v.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError turns a client error into a domain.ModelError keyed by HTTP status.
// Errors without a status (network, timeouts) are transient.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := extractDetail(reqErr.Body)
		if msg == "" {
			msg = string(reqErr.Body)
		}
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return domain.NewModelError(reqErr.HTTPStatusCode, msg)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewModelError(apiErr.HTTPStatusCode, apiErr.Message)
	}

	return fmt.Errorf("vision request failed: %v: %w", err, domain.ErrModelUnavailable)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrModelAuthentication):
		return "auth"
	case errors.Is(err, domain.ErrModelRateLimited):
		return "rate_limited"
	default:
		return "api_error"
	}
}
