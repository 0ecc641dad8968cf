package domain

import (
	"context"
	"encoding/base64"
)

// VisionModel is the contract between the extraction pipeline and a vision-capable language model.
type VisionModel interface {
	Complete(ctx context.Context, req VisionRequest) (VisionResponse, error)
	// Configured reports whether credentials are present. Checked before any admission or call.
	Configured() bool
}

// HealthChecker verifies vision provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Image is a photographed identity document.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURL encodes the image as a base64 data URL for inline submission.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// VisionRequest is one model call: an instruction plus a single image.
type VisionRequest struct {
	Prompt      string
	Image       Image
	MaxTokens   int
	Temperature float32
	// Pass labels the call for metrics (standard, refinement, handwriting, detection).
	Pass string
}

// VisionResponse carries the raw model text and token usage.
type VisionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
