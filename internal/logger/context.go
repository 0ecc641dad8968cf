package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns fallback (or zap.NewNop() when fallback is nil) if no logger is found.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

// WithDocument returns a context whose logger carries document and organization IDs.
func WithDocument(ctx context.Context, fallback *zap.Logger, documentID, orgID string) context.Context {
	l := FromContext(ctx, fallback).With(
		zap.String("document_id", documentID),
		zap.String("organization_id", orgID),
	)
	return ContextWithLogger(ctx, l)
}
