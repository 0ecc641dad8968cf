package lifecycle

import (
	"context"

	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
	"github.com/kailas-cloud/guestid/internal/usecase/extract"
)

// DocumentStore persists uploaded guest documents and their extraction state.
type DocumentStore interface {
	Get(ctx context.Context, id string) (domlc.Document, error)
	Save(ctx context.Context, doc domlc.Document) error
}

// Extractor runs the extraction pipeline.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) extraction.Result
}
