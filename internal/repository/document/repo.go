// Package document stores guest documents as JSON values in the key-value store.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/guestid/internal/db"
	"github.com/kailas-cloud/guestid/internal/domain"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
)

// store is the consumer interface for documents (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Repo implements usecase/lifecycle.DocumentStore.
type Repo struct {
	store     store
	prefix    string
	retention time.Duration
}

// New creates a document repository. Keys are prefix + "document:" + id.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// WithRetention expires every saved document retention after its last write.
// Zero keeps documents until deleted.
func (r *Repo) WithRetention(retention time.Duration) *Repo {
	r.retention = retention
	return r
}

// Get returns a document by ID.
func (r *Repo) Get(ctx context.Context, id string) (domlc.Document, error) {
	key := r.key(id)
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domlc.Document{}, domain.ErrDocumentNotFound
		}
		return domlc.Document{}, fmt.Errorf("get %s: %w", key, err)
	}

	var j docJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return domlc.Document{}, fmt.Errorf("unmarshal document %s: %w", id, err)
	}
	return fromJSON(j), nil
}

// Save creates or overwrites a document.
func (r *Repo) Save(ctx context.Context, doc domlc.Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	data, err := json.Marshal(toJSON(doc))
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	key := r.key(doc.ID)
	if r.retention > 0 {
		err = r.store.SetWithTTL(ctx, key, data, r.retention)
	} else {
		err = r.store.Set(ctx, key, data)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a document.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.key(id)
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (r *Repo) key(id string) string {
	return r.prefix + "document:" + id
}
