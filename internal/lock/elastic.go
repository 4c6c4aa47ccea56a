package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leonunix/portalindex/internal/backend"
)

// DefaultElasticIndex holds one document per held lock.
const DefaultElasticIndex = ".portalindex-locks"

// Documents is the subset of backend.Client the Elastic lock needs.
type Documents interface {
	Get(ctx context.Context, index, id string) (*backend.GetResult, error)
	PutDocument(ctx context.Context, index, id string, body []byte, opts backend.PutOptions) error
	DeleteDocument(ctx context.Context, index, id string, opts backend.DeleteOptions) error
	CreateIndex(ctx context.Context, index string, body []byte) error
}

// Elastic implements distributed locking with documents in the search
// engine itself, so no extra infrastructure is required. Acquisition uses
// op_type=create; expired and released locks are deleted under optimistic
// concurrency control (_seq_no + _primary_term).
type Elastic struct {
	docs  Documents
	index string
	owner string
	now   func() time.Time
}

// NewElastic creates an Elastic lock. An empty index selects
// DefaultElasticIndex.
func NewElastic(docs Documents, index string) *Elastic {
	if index == "" {
		index = DefaultElasticIndex
	}
	return &Elastic{docs: docs, index: index, owner: newOwnerID(), now: time.Now}
}

// OwnerID returns the identifier written into lock documents.
func (l *Elastic) OwnerID() string { return l.owner }

type lockDoc struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Acquire tries to take the lock for key. It returns false when another
// owner holds an unexpired lock.
func (l *Elastic) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := l.cleanupExpired(ctx, key); err != nil {
		slog.Debug("lock cleanup failed (non-fatal)", "key", key, "error", err)
	}

	acquired, err := l.tryCreate(ctx, key, ttl)
	if err != nil && errors.Is(err, backend.ErrNotFound) {
		// Lock index missing and auto_create_index disabled.
		if createErr := l.ensureIndex(ctx); createErr != nil {
			return false, fmt.Errorf("creating lock index: %w", createErr)
		}
		return l.tryCreate(ctx, key, ttl)
	}
	return acquired, err
}

// Release deletes the lock for key if this instance still owns it. A lock
// that expired and was taken over by another owner is left alone.
func (l *Elastic) Release(ctx context.Context, key string) error {
	current, err := l.docs.Get(ctx, l.index, key)
	if errors.Is(err, backend.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	var doc lockDoc
	if err := json.Unmarshal(current.Source, &doc); err != nil {
		return fmt.Errorf("release lock %s: decoding lock document: %w", key, err)
	}
	if doc.Owner != l.owner {
		slog.Warn("lock owned by another instance, not releasing", "key", key, "owner", doc.Owner)
		return nil
	}
	err = l.docs.DeleteDocument(ctx, l.index, key, backend.DeleteOptions{
		IfSeqNo:       current.SeqNo,
		IfPrimaryTerm: current.PrimaryTerm,
		Refresh:       "true",
	})
	if err != nil && !errors.Is(err, backend.ErrNotFound) && !errors.Is(err, backend.ErrConflict) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (l *Elastic) tryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	body, err := json.Marshal(lockDoc{Owner: l.owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, fmt.Errorf("marshaling lock doc: %w", err)
	}
	err = l.docs.PutDocument(ctx, l.index, key, body, backend.PutOptions{OpType: backend.OpCreate, Refresh: "true"})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, backend.ErrConflict):
		return false, nil
	default:
		return false, err
	}
}

func (l *Elastic) cleanupExpired(ctx context.Context, key string) error {
	current, err := l.docs.Get(ctx, l.index, key)
	if errors.Is(err, backend.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !current.Found {
		return nil
	}
	var doc lockDoc
	if err := json.Unmarshal(current.Source, &doc); err != nil {
		return err
	}
	if !l.now().UTC().After(doc.ExpiresAt) {
		return nil
	}

	slog.Info("cleaning up expired lock",
		"key", key,
		"owner", doc.Owner,
		"expired_at", doc.ExpiresAt,
	)
	err = l.docs.DeleteDocument(ctx, l.index, key, backend.DeleteOptions{
		IfSeqNo:       current.SeqNo,
		IfPrimaryTerm: current.PrimaryTerm,
		Refresh:       "true",
	})
	// Another instance may have cleaned it up already.
	if err != nil && !errors.Is(err, backend.ErrConflict) && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	return nil
}

func (l *Elastic) ensureIndex(ctx context.Context) error {
	err := l.docs.CreateIndex(ctx, l.index, []byte(`{"settings":{"number_of_shards":1,"number_of_replicas":1}}`))
	if err == nil {
		return nil
	}
	// Another instance may have created it concurrently.
	var httpErr *backend.HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(httpErr.Body, "resource_already_exists_exception") {
		return nil
	}
	return err
}
