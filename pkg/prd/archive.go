package prd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/prdforge/pkg/async"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

const archiveTimeout = 30 * time.Second

// Archiver keeps an out-of-band copy of saved PRDs. Archive must not block
// and failures never reach the caller.
type Archiver interface {
	Archive(ctx context.Context, doc *PRD)
}

// ObjectPutter is the subset of the object store used for archiving
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
}

// ArchiveKey is the object key of a PRD version
func ArchiveKey(id uuid.UUID, version int) string {
	return fmt.Sprintf("prds/%s/v%d.md", id, version)
}

// S3Archiver uploads markdown snapshots to object storage in the background
type S3Archiver struct {
	objects ObjectPutter
	pool    *async.WorkerPool
	logger  *observability.Logger
}

// NewS3Archiver creates an archiver with a bounded upload pool. With
// workers <= 0 every upload gets its own goroutine.
func NewS3Archiver(ctx context.Context, objects ObjectPutter, workers, queueSize int, logger *observability.Logger) *S3Archiver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &S3Archiver{objects: objects, logger: logger}
	if workers > 0 {
		a.pool = async.NewWorkerPool(ctx, workers, queueSize, "prd archive", archiveTimeout, logger)
	}
	return a
}

// Archive schedules an upload of doc's current version. Uploads are
// dropped when the queue is full.
func (a *S3Archiver) Archive(ctx context.Context, doc *PRD) {
	key := ArchiveKey(doc.ID, doc.Version)
	body := []byte(doc.Content)
	upload := func(ctx context.Context) error {
		if err := a.objects.PutObject(ctx, key, body, "text/markdown; charset=utf-8"); err != nil {
			return fmt.Errorf("failed to archive %s: %w", key, err)
		}
		return nil
	}

	if a.pool == nil {
		async.SafeGo(context.WithoutCancel(ctx), archiveTimeout, "prd archive", upload)
		return
	}
	if err := a.pool.TrySubmit(upload); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("key", key).Warn("prd archive upload dropped")
	}
}

// Close drains queued uploads
func (a *S3Archiver) Close(timeout time.Duration) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Shutdown(timeout)
}
