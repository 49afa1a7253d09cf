package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

// defaultArchiveBatch bounds how many audit rows one export batch carries
// so a long retention backlog is drained in stable pieces.
const defaultArchiveBatch = 1000

// AuditArchiver implements domain.Archiver. It exports audit log rows older
// than the cutoff as JSONL to object storage and prunes them from the
// database only after the upload succeeded.
type AuditArchiver struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

// NewAuditArchiver creates an AuditArchiver exporting batchSize rows per
// object.
func NewAuditArchiver(writer domain.BlobWriter, audit domain.AuditStore, batchSize int, logger *slog.Logger) *AuditArchiver {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatch
	}
	return &AuditArchiver{
		writer:    writer,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "audit_archiver")),
	}
}

// ArchiveAuditLog exports every audit entry created before the cutoff to
// archive/audit/YYYY-MM/{batch}.jsonl, then deletes the exported rows. It
// returns the number of rows archived.
func (a *AuditArchiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for batch := 0; ; batch++ {
		entries, err := a.audit.ListOlderThan(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}

		path := archivePath(before, batch)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}

		// The batch is durable in object storage; prune up to its last
		// entry. ListOlderThan returns oldest first, so the cutoff below
		// covers exactly the exported rows.
		last := entries[len(entries)-1].CreatedAt.Add(time.Millisecond)
		if last.After(before) {
			last = before
		}
		deleted, err := a.audit.DeleteOlderThan(ctx, last)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit prune: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "audit batch archived",
			slog.String("path", path),
			slog.Int("exported", len(entries)),
			slog.Int64("pruned", deleted),
		)

		if len(entries) < a.batchSize {
			break
		}
	}

	return total, nil
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

// archivePath builds the object key for one export batch, partitioned by
// the year-month of the cutoff time.
//
//	archive/audit/2026-08/000.jsonl
func archivePath(before time.Time, batch int) string {
	return fmt.Sprintf("archive/audit/%s/%03d.jsonl", before.Format("2006-01"), batch)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*AuditArchiver)(nil)
