package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awachter/soltrader/internal/domain"
)

// Archiver queries the primary stores for old records, serializes them to
// JSONL, and uploads the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	audit     domain.AuditStore
}

// NewArchiver creates an archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, positions domain.PositionStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
	}
}

// ArchivePositions uploads every position closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and records the archival in the audit log.
// It returns the number of archived records.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(closed))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	return count, nil
}

// ArchivePartialCloses uploads partial-close rows created before the cutoff
// to archive/partial_closes/YYYY-MM.jsonl.
func (a *Archiver) ArchivePartialCloses(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.positions.ListPartialClosesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive partial closes query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive partial closes marshal: %w", err)
	}

	path := archivePath("partial_closes", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive partial closes upload: %w", err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.partial_closes", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive partial closes audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog uploads audit rows created before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *Archiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// ArchiveAll runs every archive step against one cutoff.
func (a *Archiver) ArchiveAll(ctx context.Context, before time.Time) error {
	if _, err := a.ArchivePositions(ctx, before); err != nil {
		return err
	}
	if _, err := a.ArchivePartialCloses(ctx, before); err != nil {
		return err
	}
	if _, err := a.ArchiveAuditLog(ctx, before); err != nil {
		return err
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2025-01.jsonl
//	archive/partial_closes/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
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
