package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// multipartThreshold is the payload size above which snapshots are uploaded
// with the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

var _ domain.HistoryArchiver = (*Archiver)(nil)

// Archiver implements domain.HistoryArchiver by writing JSONL objects:
//
//	history/<account>/<YYYY-MM-DD>/<unix-nanos>.jsonl   evicted history entries
//	snapshots/<account>/<YYYY-MM-DD>.json               account snapshots
//
// Every upload is recorded in the audit log when one is configured.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		now:    time.Now,
	}
}

// ArchiveHistory uploads entries as one JSONL object.
func (a *Archiver) ArchiveHistory(ctx context.Context, accountID string, entries []domain.TradeHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	now := a.now().UTC()
	path := historyPath(accountID, now)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive history upload: %w", err)
	}
	return a.record(ctx, accountID, "archive.history", map[string]any{
		"path":  path,
		"count": len(entries),
	})
}

// ArchiveSnapshot uploads the full account state. A later snapshot on the
// same day replaces the earlier one.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, state domain.AccountState) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}

	path := snapshotPath(state.ID, a.now().UTC())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return a.record(ctx, state.ID, "archive.snapshot", map[string]any{
		"path":      path,
		"positions": len(state.Positions),
		"history":   len(state.History),
	})
}

// ArchivedHistory reads back every archived history entry of the account,
// newest first.
func (a *Archiver) ArchivedHistory(ctx context.Context, accountID string) ([]domain.TradeHistoryEntry, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archived history: no reader configured")
	}
	infos, err := a.reader.List(ctx, "history/"+safeSegment(accountID)+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: archived history list: %w", err)
	}

	var out []domain.TradeHistoryEntry
	for _, info := range infos {
		entries, err := a.readJSONL(ctx, info.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseTime.After(out[j].CloseTime)
	})
	return out, nil
}

func (a *Archiver) readJSONL(ctx context.Context, path string) ([]domain.TradeHistoryEntry, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archived history get: %w", err)
	}
	defer body.Close()

	var out []domain.TradeHistoryEntry
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e domain.TradeHistoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("s3blob: decode %s: %w", path, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return out, nil
}

func (a *Archiver) record(ctx context.Context, accountID, event string, detail map[string]any) error {
	if a.audit == nil {
		return nil
	}
	if err := a.audit.Log(ctx, accountID, event, detail); err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

func historyPath(accountID string, at time.Time) string {
	return fmt.Sprintf("history/%s/%s/%d.jsonl", safeSegment(accountID), at.Format("2006-01-02"), at.UnixNano())
}

func snapshotPath(accountID string, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.json", safeSegment(accountID), at.Format("2006-01-02"))
}

// safeSegment keeps an account id from introducing extra key segments.
func safeSegment(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}

// marshalJSONL serialises records as newline-delimited JSON.
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
