package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/agent"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
)

// AuditEvent is the audit log event recorded after every upload. Its
// "through" detail is the archive cursor a restarted archiver resumes from.
const AuditEvent = "archive.trades"

// multipartWriter is implemented by writers that can split large uploads.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ArchiverConfig holds the archive schedule and layout.
type ArchiverConfig struct {
	Loop               agent.Config
	Interval           time.Duration // between archive runs
	Prefix             string        // key prefix, e.g. archive/trades
	PageSize           int           // journal page size
	MultipartThreshold int64         // payloads at or above this size go multipart
}

// Archiver periodically uploads newly journaled trade results to the blob
// store as JSONL, oldest first. Each run covers results executed after the
// previous run's last result and before the run started.
type Archiver struct {
	cfg     ArchiverConfig
	journal domain.TradeJournal
	writer  domain.BlobWriter
	audit   domain.AuditLog
	runner  *agent.Runner
	logger  *slog.Logger
	now     func() time.Time

	resumed  bool
	cursor   atomic.Int64 // unix nanos of the last archived result
	runs     atomic.Int64
	archived atomic.Int64
	failures atomic.Int64
	lastKey  atomic.Value // string
}

// NewArchiver creates an Archiver. audit may be nil, in which case a restart
// archives the whole journal again.
func NewArchiver(b domain.Bus, cfg ArchiverConfig, journal domain.TradeJournal, writer domain.BlobWriter, audit domain.AuditLog, logger *slog.Logger) *Archiver {
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "journal_archiver"
	}
	if cfg.Loop.Kind == "" {
		cfg.Loop.Kind = "archiver"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "archive/trades"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 64 << 20
	}
	return &Archiver{
		cfg:     cfg,
		journal: journal,
		writer:  writer,
		audit:   audit,
		runner:  agent.NewRunner(b, cfg.Loop, logger),
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// Runner exposes the command loop.
func (a *Archiver) Runner() *agent.Runner { return a.runner }

// Run archives every Interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.runner.Setup(ctx); err != nil {
		return fmt.Errorf("s3blob: archiver: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runner.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := a.ArchiveOnce(ctx); err != nil && ctx.Err() == nil {
					a.logger.Error("archive run failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	return g.Wait()
}

// ArchiveOnce uploads the results journaled since the last run and returns
// how many it archived. A failed upload leaves the cursor in place so the next
// run retries the same results.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	a.runs.Add(1)
	cutoff := a.now().UTC()

	if !a.resumed {
		if err := a.resume(ctx); err != nil {
			a.failures.Add(1)
			return 0, err
		}
		a.resumed = true
	}

	var since time.Time
	if ns := a.cursor.Load(); ns > 0 {
		since = time.Unix(0, ns).UTC()
	}

	batch, err := a.collect(ctx, since, cutoff)
	if err != nil {
		a.failures.Add(1)
		return 0, fmt.Errorf("s3blob: archive: list journal: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		a.failures.Add(1)
		return 0, fmt.Errorf("s3blob: archive: marshal: %w", err)
	}

	key := archiveKey(a.cfg.Prefix, cutoff)
	if err := a.put(ctx, key, buf); err != nil {
		a.failures.Add(1)
		return 0, fmt.Errorf("s3blob: archive: upload: %w", err)
	}

	through := batch[len(batch)-1].ExecutedAt.UTC()
	a.cursor.Store(through.UnixNano())
	a.lastKey.Store(key)
	a.archived.Add(int64(len(batch)))
	metrics.ArchivedResults.Add(float64(len(batch)))

	a.logger.InfoContext(ctx, "trade results archived",
		slog.String("key", key),
		slog.Int("count", len(batch)),
		slog.Time("through", through),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, AuditEvent, map[string]any{
			"key":     key,
			"count":   len(batch),
			"through": through.Format(time.RFC3339Nano),
		}); err != nil {
			a.logger.Warn("archive audit failed", slog.String("error", err.Error()))
		}
	}
	return len(batch), nil
}

// resume restores the cursor from the latest archive audit entry.
func (a *Archiver) resume(ctx context.Context) error {
	if a.audit == nil {
		return nil
	}
	entries, err := a.audit.List(ctx, domain.ListOpts{Strategy: AuditEvent, Limit: 1})
	if err != nil {
		return fmt.Errorf("s3blob: archive: read audit cursor: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	raw, _ := entries[0].Detail["through"].(string)
	through, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		a.logger.Warn("ignoring malformed archive cursor", slog.String("through", raw))
		return nil
	}
	a.cursor.Store(through.UnixNano())
	return nil
}

// collect pages through the journal and returns results executed in
// (since, cutoff), oldest first.
func (a *Archiver) collect(ctx context.Context, since, cutoff time.Time) ([]domain.TradeResult, error) {
	opts := domain.ListOpts{Limit: a.cfg.PageSize}
	if !since.IsZero() {
		opts.Since = &since
	}

	seen := make(map[string]bool)
	var out []domain.TradeResult
	for offset := 0; ; offset += a.cfg.PageSize {
		opts.Offset = offset
		page, err := a.journal.ListRecent(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			if !r.ExecutedAt.Before(cutoff) || !r.ExecutedAt.After(since) || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
		if len(page) < a.cfg.PageSize {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (a *Archiver) put(ctx context.Context, key string, buf []byte) error {
	const contentType = "application/x-ndjson"
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= a.cfg.MultipartThreshold {
		return mw.PutMultipart(ctx, key, bytes.NewReader(buf), contentType, minPartSize)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(buf), contentType)
}

// Snapshot reports archive progress.
func (a *Archiver) Snapshot() domain.AgentSnapshot {
	snap := a.runner.Snapshot()
	var cursor string
	if ns := a.cursor.Load(); ns > 0 {
		cursor = time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	lastKey, _ := a.lastKey.Load().(string)
	snap.Details = map[string]any{
		"runs":     a.runs.Load(),
		"archived": a.archived.Load(),
		"failures": a.failures.Load(),
		"cursor":   cursor,
		"last_key": lastKey,
	}
	return snap
}

// archiveKey partitions archive files by month of the run.
//
//	archive/trades/2026-10/20261018T150405Z.jsonl
func archiveKey(prefix string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, at.Format("2006-01"), at.Format("20060102T150405Z"))
}

// marshalJSONL encodes one JSON document per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SnapshotProvider = (*Archiver)(nil)
