package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harborline/docent/internal/events"
)

// CatalogRecord is one structured record from the catalog directory.
// ID and Name are retained verbatim for display; Text is the flattened
// lowercase form of the whole record used for scoring.
type CatalogRecord struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Source string         `json:"source"` // originating file, without directory
	Fields map[string]any `json:"fields,omitempty"`
	Text   string         `json:"text"`
}

func (r CatalogRecord) SearchText() string { return r.Text }

func (r CatalogRecord) SortKey() (string, string) { return r.Source, r.Name }

// SearchResult carries ranked records plus the snapshot's refresh time.
type SearchResult[T any] struct {
	Records     []T       `json:"records"`
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
}

// CatalogIndex indexes a directory of JSON record files. Each file
// holds one object or an array of objects; each object becomes one
// record with every nested value flattened into its search text.
type CatalogIndex struct {
	dir          string
	snapshotPath string
	logger       *slog.Logger
	bus          *events.Bus
}

// NewCatalogIndex creates a catalog index over dir, persisting its
// snapshot at snapshotPath.
func NewCatalogIndex(dir, snapshotPath string, logger *slog.Logger, bus *events.Bus) *CatalogIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogIndex{
		dir:          dir,
		snapshotPath: snapshotPath,
		logger:       logger.With("index", "catalog"),
		bus:          bus,
	}
}

// Refresh re-reads every record file and replaces the snapshot.
// Files that fail to parse are skipped and logged; an unreadable
// directory is a SourceError.
func (ix *CatalogIndex) Refresh(ctx context.Context) (*SearchResult[CatalogRecord], error) {
	start := time.Now()
	ix.bus.Emit(events.SourceIndex, events.KindRefreshStart, map[string]any{"kind": "catalog"})

	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil, &SourceError{Path: ix.dir, Err: err}
	}

	var records []CatalogRecord
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(ix.dir, entry.Name())
		recs, err := parseCatalogFile(path, entry.Name(), ix.logger)
		if err != nil {
			skipped++
			ix.logger.Warn("skipping malformed catalog file", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, recs...)
	}

	snap := &snapshot[CatalogRecord]{RefreshedAt: time.Now().UTC(), Records: records}
	if err := saveSnapshot(ix.snapshotPath, snap); err != nil {
		return nil, err
	}

	ix.logger.Info("catalog refreshed", "records", len(records), "skipped", skipped)
	ix.bus.Emit(events.SourceIndex, events.KindRefreshDone, map[string]any{
		"kind": "catalog", "records": len(records), "skipped": skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &SearchResult[CatalogRecord]{Records: records, RefreshedAt: snap.RefreshedAt}, nil
}

// Load reads the persisted snapshot. Returns (nil, nil) if no snapshot
// has been built yet.
func (ix *CatalogIndex) Load() (*SearchResult[CatalogRecord], error) {
	snap, err := loadSnapshot[CatalogRecord](ix.snapshotPath)
	if err != nil || snap == nil {
		return nil, err
	}
	return &SearchResult[CatalogRecord]{Records: snap.Records, RefreshedAt: snap.RefreshedAt}, nil
}

// Search ranks catalog records against the query. A missing snapshot
// triggers an implicit Refresh first — the raw files are local and
// cheap to re-derive.
func (ix *CatalogIndex) Search(ctx context.Context, query string, limit int) (*SearchResult[CatalogRecord], error) {
	snap, err := ix.Load()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap, err = ix.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}

	return &SearchResult[CatalogRecord]{
		Records:     rank(snap.Records, query, limit),
		RefreshedAt: snap.RefreshedAt,
	}, nil
}

// parseCatalogFile decodes one JSON file into records. The file may
// hold a single object or an array of objects. Non-object array
// elements are skipped and logged; the rest of the file survives.
func parseCatalogFile(path, source string, logger *slog.Logger) ([]CatalogRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}

	var objects []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		objects = []map[string]any{v}
	case []any:
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				logger.Warn("skipping malformed catalog record", "file", source, "element", i)
				continue
			}
			objects = append(objects, obj)
		}
	default:
		return nil, fmt.Errorf("parse %s: top-level value is not an object or array", source)
	}

	records := make([]CatalogRecord, 0, len(objects))
	for _, obj := range objects {
		rec := CatalogRecord{
			ID:     stringField(obj, "id"),
			Name:   stringField(obj, "name"),
			Source: source,
			Fields: obj,
			Text:   flattenValue(reduceMarkdown(obj)),
		}
		if rec.Name == "" {
			rec.Name = strings.TrimSuffix(source, ".json")
		}
		records = append(records, rec)
	}
	return records, nil
}

// reduceMarkdown walks a decoded JSON value and replaces every string
// with its plain-text rendering, so markup never leaks into scoring.
func reduceMarkdown(v any) any {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, "*_`[#") {
			return markdownToText(val)
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = reduceMarkdown(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = reduceMarkdown(item)
		}
		return out
	default:
		return v
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
