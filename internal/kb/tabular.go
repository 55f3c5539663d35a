package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harborline/docent/internal/events"
)

// TableRow is one data row from a tabular source file. Fields maps
// header names to cell values verbatim; Name is the first column's
// value, which by convention identifies the row.
type TableRow struct {
	Source string            `json:"source"` // originating file, without directory
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
	Text   string            `json:"text"`
}

func (r TableRow) SearchText() string { return r.Text }

func (r TableRow) SortKey() (string, string) { return r.Source, r.Name }

// TableIndex indexes a directory of comma-delimited files. The first
// row of each file is the header; every following row becomes one
// record with all cells flattened into its search text.
type TableIndex struct {
	dir          string
	snapshotPath string
	logger       *slog.Logger
	bus          *events.Bus
}

// NewTableIndex creates a table index over dir, persisting its
// snapshot at snapshotPath.
func NewTableIndex(dir, snapshotPath string, logger *slog.Logger, bus *events.Bus) *TableIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableIndex{
		dir:          dir,
		snapshotPath: snapshotPath,
		logger:       logger.With("index", "tables"),
		bus:          bus,
	}
}

// Refresh re-parses every tabular file and replaces the snapshot.
// Files that fail to parse are skipped and logged; an unreadable
// directory is a SourceError.
func (ix *TableIndex) Refresh(ctx context.Context) (*SearchResult[TableRow], error) {
	start := time.Now()
	ix.bus.Emit(events.SourceIndex, events.KindRefreshStart, map[string]any{"kind": "tables"})

	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil, &SourceError{Path: ix.dir, Err: err}
	}

	var records []TableRow
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		rows, err := parseTableFile(filepath.Join(ix.dir, entry.Name()), entry.Name())
		if err != nil {
			skipped++
			ix.logger.Warn("skipping malformed table file", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rows...)
	}

	snap := &snapshot[TableRow]{RefreshedAt: time.Now().UTC(), Records: records}
	if err := saveSnapshot(ix.snapshotPath, snap); err != nil {
		return nil, err
	}

	ix.logger.Info("tables refreshed", "rows", len(records), "skipped", skipped)
	ix.bus.Emit(events.SourceIndex, events.KindRefreshDone, map[string]any{
		"kind": "tables", "records": len(records), "skipped": skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &SearchResult[TableRow]{Records: records, RefreshedAt: snap.RefreshedAt}, nil
}

// Load reads the persisted snapshot. Returns (nil, nil) if no snapshot
// has been built yet.
func (ix *TableIndex) Load() (*SearchResult[TableRow], error) {
	snap, err := loadSnapshot[TableRow](ix.snapshotPath)
	if err != nil || snap == nil {
		return nil, err
	}
	return &SearchResult[TableRow]{Records: snap.Records, RefreshedAt: snap.RefreshedAt}, nil
}

// Search ranks table rows against the query, refreshing implicitly when
// no snapshot exists yet.
func (ix *TableIndex) Search(ctx context.Context, query string, limit int) (*SearchResult[TableRow], error) {
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

	return &SearchResult[TableRow]{
		Records:     rank(snap.Records, query, limit),
		RefreshedAt: snap.RefreshedAt,
	}, nil
}

// parseTableFile parses one delimited file into rows keyed by its
// header. Rows with a different cell count than the header are padded
// or truncated rather than dropped — partial rows still carry signal.
func parseTableFile(path, source string) ([]TableRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rows, err := parseDelimited(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse %s: empty file", source)
	}

	header := rows[0]
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, fmt.Errorf("parse %s: missing header row", source)
	}

	records := make([]TableRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 1 && row[0] == "" {
			continue // blank line
		}
		fields := make(map[string]string, len(header))
		var text strings.Builder
		for i, col := range header {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			fields[col] = cell
			text.WriteString(strings.ToLower(col))
			text.WriteByte(' ')
			text.WriteString(strings.ToLower(cell))
			text.WriteByte(' ')
		}
		name := ""
		if len(row) > 0 {
			name = row[0]
		}
		records = append(records, TableRow{
			Source: source,
			Name:   name,
			Fields: fields,
			Text:   strings.TrimSpace(text.String()),
		})
	}
	return records, nil
}
