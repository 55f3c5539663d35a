// Package kb implements Docent's snapshot indices: four lightweight
// keyword-searchable views over local knowledge sources (catalog
// records, tabular rows, FAQ pairs) and one external image folder.
//
// Each index follows the same lifecycle: Refresh fully re-derives the
// index from its raw source and atomically replaces the persisted
// snapshot; Load reads the snapshot (absence is not an error); Search
// loads the snapshot per query and ranks records by token overlap.
// There is no shared in-memory cache — a snapshot is cheap to read and
// holding it per query keeps queries free of cross-request mutation.
package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SourceError reports that a raw data source could not be read at all.
// Individual malformed records are skipped and logged, not reported
// through this type.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// record is the contract every index record satisfies: a denormalized
// flattened-text field scored uniformly regardless of the record's
// original shape, and a stable identity for deterministic tie-breaking.
type record interface {
	// SearchText returns the lowercase flattened text used for scoring.
	SearchText() string
	// SortKey returns (source identifier, name) for tie-breaking.
	SortKey() (string, string)
}

// snapshot is the persisted form of an index: a timestamp and the full
// record set. Refresh replaces it wholesale; there are no partial or
// merge updates.
type snapshot[T any] struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Records     []T       `json:"records"`
}

// saveSnapshot writes the snapshot atomically: marshal to a temp file
// in the target directory, then rename over any existing snapshot.
func saveSnapshot[T any](path string, snap *snapshot[T]) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads a persisted snapshot. A missing file returns
// (nil, nil): "not yet built" is a valid state, not an error.
func loadSnapshot[T any](path string) (*snapshot[T], error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// tokenize splits a query into lowercase whitespace-delimited tokens.
func tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// score counts how many query tokens appear as substrings of the text.
func score(text string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			n++
		}
	}
	return n
}

// rank scores all records against the query and returns the top matches.
// A query with no tokens matches everything in snapshot order; otherwise
// only records with at least one matching token are returned, sorted by
// descending score with ties broken by (source, name) so results are
// deterministic across runs.
func rank[T record](records []T, query string, limit int) []T {
	tokens := tokenize(query)

	if len(tokens) == 0 {
		if limit < len(records) {
			return records[:limit]
		}
		return records
	}

	type scored struct {
		rec   T
		score int
	}
	var matches []scored
	for _, r := range records {
		if s := score(r.SearchText(), tokens); s > 0 {
			matches = append(matches, scored{rec: r, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		si, ni := matches[i].rec.SortKey()
		sj, nj := matches[j].rec.SortKey()
		if si != sj {
			return si < sj
		}
		return ni < nj
	})

	if limit < len(matches) {
		matches = matches[:limit]
	}
	out := make([]T, len(matches))
	for i, m := range matches {
		out[i] = m.rec
	}
	return out
}
