package kb

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harborline/docent/internal/events"
)

// QAPair is one question/answer line from the FAQ file. Question and
// Answer are retained verbatim; Text combines both (with any markdown
// in the answer reduced to plain text) for scoring.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source"` // FAQ file name, without directory
	Text     string `json:"text"`
}

func (p QAPair) SearchText() string { return p.Text }

func (p QAPair) SortKey() (string, string) { return p.Source, p.Question }

// FAQIndex indexes a line-delimited question/answer file: one pair per
// line, question and answer separated by a TAB. Blank lines and lines
// starting with '#' are ignored.
type FAQIndex struct {
	file         string
	snapshotPath string
	logger       *slog.Logger
	bus          *events.Bus
}

// NewFAQIndex creates a FAQ index over file, persisting its snapshot
// at snapshotPath.
func NewFAQIndex(file, snapshotPath string, logger *slog.Logger, bus *events.Bus) *FAQIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &FAQIndex{
		file:         file,
		snapshotPath: snapshotPath,
		logger:       logger.With("index", "faq"),
		bus:          bus,
	}
}

// Refresh re-reads the FAQ file and replaces the snapshot. Lines
// without a TAB separator are skipped and logged; an unreadable file is
// a SourceError.
func (ix *FAQIndex) Refresh(ctx context.Context) (*SearchResult[QAPair], error) {
	start := time.Now()
	ix.bus.Emit(events.SourceIndex, events.KindRefreshStart, map[string]any{"kind": "faq"})

	data, err := os.ReadFile(ix.file)
	if err != nil {
		return nil, &SourceError{Path: ix.file, Err: err}
	}

	source := filepath.Base(ix.file)
	var records []QAPair
	skipped := 0
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		question, answer, found := strings.Cut(line, "\t")
		if !found || strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
			skipped++
			ix.logger.Warn("skipping malformed FAQ line", "line", i+1)
			continue
		}
		question = strings.TrimSpace(question)
		answer = strings.TrimSpace(answer)
		records = append(records, QAPair{
			Question: question,
			Answer:   answer,
			Source:   source,
			Text:     strings.ToLower(question + " " + markdownToText(answer)),
		})
	}

	snap := &snapshot[QAPair]{RefreshedAt: time.Now().UTC(), Records: records}
	if err := saveSnapshot(ix.snapshotPath, snap); err != nil {
		return nil, err
	}

	ix.logger.Info("faq refreshed", "pairs", len(records), "skipped", skipped)
	ix.bus.Emit(events.SourceIndex, events.KindRefreshDone, map[string]any{
		"kind": "faq", "records": len(records), "skipped": skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &SearchResult[QAPair]{Records: records, RefreshedAt: snap.RefreshedAt}, nil
}

// Load reads the persisted snapshot. Returns (nil, nil) if no snapshot
// has been built yet.
func (ix *FAQIndex) Load() (*SearchResult[QAPair], error) {
	snap, err := loadSnapshot[QAPair](ix.snapshotPath)
	if err != nil || snap == nil {
		return nil, err
	}
	return &SearchResult[QAPair]{Records: snap.Records, RefreshedAt: snap.RefreshedAt}, nil
}

// Search ranks FAQ pairs against the query, refreshing implicitly when
// no snapshot exists yet.
func (ix *FAQIndex) Search(ctx context.Context, query string, limit int) (*SearchResult[QAPair], error) {
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

	return &SearchResult[QAPair]{
		Records:     rank(snap.Records, query, limit),
		RefreshedAt: snap.RefreshedAt,
	}, nil
}
