package kb

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/harborline/docent/internal/drive"
	"github.com/harborline/docent/internal/events"
)

// ImageRecord is one indexed image from the external storage folder.
// Caption is the file's description; Link points at the viewable file.
type ImageRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Caption string `json:"caption,omitempty"`
	Link    string `json:"link,omitempty"`
	Text    string `json:"text"`
}

func (r ImageRecord) SearchText() string { return r.Text }

// Image records all come from one folder, so the folder id serves as
// the source half of the key.
func (r ImageRecord) SortKey() (string, string) { return "drive", r.Name }

// Lister is the slice of the drive client the image index needs.
type Lister interface {
	ListFolder(ctx context.Context, folderID string) ([]drive.File, error)
}

// ImageIndex indexes the metadata listing of an external image folder.
//
// Unlike the three local indices, Search never refreshes implicitly:
// the folder listing is a quota-limited external call, not a cheap
// local re-read. With no snapshot it degrades to an empty result and
// waits for an explicit Refresh.
type ImageIndex struct {
	lister       Lister
	folderID     string
	snapshotPath string
	logger       *slog.Logger
	bus          *events.Bus
}

// NewImageIndex creates an image index over the given folder,
// persisting its snapshot at snapshotPath.
func NewImageIndex(lister Lister, folderID, snapshotPath string, logger *slog.Logger, bus *events.Bus) *ImageIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageIndex{
		lister:       lister,
		folderID:     folderID,
		snapshotPath: snapshotPath,
		logger:       logger.With("index", "images"),
		bus:          bus,
	}
}

// Refresh lists the folder and replaces the snapshot. Non-image files
// are skipped; a failed listing is a SourceError.
func (ix *ImageIndex) Refresh(ctx context.Context) (*SearchResult[ImageRecord], error) {
	if ix.lister == nil {
		return nil, &SourceError{Path: "folder " + ix.folderID, Err: errors.New("no folder client configured")}
	}

	start := time.Now()
	ix.bus.Emit(events.SourceIndex, events.KindRefreshStart, map[string]any{"kind": "images"})

	files, err := ix.lister.ListFolder(ctx, ix.folderID)
	if err != nil {
		return nil, &SourceError{Path: "folder " + ix.folderID, Err: err}
	}

	var records []ImageRecord
	skipped := 0
	for _, f := range files {
		if !strings.HasPrefix(f.MimeType, "image/") {
			skipped++
			continue
		}
		link := f.ViewLink
		if link == "" {
			link = f.Thumbnail
		}
		records = append(records, ImageRecord{
			ID:      f.ID,
			Name:    f.Name,
			Caption: f.Description,
			Link:    link,
			Text:    strings.ToLower(f.Name + " " + f.Description),
		})
	}

	snap := &snapshot[ImageRecord]{RefreshedAt: time.Now().UTC(), Records: records}
	if err := saveSnapshot(ix.snapshotPath, snap); err != nil {
		return nil, err
	}

	ix.logger.Info("images refreshed", "images", len(records), "skipped", skipped)
	ix.bus.Emit(events.SourceIndex, events.KindRefreshDone, map[string]any{
		"kind": "images", "records": len(records), "skipped": skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &SearchResult[ImageRecord]{Records: records, RefreshedAt: snap.RefreshedAt}, nil
}

// Load reads the persisted snapshot. Returns (nil, nil) if no snapshot
// has been built yet.
func (ix *ImageIndex) Load() (*SearchResult[ImageRecord], error) {
	snap, err := loadSnapshot[ImageRecord](ix.snapshotPath)
	if err != nil || snap == nil {
		return nil, err
	}
	return &SearchResult[ImageRecord]{Records: snap.Records, RefreshedAt: snap.RefreshedAt}, nil
}

// Search ranks image records against the query. With no snapshot it
// returns an empty result rather than spending listing quota.
func (ix *ImageIndex) Search(ctx context.Context, query string, limit int) (*SearchResult[ImageRecord], error) {
	snap, err := ix.Load()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		ix.logger.Debug("image snapshot not built yet, returning empty result")
		return &SearchResult[ImageRecord]{}, nil
	}

	return &SearchResult[ImageRecord]{
		Records:     rank(snap.Records, query, limit),
		RefreshedAt: snap.RefreshedAt,
	}, nil
}
