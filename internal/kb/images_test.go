package kb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/harborline/docent/internal/drive"
)

type fakeLister struct {
	files []drive.File
	err   error
	calls int
}

func (f *fakeLister) ListFolder(ctx context.Context, folderID string) ([]drive.File, error) {
	f.calls++
	return f.files, f.err
}

func TestImageSearchWithoutSnapshotReturnsEmpty(t *testing.T) {
	lister := &fakeLister{}
	ix := NewImageIndex(lister, "folder-1", filepath.Join(t.TempDir(), "images.json"), nil, nil)

	res, err := ix.Search(context.Background(), "sunset", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("expected empty result, got %d records", len(res.Records))
	}
	if lister.calls != 0 {
		t.Errorf("search must not list the folder, got %d calls", lister.calls)
	}
}

func TestImageRefreshFiltersNonImages(t *testing.T) {
	lister := &fakeLister{files: []drive.File{
		{ID: "1", Name: "sunset.jpg", MimeType: "image/jpeg", Description: "Sunset over the harbor", ViewLink: "https://example.com/1"},
		{ID: "2", Name: "notes.pdf", MimeType: "application/pdf"},
		{ID: "3", Name: "entrance.png", MimeType: "image/png", Thumbnail: "https://example.com/3/thumb"},
	}}
	ix := NewImageIndex(lister, "folder-1", filepath.Join(t.TempDir(), "images.json"), nil, nil)

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 image records, got %d", len(res.Records))
	}
	if res.Records[0].Link != "https://example.com/1" {
		t.Errorf("expected view link preferred, got %q", res.Records[0].Link)
	}
	if res.Records[1].Link != "https://example.com/3/thumb" {
		t.Errorf("expected thumbnail fallback, got %q", res.Records[1].Link)
	}
}

func TestImageSearchAfterRefresh(t *testing.T) {
	lister := &fakeLister{files: []drive.File{
		{ID: "1", Name: "sunset.jpg", MimeType: "image/jpeg", Description: "Sunset over the harbor"},
		{ID: "2", Name: "map.png", MimeType: "image/png", Description: "Floor plan of the east wing"},
	}}
	ix := NewImageIndex(lister, "folder-1", filepath.Join(t.TempDir(), "images.json"), nil, nil)

	if _, err := ix.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := ix.Search(context.Background(), "harbor", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Records[0].Name != "sunset.jpg" {
		t.Fatalf("expected only sunset.jpg, got %+v", res.Records)
	}
	if lister.calls != 1 {
		t.Errorf("expected a single folder listing, got %d", lister.calls)
	}
}

func TestImageRefreshWithoutListerFails(t *testing.T) {
	ix := NewImageIndex(nil, "folder-1", filepath.Join(t.TempDir(), "images.json"), nil, nil)

	_, err := ix.Refresh(context.Background())
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceError, got %v", err)
	}
}

func TestImageRefreshListingError(t *testing.T) {
	lister := &fakeLister{err: errors.New("quota exceeded")}
	ix := NewImageIndex(lister, "folder-1", filepath.Join(t.TempDir(), "images.json"), nil, nil)

	_, err := ix.Refresh(context.Background())
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceError, got %v", err)
	}
}
