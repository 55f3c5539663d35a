package kb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestCatalog(t *testing.T) (*CatalogIndex, string) {
	t.Helper()
	dir := t.TempDir()
	snap := filepath.Join(t.TempDir(), "catalog.json")
	return NewCatalogIndex(dir, snap, nil, nil), dir
}

func TestCatalogRefreshLoadRoundTrip(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "vase.json", `{"id":"c1","name":"Blue Vase","wing":"East","period":{"era":"Ming","year":1450}}`)
	writeFile(t, dir, "urns.json", `[{"id":"c2","name":"Urn A"},{"id":"c3","name":"Urn B"}]`)

	refreshed, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(refreshed.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(refreshed.Records))
	}

	loaded, err := ix.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot after refresh")
	}
	if len(loaded.Records) != len(refreshed.Records) {
		t.Fatalf("round trip record count mismatch: %d vs %d", len(loaded.Records), len(refreshed.Records))
	}
	for i := range loaded.Records {
		if loaded.Records[i].Text != refreshed.Records[i].Text {
			t.Errorf("record %d flattened text changed across round trip", i)
		}
	}
}

func TestCatalogFlattensNestedValues(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "vase.json", `{"name":"Blue Vase","period":{"era":"Ming","year":1450}}`)

	res, err := ix.Search(context.Background(), "ming 1450", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected nested values searchable, got %d records", len(res.Records))
	}
}

func TestCatalogSearchAutoRefreshes(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "item.json", `{"name":"Celadon Bowl"}`)

	// No snapshot exists yet; Search must build one implicitly.
	res, err := ix.Search(context.Background(), "celadon", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected implicit refresh to index the record, got %d", len(res.Records))
	}

	if loaded, _ := ix.Load(); loaded == nil {
		t.Error("expected Search to persist a snapshot")
	}
}

func TestCatalogSkipsMalformedFiles(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "good.json", `{"name":"Good Record"}`)
	writeFile(t, dir, "bad.json", `{not json`)
	writeFile(t, dir, "scalar.json", `42`)

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh must not fail on individual malformed files: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected only the well-formed record, got %d", len(res.Records))
	}
}

func TestCatalogSkipsMalformedArrayElements(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "mixed.json", `[{"id":"c1","name":"Urn A"},"not an object",{"id":"c2","name":"Urn B"}]`)

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh must not fail on individual malformed records: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected the well-formed records to survive, got %d", len(res.Records))
	}
	if res.Records[0].Name != "Urn A" || res.Records[1].Name != "Urn B" {
		t.Errorf("unexpected records: %+v", res.Records)
	}
}

func TestCatalogMissingDirIsSourceError(t *testing.T) {
	ix := NewCatalogIndex(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "s.json"), nil, nil)
	_, err := ix.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error for missing source directory")
	}
	if _, ok := err.(*SourceError); !ok {
		t.Errorf("expected SourceError, got %T", err)
	}
}

func TestCatalogLoadAbsentSnapshot(t *testing.T) {
	ix, _ := newTestCatalog(t)
	snap, err := ix.Load()
	if err != nil {
		t.Fatalf("absent snapshot must not be an error: %v", err)
	}
	if snap != nil {
		t.Error("expected nil result for absent snapshot")
	}
}

func TestCatalogMarkdownReduced(t *testing.T) {
	ix, dir := newTestCatalog(t)
	writeFile(t, dir, "item.json", `{"name":"Scroll","description":"A **priceless** [scroll](https://example.org) from the *Tang* era"}`)

	res, err := ix.Search(context.Background(), "priceless tang", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatal("expected markdown words searchable without markup")
	}
	text := res.Records[0].Text
	if strings.Contains(text, "**") || strings.Contains(text, "](") {
		t.Errorf("expected markup stripped from search text, got %q", text)
	}
}
