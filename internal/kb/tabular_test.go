package kb

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestTables(t *testing.T) (*TableIndex, string) {
	t.Helper()
	dir := t.TempDir()
	snap := filepath.Join(t.TempDir(), "tables.json")
	return NewTableIndex(dir, snap, nil, nil), dir
}

func TestTableRefreshParsesHeaderAndRows(t *testing.T) {
	ix, dir := newTestTables(t)
	writeFile(t, dir, "exhibits.csv", "name,wing,hours\nEast Gallery,East,\"9-5, daily\"\nVault,West,by appointment\n")

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Records))
	}

	first := res.Records[0]
	if first.Name != "East Gallery" {
		t.Errorf("expected first-column name, got %q", first.Name)
	}
	if first.Fields["hours"] != "9-5, daily" {
		t.Errorf("expected quoted field with separator preserved, got %q", first.Fields["hours"])
	}
}

func TestTableSearchMatchesHeaderNames(t *testing.T) {
	ix, dir := newTestTables(t)
	writeFile(t, dir, "hours.csv", "gallery,opens\nEast,09:00\n")

	res, err := ix.Search(context.Background(), "opens", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected header names searchable, got %d records", len(res.Records))
	}
}

func TestTableRoundTrip(t *testing.T) {
	ix, dir := newTestTables(t)
	writeFile(t, dir, "a.csv", "name,note\nx,\"multi\nline\"\n")

	refreshed, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	loaded, err := ix.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Records) != len(refreshed.Records) {
		t.Fatalf("round trip count mismatch")
	}
	if loaded.Records[0].Text != refreshed.Records[0].Text {
		t.Error("flattened text changed across round trip")
	}
}

func TestTableSkipsMalformedFiles(t *testing.T) {
	ix, dir := newTestTables(t)
	writeFile(t, dir, "good.csv", "name\nok\n")
	writeFile(t, dir, "bad.csv", "name\n\"unterminated\n")

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh must not fail on one bad file: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected only the good file's row, got %d", len(res.Records))
	}
}

func TestTableShortRowPadded(t *testing.T) {
	ix, dir := newTestTables(t)
	writeFile(t, dir, "t.csv", "a,b,c\n1,2\n")

	res, err := ix.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if res.Records[0].Fields["c"] != "" {
		t.Errorf("expected missing trailing cell padded empty, got %q", res.Records[0].Fields["c"])
	}
}
