package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListFolderPaginates(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			t.Errorf("missing api key param")
		}
		tok := r.URL.Query().Get("pageToken")
		tokens = append(tokens, tok)

		w.Header().Set("Content-Type", "application/json")
		switch tok {
		case "":
			json.NewEncoder(w).Encode(listResponse{
				Files:         []File{{ID: "1", Name: "vase.jpg", MimeType: "image/jpeg"}},
				NextPageToken: "page2",
			})
		case "page2":
			json.NewEncoder(w).Encode(listResponse{
				Files: []File{{ID: "2", Name: "urn.png", MimeType: "image/png"}},
			})
		default:
			t.Errorf("unexpected page token %q", tok)
		}
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	files, err := c.ListFolder(context.Background(), "folder123")
	if err != nil {
		t.Fatalf("ListFolder failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 files across pages, got %d", len(files))
	}
	if files[0].ID != "1" || files[1].ID != "2" {
		t.Errorf("unexpected file order: %+v", files)
	}
	if len(tokens) != 2 {
		t.Errorf("expected 2 page requests, got %d", len(tokens))
	}
}

func TestListFolderRequiresID(t *testing.T) {
	c := NewClient("k")
	if _, err := c.ListFolder(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty folder id")
	}
}

func TestListFolderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	if _, err := c.ListFolder(context.Background(), "folder123"); err == nil {
		t.Fatal("expected error for HTTP failure")
	}
}
