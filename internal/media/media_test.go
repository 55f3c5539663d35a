package media

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchEncodesImage(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(raw)
	}))
	defer srv.Close()

	p, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if p.MediaType != "image/jpeg" {
		t.Errorf("MediaType = %q, want image/jpeg", p.MediaType)
	}
	decoded, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Error("decoded payload does not match served bytes")
	}
}

func TestFetchRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL)
	var mediaErr *Error
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(mediaErr.Reason, "not an image") {
		t.Errorf("unexpected reason %q", mediaErr.Reason)
	}
}

func TestFetchRejectsOversized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := NewFetcher()
	f.maxBytes = 50
	_, err := f.Fetch(context.Background(), srv.URL)
	var mediaErr *Error
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(mediaErr.Reason, "exceeds") {
		t.Errorf("unexpected reason %q", mediaErr.Reason)
	}
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL)
	var mediaErr *Error
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestFetchEmptyURL(t *testing.T) {
	_, err := NewFetcher().Fetch(context.Background(), "")
	var mediaErr *Error
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestContentMediaType(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":                "image/jpeg",
		"Image/PNG; charset=binary": "image/png",
		"  text/html ; q=1":         "text/html",
		"":                          "",
	}
	for in, want := range cases {
		if got := contentMediaType(in); got != want {
			t.Errorf("contentMediaType(%q) = %q, want %q", in, got, want)
		}
	}
}
