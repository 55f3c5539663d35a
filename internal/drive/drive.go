// Package drive provides a minimal client for the external storage
// folder's metadata listing API. Only listing is implemented — the
// image index needs file ids, names, and captions, never the bytes.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/harborline/docent/internal/httpkit"
)

const defaultBaseURL = "https://www.googleapis.com/drive/v3"

// defaultPageSize is the listing page size. The API caps pages at 1000;
// 200 keeps responses small while still finishing most folders in one
// or two calls.
const defaultPageSize = 200

// File is one file's metadata from a folder listing.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType"`
	ViewLink    string `json:"webViewLink,omitempty"`
	Thumbnail   string `json:"thumbnailLink,omitempty"`
}

// listResponse is one page of a folder listing.
type listResponse struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// Client lists folders through the keyed metadata API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient creates a folder-listing client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListFolder returns the metadata of every file in the folder,
// following pagination until the listing is exhausted.
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]File, error) {
	if folderID == "" {
		return nil, fmt.Errorf("drive: folder id is required")
	}

	var files []File
	pageToken := ""
	for {
		page, next, err := c.listPage(ctx, folderID, pageToken)
		if err != nil {
			return nil, err
		}
		files = append(files, page...)
		if next == "" {
			return files, nil
		}
		pageToken = next
	}
}

func (c *Client) listPage(ctx context.Context, folderID, pageToken string) ([]File, string, error) {
	params := url.Values{
		"q":        {fmt.Sprintf("'%s' in parents and trashed = false", folderID)},
		"fields":   {"nextPageToken, files(id, name, description, mimeType, webViewLink, thumbnailLink)"},
		"pageSize": {strconv.Itoa(defaultPageSize)},
		"key":      {c.apiKey},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	reqURL := c.baseURL + "/files?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("drive: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("drive: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, "", fmt.Errorf("drive: HTTP %d: %s", resp.StatusCode, body)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, "", fmt.Errorf("drive: decode response: %w", err)
	}

	return lr.Files, lr.NextPageToken, nil
}
