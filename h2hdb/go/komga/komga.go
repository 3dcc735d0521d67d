// Package komga pushes gallery metadata into a Komga media server over
// its REST API and keeps the library in sync with the CBZ tree.
package komga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/config"
)

// pageSize is how many series or books one listing request returns.
const pageSize = 100

// ReleaseDateLayout is Komga's metadata date format.
const ReleaseDateLayout = "2006-01-02"

// Author is one credited person on a book.
type Author struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// BookMetadata is the PATCH body for a book.
type BookMetadata struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	ReleaseDate string   `json:"releaseDate"`
	Authors     []Author `json:"authors"`
}

// SeriesMetadata is the PATCH body for a series.
type SeriesMetadata struct {
	Title string `json:"title"`
}

// Series is one row of a series listing.
type Series struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata SeriesMetadata `json:"metadata"`
}

// Book is one row of a book listing. Name is the archive file name without
// its extension.
type Book struct {
	ID       string `json:"id"`
	SeriesID string `json:"seriesId"`
	Name     string `json:"name"`
}

type seriesPage struct {
	Content []Series `json:"content"`
	Last    bool     `json:"last"`
}

type bookPage struct {
	Content []Book `json:"content"`
	Last    bool   `json:"last"`
}

type bookDetail struct {
	Metadata BookMetadata `json:"metadata"`
}

// Client talks to one Komga instance with basic auth.
type Client struct {
	baseURL   string
	username  string
	password  string
	libraryID string
	client    *http.Client
}

// NewClient returns a Client for the configured media server. httpClient
// should come from httputils so the retry policy applies.
func NewClient(cfg config.MediaServerConfig, httpClient *http.Client) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		username:  cfg.APIUsername,
		password:  cfg.APIPassword,
		libraryID: cfg.LibraryID,
		client:    httpClient,
	}
}

// do sends one authenticated request and decodes the JSON response into
// out, when out is non-nil. Non-2xx statuses are errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return skerr.Wrap(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return skerr.Wrap(err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return skerr.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return skerr.Fmt("%s %s returned %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return skerr.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s %s", method, path)
}

// ScanLibrary asks Komga to rescan the configured library for new or
// changed archives.
func (c *Client) ScanLibrary(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/libraries/%s/scan", url.PathEscape(c.libraryID)), nil, nil)
}

// GetSeries returns one page of the library's series listing.
func (c *Client) GetSeries(ctx context.Context, page int) ([]Series, bool, error) {
	var p seriesPage
	path := fmt.Sprintf("/api/v1/series?library_id=%s&page=%d&size=%d",
		url.QueryEscape(c.libraryID), page, pageSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, false, err
	}
	return p.Content, p.Last, nil
}

// GetBooks returns one page of a series' book listing.
func (c *Client) GetBooks(ctx context.Context, seriesID string, page int) ([]Book, bool, error) {
	var p bookPage
	path := fmt.Sprintf("/api/v1/series/%s/books?page=%d&size=%d",
		url.PathEscape(seriesID), page, pageSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, false, err
	}
	return p.Content, p.Last, nil
}

// GetBookMetadata returns one book's current server-side metadata.
func (c *Client) GetBookMetadata(ctx context.Context, bookID string) (BookMetadata, error) {
	var d bookDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/books/%s", url.PathEscape(bookID)), nil, &d); err != nil {
		return BookMetadata{}, err
	}
	return d.Metadata, nil
}

// UpdateBookMetadata patches one book's metadata.
func (c *Client) UpdateBookMetadata(ctx context.Context, bookID string, meta BookMetadata) error {
	sklog.Debugf("Updating Komga book %s (%q).", bookID, meta.Title)
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/books/%s/metadata", url.PathEscape(bookID)), meta, nil)
}

// UpdateSeriesMetadata patches one series' metadata.
func (c *Client) UpdateSeriesMetadata(ctx context.Context, seriesID string, meta SeriesMetadata) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/series/%s/metadata", url.PathEscape(seriesID)), meta, nil)
}
