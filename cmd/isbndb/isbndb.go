// Package isbndb retrieves book metadata from the ISBNdb API in rate
// limited batches, caching responses and recording results into the
// datastore.
package isbndb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/biblio/internal/cache"
	"github.com/lepinkainen/biblio/internal/cmdutil"
	"github.com/lepinkainen/biblio/internal/config"
	"github.com/lepinkainen/biblio/internal/datastore"
	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/fetch"
	"github.com/lepinkainen/biblio/internal/fileutil"
	"github.com/lepinkainen/biblio/internal/ratelimit"
	"github.com/lepinkainen/biblio/internal/session"
	"github.com/lepinkainen/biblio/internal/webclient"
)

const cacheTable = "isbndb_cache"

// apiBaseURL overrides the plan-selected endpoint when non-empty.
// Tests point it at a local server.
var apiBaseURL = ""

// Book is the subset of the ISBNdb book payload we keep.
type Book struct {
	Title         string   `json:"title"`
	TitleLong     string   `json:"title_long,omitempty"`
	ISBN          string   `json:"isbn"`
	ISBN13        string   `json:"isbn13"`
	Authors       []string `json:"authors,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
	Language      string   `json:"language,omitempty"`
	DatePublished string   `json:"date_published,omitempty"`
	Pages         int      `json:"pages,omitempty"`
	Subjects      []string `json:"subjects,omitempty"`
	Image         string   `json:"image,omitempty"`
	Synopsis      string   `json:"synopsis,omitempty"`
}

// bookResponse mirrors the API envelope. NotFound marks a negatively
// cached "no such ISBN" answer.
type bookResponse struct {
	Book     Book `json:"book"`
	NotFound bool `json:"not_found,omitempty"`
}

// bookRecord is the flattened shape inserted into the datastore.
type bookRecord struct {
	SourceID    string
	Source      string
	Title       string
	Authors     []string
	ISBN13      string
	Language    string
	Publisher   string
	PublishYear int
	Pages       int
	Subjects    []string
	CoverURL    string
	RetrievedAt time.Time
}

// FetchParams bundles the knobs of a metadata batch.
type FetchParams struct {
	ISBNs          []string
	ISBNFile       string
	Plan           Plan
	APIKey         string
	Output         string
	WriteJSON      bool
	JSONOutput     string
	DownloadCovers bool
	Overwrite      bool
}

// FetchISBNsWithParams retrieves metadata for a batch of ISBNs. Cached
// entries are served locally; the rest go through the retrieval engine
// under the plan's rate limit.
func FetchISBNsWithParams(params FetchParams) error {
	if params.APIKey == "" {
		return fmt.Errorf("ISBNdb API key is required (provide via --apikey flag or ISBNDB_API_KEY)")
	}

	cfg := &cmdutil.BaseCommandConfig{
		OutputDir: params.Output,
		ConfigKey: "isbndb",
		WriteJSON: params.WriteJSON,
		Overwrite: params.Overwrite,
	}
	cfg.JSONOutput = params.JSONOutput
	if err := cmdutil.SetupOutputDir(cfg); err != nil {
		return err
	}

	isbns, err := collectISBNs(params.ISBNs, params.ISBNFile)
	if err != nil {
		return err
	}
	if len(isbns) == 0 {
		return fmt.Errorf("no valid ISBNs to fetch")
	}
	slog.Info("Starting ISBNdb batch", "isbns", len(isbns), "plan", params.Plan)

	// Serve what the cache already has; only the rest hits the API.
	books := make(map[string]*Book)
	notFound := make(map[string]bool)
	var misses []string
	for _, isbn := range isbns {
		if resp, ok := cachedResponse(isbn); ok {
			if resp.NotFound {
				notFound[isbn] = true
			} else {
				b := resp.Book
				books[isbn] = &b
			}
			continue
		}
		misses = append(misses, isbn)
	}
	slog.Info("Cache partition", "cached", len(isbns)-len(misses), "to_fetch", len(misses))

	summary, err := fetchMissing(context.Background(), params, misses, books, notFound)
	if err != nil {
		return err
	}

	records := buildRecords(isbns, books)

	if params.DownloadCovers {
		downloadCovers(cfg.OutputDir, records)
	}

	if cfg.WriteJSON {
		written, err := fileutil.WriteJSONFile(records, cfg.JSONOutput, params.Overwrite || config.OverwriteFiles)
		if err != nil {
			return fmt.Errorf("failed to write JSON output: %w", err)
		}
		if written {
			slog.Info("Wrote JSON output", "path", cfg.JSONOutput, "records", len(records))
		}
	}

	if viper.GetBool("datasette.enabled") {
		if err := storeRecords(records); err != nil {
			return err
		}
	}

	for isbn := range notFound {
		slog.Warn("ISBN not found in catalog", "isbn", isbn)
	}

	if summary != nil && summary.Failed > 0 {
		return fmt.Errorf("batch finished with %d failures: %s", summary.Failed, summary.ClassCounts())
	}
	return nil
}

// fetchMissing runs the retrieval engine for the uncached ISBNs.
func fetchMissing(ctx context.Context, params FetchParams, misses []string, books map[string]*Book, notFound map[string]bool) (*fetch.Summary, error) {
	if len(misses) == 0 {
		return nil, nil
	}

	client := webclient.New(webclient.WithTimeout(30 * time.Second))
	headers := map[string]string{
		"Authorization": params.APIKey,
		"Content-Type":  "application/json",
	}

	var mu sync.Mutex
	retrieve := func(ctx context.Context, task fetch.Task, _ *session.Session) ([]byte, error) {
		resp, _, err := cache.GetOrFetchWithTTL(cacheTable, task.ID,
			func() (*bookResponse, error) {
				var r bookResponse
				if err := client.GetJSON(ctx, task.URL, headers, &r); err != nil {
					if bibErrors.IsNotFoundError(err) {
						// Cache the miss so re-runs skip the network.
						return &bookResponse{NotFound: true}, nil
					}
					if bibErrors.IsAuthError(err) {
						return nil, bibErrors.NewAPIStatusError(401, err.Error())
					}
					return nil, err
				}
				return &r, nil
			},
			cache.SelectNegativeCacheTTL(func(r *bookResponse) bool {
				return r == nil || r.NotFound
			}))
		if err != nil {
			return nil, err
		}
		if resp.NotFound {
			return nil, bibErrors.NewNotFoundError("ISBN " + task.ID)
		}

		mu.Lock()
		b := resp.Book
		books[task.ID] = &b
		mu.Unlock()
		return json.Marshal(resp)
	}

	baseURL := apiBaseURL
	if baseURL == "" {
		baseURL = params.Plan.BaseURL()
	}
	tasks := make([]fetch.Task, 0, len(misses))
	for _, isbn := range misses {
		tasks = append(tasks, fetch.Task{
			ID:     isbn,
			Source: "isbndb",
			URL:    fmt.Sprintf("%s/book/%s", baseURL, isbn),
			Kind:   fetch.KindJSON,
		})
	}

	limits := ratelimit.NewRegistry(time.Second)
	limits.SetInterval("isbndb", params.Plan.Interval())

	orch := &fetch.Orchestrator{
		Worker:      &fetch.Worker{Retrieve: retrieve},
		Policy:      fetch.DefaultPolicy(),
		Limits:      limits,
		Concurrency: config.Concurrency,
	}

	summary, err := orch.Run(ctx, tasks)
	if err != nil {
		return summary, err
	}

	for _, out := range summary.Outcomes {
		if out.Status == fetch.StatusFailed && out.Classification == fetch.ClassPermanent &&
			strings.Contains(out.Message, "not found") {
			notFound[out.TaskID] = true
		}
	}
	return summary, nil
}

// cachedResponse reads a prior API answer from the sqlite cache.
// Negative entries expire on the shorter negative-cache TTL.
func cachedResponse(isbn string) (*bookResponse, bool) {
	db, err := cache.GetGlobalCache()
	if err != nil {
		return nil, false
	}

	data, found, err := db.Get(cacheTable, isbn, cache.DefaultCacheTTL)
	if err != nil || !found {
		return nil, false
	}

	var resp bookResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, false
	}

	if resp.NotFound {
		if _, stillValid, err := db.Get(cacheTable, isbn, cache.NegativeCacheTTL); err != nil || !stillValid {
			return nil, false
		}
	}
	return &resp, true
}

func buildRecords(isbns []string, books map[string]*Book) []bookRecord {
	var records []bookRecord
	for _, isbn := range isbns {
		b, ok := books[isbn]
		if !ok {
			continue
		}
		records = append(records, bookRecord{
			SourceID:    isbn,
			Source:      "isbndb",
			Title:       b.Title,
			Authors:     b.Authors,
			ISBN13:      b.ISBN13,
			Language:    b.Language,
			Publisher:   b.Publisher,
			PublishYear: publishYear(b.DatePublished),
			Pages:       b.Pages,
			Subjects:    b.Subjects,
			CoverURL:    b.Image,
			RetrievedAt: time.Now(),
		})
	}
	return records
}

func downloadCovers(outputDir string, records []bookRecord) {
	for _, rec := range records {
		if rec.CoverURL == "" {
			continue
		}
		filename := fileutil.SanitizeFilename(rec.Title) + " - cover.jpg"
		if _, err := fileutil.DownloadCover(fileutil.CoverDownloadOptions{
			URL:          rec.CoverURL,
			OutputDir:    outputDir,
			Filename:     filename,
			UpdateCovers: config.UpdateCovers,
		}); err != nil {
			slog.Warn("Failed to download cover", "title", rec.Title, "error", err)
		}
	}
}

func storeRecords(records []bookRecord) error {
	if len(records) == 0 {
		return nil
	}

	store := datastore.NewSQLiteStore(viper.GetString("datasette.dbfile"))
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.CreateTable(datastore.BookTableSchema); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, cmdutil.StructToMap(rec, cmdutil.StructToMapOptions{
			JoinStringSlices: true,
		}))
	}
	if err := store.BatchInsert("biblio", "books", rows); err != nil {
		return fmt.Errorf("failed to store book records: %w", err)
	}
	slog.Info("Stored book records", "count", len(rows))
	return nil
}

// collectISBNs merges the flag list with an optional file (one ISBN per
// line, # comments allowed), normalizes and deduplicates.
func collectISBNs(list []string, file string) ([]string, error) {
	var raw []string
	raw = append(raw, list...)

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open ISBN file: %w", err)
		}
		defer func() { _ = f.Close() }()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read ISBN file: %w", err)
		}
	}

	seen := make(map[string]bool)
	var isbns []string
	for _, r := range raw {
		isbn := formatISBN(r)
		if !validISBN(isbn) {
			slog.Warn("Skipping invalid ISBN", "isbn", r)
			continue
		}
		if seen[isbn] {
			continue
		}
		seen[isbn] = true
		isbns = append(isbns, isbn)
	}
	return isbns, nil
}

// formatISBN strips hyphens and spaces.
func formatISBN(isbn string) string {
	var b strings.Builder
	for _, r := range isbn {
		if r >= '0' && r <= '9' || r == 'X' || r == 'x' {
			if r == 'x' {
				r = 'X'
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validISBN accepts ISBN-10 (with optional X check digit) and ISBN-13.
func validISBN(isbn string) bool {
	switch len(isbn) {
	case 10:
		for _, r := range isbn[:9] {
			if r < '0' || r > '9' {
				return false
			}
		}
		last := isbn[9]
		return last == 'X' || (last >= '0' && last <= '9')
	case 13:
		for _, r := range isbn {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// publishYear extracts the year from ISBNdb date strings, which vary
// between "2004" and "2004-06-17".
func publishYear(datePublished string) int {
	if len(datePublished) < 4 {
		return 0
	}
	year, err := strconv.Atoi(datePublished[:4])
	if err != nil {
		return 0
	}
	return year
}
