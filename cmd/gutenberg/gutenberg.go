// Package gutenberg downloads public-domain books from Project
// Gutenberg. Book metadata comes from a catalog file or the Gutendex
// API; files are retrieved unauthenticated through the batch engine.
package gutenberg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lepinkainen/biblio/internal/cache"
	"github.com/lepinkainen/biblio/internal/cmdutil"
	"github.com/lepinkainen/biblio/internal/config"
	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/fetch"
	"github.com/lepinkainen/biblio/internal/fileutil"
	"github.com/lepinkainen/biblio/internal/ratelimit"
	"github.com/lepinkainen/biblio/internal/session"
	"github.com/lepinkainen/biblio/internal/webclient"
)

const cacheTable = "gutenberg_cache"

// gutendexBaseURL is overridable in tests.
var gutendexBaseURL = "https://gutendex.com"

// Book is one catalog entry: the archive ID plus the download links
// discovered for it, keyed by format (text_utf8, epub_no_images,
// epub_with_images, epub, mobi_no_images, mobi_with_images, mobi, html).
type Book struct {
	GutenbergID string            `json:"gutenberg_id"`
	Title       string            `json:"title"`
	Language    string            `json:"language"`
	Downloads   map[string]string `json:"downloads"`
}

// bookRecord is the per-book result written to the JSON report.
type bookRecord struct {
	GutenbergID string `json:"gutenberg_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Format      string `json:"format,omitempty"`
	Path        string `json:"path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DownloadParams bundles the knobs of a download batch.
type DownloadParams struct {
	IDs          []string
	Input        string
	Output       string
	WriteJSON    bool
	JSONOutput   string
	Overwrite    bool
	SkipExisting bool
}

// DownloadBooksWithParams downloads the best available format of each
// requested book into the output directory.
func DownloadBooksWithParams(params DownloadParams) error {
	cfg := &cmdutil.BaseCommandConfig{
		OutputDir: params.Output,
		ConfigKey: "gutenberg",
		WriteJSON: params.WriteJSON,
		Overwrite: params.Overwrite,
	}
	cfg.JSONOutput = params.JSONOutput
	if err := cmdutil.SetupOutputDir(cfg); err != nil {
		return err
	}

	books, records, err := collectBooks(params)
	if err != nil {
		return err
	}
	if len(books) == 0 && len(records) == 0 {
		return fmt.Errorf("no books to download")
	}
	slog.Info("Starting archive batch", "books", len(books))

	// Pick a format per book up front so task identity and destination
	// are stable across re-runs.
	var tasks []fetch.Task
	byID := make(map[string]*plannedBook)
	for i := range books {
		book := &books[i]
		downloadURL, format, ok := chooseDownload(book.Downloads)
		if !ok {
			slog.Warn("No suitable download link", "id", book.GutenbergID, "title", book.Title)
			records = append(records, bookRecord{
				GutenbergID: book.GutenbergID,
				Title:       book.Title,
				Status:      "no_url",
			})
			continue
		}
		dest := filepath.Join(cfg.OutputDir, bookFilename(book, format, downloadURL))
		byID[book.GutenbergID] = &plannedBook{book: book, format: format}
		tasks = append(tasks, fetch.Task{
			ID:       book.GutenbergID,
			Source:   "gutenberg",
			URL:      downloadURL,
			Kind:     fetch.KindFile,
			DestPath: dest,
		})
	}

	summary, err := runBatch(context.Background(), tasks, cfg.OutputDir, params.SkipExisting)
	if err != nil {
		return err
	}

	if summary != nil {
		for _, out := range summary.Outcomes {
			planned, ok := byID[out.TaskID]
			if !ok {
				continue
			}
			rec := bookRecord{
				GutenbergID: out.TaskID,
				Title:       planned.book.Title,
				Status:      string(out.Status),
				Format:      planned.format,
				Path:        out.ArtifactPath,
			}
			if out.Status == fetch.StatusFailed {
				rec.Error = out.Message
			}
			records = append(records, rec)
		}
	}

	if cfg.WriteJSON {
		written, err := fileutil.WriteJSONFile(records, cfg.JSONOutput, params.Overwrite || config.OverwriteFiles)
		if err != nil {
			return fmt.Errorf("failed to write JSON report: %w", err)
		}
		if written {
			slog.Info("Wrote download report", "path", cfg.JSONOutput, "books", len(records))
		}
	}

	if summary != nil && summary.Failed > 0 {
		return fmt.Errorf("batch finished with %d failures: %s", summary.Failed, summary.ClassCounts())
	}
	return nil
}

type plannedBook struct {
	book   *Book
	format string
}

func runBatch(ctx context.Context, tasks []fetch.Task, outputDir string, skipExisting bool) (*fetch.Summary, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	client := webclient.New(webclient.WithTimeout(90 * time.Second))
	retrieve := func(ctx context.Context, task fetch.Task, _ *session.Session) ([]byte, error) {
		return client.Get(ctx, task.URL, nil)
	}

	journal, err := fetch.OpenJournal(filepath.Join(outputDir, ".journal.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open download journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	orch := &fetch.Orchestrator{
		Worker:       &fetch.Worker{Retrieve: retrieve},
		Policy:       fetch.DefaultPolicy(),
		Limits:       ratelimit.NewRegistry(time.Second),
		Concurrency:  config.Concurrency,
		Journal:      journal,
		SkipExisting: skipExisting,
	}
	return orch.Run(ctx, tasks)
}

// collectBooks merges the catalog file with Gutendex lookups for --id
// flags. Unresolvable IDs become not_found records instead of tasks.
func collectBooks(params DownloadParams) ([]Book, []bookRecord, error) {
	var books []Book
	var records []bookRecord

	if params.Input != "" {
		catalog, err := loadCatalog(params.Input)
		if err != nil {
			return nil, nil, err
		}
		books = append(books, catalog...)
	}

	if len(params.IDs) > 0 {
		client := webclient.New(webclient.WithTimeout(30 * time.Second))
		for _, id := range params.IDs {
			book, err := lookupBook(client, id)
			if err != nil {
				return nil, nil, err
			}
			if book == nil {
				slog.Warn("Book not found in archive index", "id", id)
				records = append(records, bookRecord{GutenbergID: id, Status: "not_found"})
				continue
			}
			books = append(books, *book)
		}
	}

	return books, records, nil
}

func loadCatalog(path string) ([]Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return books, nil
}

// gutendexBook is the subset of the Gutendex /books/{id} payload we use.
type gutendexBook struct {
	ID        int               `json:"id"`
	Title     string            `json:"title"`
	Languages []string          `json:"languages"`
	Formats   map[string]string `json:"formats"`
}

// cachedLookup wraps a Gutendex answer for the cache; NotFound marks a
// negatively cached miss.
type cachedLookup struct {
	Book     *Book `json:"book,omitempty"`
	NotFound bool  `json:"not_found,omitempty"`
}

// lookupBook resolves a Gutenberg ID to a Book via the Gutendex API,
// cached in sqlite. Returns (nil, nil) for IDs the index does not know.
func lookupBook(client *webclient.Client, id string) (*Book, error) {
	result, _, err := cache.GetOrFetchWithTTL(cacheTable, id,
		func() (*cachedLookup, error) {
			var gb gutendexBook
			lookupURL := fmt.Sprintf("%s/books/%s", gutendexBaseURL, id)
			if err := client.GetJSON(context.Background(), lookupURL, nil, &gb); err != nil {
				if bibErrors.IsNotFoundError(err) {
					return &cachedLookup{NotFound: true}, nil
				}
				return nil, err
			}

			lang := ""
			if len(gb.Languages) > 0 {
				lang = gb.Languages[0]
			}
			return &cachedLookup{Book: &Book{
				GutenbergID: id,
				Title:       gb.Title,
				Language:    lang,
				Downloads:   downloadsFromFormats(gb.Formats),
			}}, nil
		},
		cache.SelectNegativeCacheTTL(func(r *cachedLookup) bool {
			return r == nil || r.NotFound
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to look up book %s: %w", id, err)
	}
	if result.NotFound {
		return nil, nil
	}
	return result.Book, nil
}

// downloadsFromFormats maps Gutendex MIME-keyed format URLs onto the
// catalog's format keys.
func downloadsFromFormats(formats map[string]string) map[string]string {
	downloads := make(map[string]string)
	for mime, u := range formats {
		switch {
		case strings.HasPrefix(mime, "text/plain") && strings.Contains(mime, "utf-8"):
			downloads["text_utf8"] = u
		case strings.HasPrefix(mime, "application/epub+zip"):
			downloads["epub"] = u
		case strings.HasPrefix(mime, "application/x-mobipocket-ebook"):
			downloads["mobi"] = u
		case strings.HasPrefix(mime, "text/html"):
			downloads["html"] = u
		}
	}
	return downloads
}

// formatPriority orders download candidates best-first: plain UTF-8
// text, then epub, mobi and finally the online HTML reader.
var formatPriority = []struct {
	format string
	key    string
}{
	{"text_utf8", "text_utf8"},
	{"epub", "epub_no_images"},
	{"epub", "epub_with_images"},
	{"epub", "epub"},
	{"mobi", "mobi_no_images"},
	{"mobi", "mobi_with_images"},
	{"mobi", "mobi"},
	{"html", "html"},
}

func chooseDownload(downloads map[string]string) (downloadURL, format string, ok bool) {
	for _, p := range formatPriority {
		if u, found := downloads[p.key]; found && u != "" {
			return u, p.format, true
		}
	}
	return "", "", false
}

// inferExtension picks a file extension for a download, preferring the
// chosen format, then the Content-Type, then URL heuristics.
func inferExtension(downloadURL, contentType, format string) string {
	switch format {
	case "text_utf8":
		return ".txt"
	case "epub":
		return ".epub"
	case "mobi":
		return ".mobi"
	case "html":
		return ".html"
	}

	switch {
	case strings.Contains(contentType, "text/plain"):
		return ".txt"
	case strings.Contains(contentType, "application/epub+zip"):
		return ".epub"
	case strings.Contains(contentType, "application/x-mobipocket-ebook"):
		return ".mobi"
	case strings.Contains(contentType, "text/html"):
		return ".html"
	}

	lower := strings.ToLower(downloadURL)
	switch {
	// The archive serves plain text as .txt.utf-8 or a bare /0 path.
	case strings.Contains(lower, "txt.utf-8") || strings.Contains(lower, "/0"):
		return ".txt"
	case strings.Contains(lower, ".epub"):
		return ".epub"
	case strings.Contains(lower, ".mobi"):
		return ".mobi"
	case strings.Contains(lower, ".html") || strings.Contains(lower, ".htm"):
		return ".html"
	}

	if parsed, err := url.Parse(downloadURL); err == nil {
		if ext := path.Ext(parsed.Path); ext != "" {
			return ext
		}
	}
	return ".dat"
}

// languageTag normalizes a language code into the uppercase tag used in
// filenames.
func languageTag(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "eng", "english":
		return "ENG"
	case "zh", "zho", "chinese":
		return "ZHO"
	case "":
		return "UNK"
	default:
		return strings.ToUpper(lang)
	}
}

// bookFilename builds the ID_LANG_Title.ext filename. Hyphens join the
// underscore collapse so titles stay shell-friendly.
func bookFilename(book *Book, format, downloadURL string) string {
	base := fmt.Sprintf("%s_%s_%s", book.GutenbergID, languageTag(book.Language), book.Title)
	base = strings.ReplaceAll(base, "-", "_")
	return fileutil.SanitizeFilename(base) + inferExtension(downloadURL, "", format)
}
