// Package download retrieves purchased book files from the
// authenticated book-sharing site. The scraper's JSON catalog supplies
// the download links; a browser-driven login keeps the session alive.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/biblio/internal/cmdutil"
	"github.com/lepinkainen/biblio/internal/config"
	"github.com/lepinkainen/biblio/internal/fetch"
	"github.com/lepinkainen/biblio/internal/fileutil"
	"github.com/lepinkainen/biblio/internal/ratelimit"
	"github.com/lepinkainen/biblio/internal/session"
	"github.com/lepinkainen/biblio/internal/tui"
	"github.com/lepinkainen/biblio/internal/webclient"
)

const siteSource = "site"

// downloadLink is one file variant offered for a book.
type downloadLink struct {
	DownloadURL string `json:"download_url"`
	Format      string `json:"format"`
}

// siteBook is one entry of the scraper-produced catalog.
type siteBook struct {
	Title         string         `json:"title"`
	DownloadLinks []downloadLink `json:"download_links"`
}

// DownloadParams bundles the knobs of an authenticated download batch.
type DownloadParams struct {
	Input        string
	Titles       []string
	Output       string
	Email        string
	Password     string
	Headless     bool
	Progress     bool
	SkipExisting bool
	Overwrite    bool
}

// DownloadBooksWithParams downloads every file variant of the selected
// catalog books through the batch engine, logging in (and re-logging in
// on session expiry) via the browser collaborator.
func DownloadBooksWithParams(params DownloadParams) error {
	cfg := &cmdutil.BaseCommandConfig{
		OutputDir: params.Output,
		ConfigKey: "site",
		Overwrite: params.Overwrite,
	}
	if err := cmdutil.SetupOutputDir(cfg); err != nil {
		return err
	}

	books, err := loadBooks(params.Input)
	if err != nil {
		return err
	}
	books = filterByTitles(books, params.Titles)
	if len(books) == 0 {
		return fmt.Errorf("no catalog books matched the request")
	}

	tasks := buildTasks(books, cfg.OutputDir)
	if len(tasks) == 0 {
		return fmt.Errorf("no download links in the selected books")
	}
	slog.Info("Starting site batch", "books", len(books), "files", len(tasks))

	baseURL := siteBaseURL()
	client := webclient.New(
		webclient.WithTimeout(3*time.Minute),
		webclient.WithUserAgentRotation(),
	)

	manager := session.NewManager(session.Options{
		Login: NewBrowserLogin(LoginOptions{
			BaseURL:  baseURL,
			Email:    params.Email,
			Password: params.Password,
			Headless: params.Headless,
		}),
		Probe:     NewProfileProbe(client, baseURL),
		CachePath: sessionCachePath(),
	})

	retrieve := func(ctx context.Context, task fetch.Task, sess *session.Session) ([]byte, error) {
		var cookies map[string]string
		if sess != nil {
			cookies = sess.Cookies
		}
		return client.Get(ctx, task.URL, cookies)
	}

	journal, err := fetch.OpenJournal(filepath.Join(cfg.OutputDir, ".journal.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to open download journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	orch := &fetch.Orchestrator{
		Worker:       &fetch.Worker{Retrieve: retrieve},
		Policy:       fetch.DefaultPolicy(),
		Limits:       ratelimit.NewRegistry(time.Second),
		Sessions:     map[string]*session.Manager{siteSource: manager},
		Concurrency:  config.Concurrency,
		Journal:      journal,
		SkipExisting: params.SkipExisting,
	}

	summary, err := runWithProgress(orch, tasks, params.Progress)
	if err != nil {
		return err
	}

	slog.Info("Site batch finished",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)

	if cause := orch.HaltCause(); cause != "" {
		return fmt.Errorf("authentication failed, batch halted: %s", cause)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("batch finished with %d failures: %s", summary.Failed, summary.ClassCounts())
	}
	return nil
}

// runWithProgress runs the batch, optionally behind the terminal
// progress view. The view owns the foreground; the engine reports
// outcomes through a channel.
func runWithProgress(orch *fetch.Orchestrator, tasks []fetch.Task, progress bool) (*fetch.Summary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !progress {
		return orch.Run(ctx, tasks)
	}

	outcomes := make(chan fetch.Outcome, len(tasks))
	orch.OnOutcome = func(o fetch.Outcome) { outcomes <- o }

	type runResult struct {
		summary *fetch.Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, err := orch.Run(ctx, tasks)
		close(outcomes)
		done <- runResult{summary, err}
	}()

	if err := tui.RunBatch("site downloads", len(tasks), outcomes, cancel); err != nil {
		slog.Warn("Progress view failed, batch continues", "error", err)
	}

	res := <-done
	return res.summary, res.err
}

func buildTasks(books []siteBook, outputDir string) []fetch.Task {
	var tasks []fetch.Task
	for _, book := range books {
		for _, link := range book.DownloadLinks {
			if link.DownloadURL == "" {
				continue
			}
			ext := strings.ToLower(link.Format)
			if ext == "" {
				ext = "bin"
			}
			filename := fileutil.SanitizeFilename(book.Title) + "." + ext
			tasks = append(tasks, fetch.Task{
				ID:       filename,
				Source:   siteSource,
				URL:      link.DownloadURL,
				Kind:     fetch.KindFile,
				DestPath: filepath.Join(outputDir, filename),
			})
		}
	}
	return tasks
}

func loadBooks(path string) ([]siteBook, error) {
	if path == "" {
		return nil, fmt.Errorf("a catalog file is required (see the scraper's JSON output)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var books []siteBook
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return books, nil
}

func siteBaseURL() string {
	if u := viper.GetString("site.baseurl"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "https://zh.z-lib.fm"
}

func sessionCachePath() string {
	if p := viper.GetString("site.sessionfile"); p != "" {
		return p
	}
	return "session.json"
}
