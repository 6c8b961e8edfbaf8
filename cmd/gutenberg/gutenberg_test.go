package gutenberg

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/biblio/internal/cache"
	"github.com/lepinkainen/biblio/internal/testutil"
	"github.com/lepinkainen/biblio/internal/webclient"
)

func setupBatchTest(t *testing.T) *testutil.TestEnv {
	t.Helper()

	testutil.SetTestConfig(t)
	env := testutil.NewTestEnv(t)
	testutil.SetupTestCache(t, env)

	require.NoError(t, cache.ResetGlobalCache())
	t.Cleanup(func() { _ = cache.ResetGlobalCache() })

	viper.Set("downloadoutputdir", env.Path("downloads"))
	viper.Set("jsonoutputdir", env.Path("json"))

	return env
}

func TestChooseDownload(t *testing.T) {
	tests := []struct {
		name       string
		downloads  map[string]string
		wantURL    string
		wantFormat string
		wantOK     bool
	}{
		{
			name: "plain text wins",
			downloads: map[string]string{
				"text_utf8": "https://example.org/84.txt.utf-8",
				"epub":      "https://example.org/84.epub",
			},
			wantURL:    "https://example.org/84.txt.utf-8",
			wantFormat: "text_utf8",
			wantOK:     true,
		},
		{
			name: "epub without images beats epub with images",
			downloads: map[string]string{
				"epub_with_images": "https://example.org/84.images.epub",
				"epub_no_images":   "https://example.org/84.epub",
			},
			wantURL:    "https://example.org/84.epub",
			wantFormat: "epub",
			wantOK:     true,
		},
		{
			name:       "html is the last resort",
			downloads:  map[string]string{"html": "https://example.org/84.html"},
			wantURL:    "https://example.org/84.html",
			wantFormat: "html",
			wantOK:     true,
		},
		{
			name:      "nothing usable",
			downloads: map[string]string{},
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotFormat, ok := chooseDownload(tt.downloads)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.wantFormat, gotFormat)
		})
	}
}

func TestInferExtension(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		format      string
		want        string
	}{
		{"format preference wins", "https://example.org/whatever", "text/html", "text_utf8", ".txt"},
		{"epub format", "https://example.org/x", "", "epub", ".epub"},
		{"mobi format", "https://example.org/x", "", "mobi", ".mobi"},
		{"html format", "https://example.org/x", "", "html", ".html"},
		{"content type plain text", "https://example.org/x", "text/plain; charset=utf-8", "", ".txt"},
		{"content type epub", "https://example.org/x", "application/epub+zip", "", ".epub"},
		{"url txt.utf-8", "https://www.gutenberg.org/ebooks/84.txt.utf-8", "", "", ".txt"},
		{"url bare zero path", "https://www.gutenberg.org/files/84/0", "", "", ".txt"},
		{"url epub", "https://www.gutenberg.org/ebooks/84.epub.noimages", "", "", ".epub"},
		{"url path extension", "https://example.org/books/84.pdf", "", "", ".pdf"},
		{"nothing known", "https://example.org/books/84", "", "", ".dat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferExtension(tt.url, tt.contentType, tt.format))
		})
	}
}

func TestLanguageTag(t *testing.T) {
	assert.Equal(t, "ENG", languageTag("en"))
	assert.Equal(t, "ENG", languageTag("English"))
	assert.Equal(t, "ZHO", languageTag("zh"))
	assert.Equal(t, "ZHO", languageTag("Chinese"))
	assert.Equal(t, "FR", languageTag("fr"))
	assert.Equal(t, "UNK", languageTag(""))
}

func TestBookFilename(t *testing.T) {
	book := &Book{
		GutenbergID: "2701",
		Title:       "Moby-Dick; or, The Whale",
		Language:    "en",
	}

	got := bookFilename(book, "text_utf8", "https://www.gutenberg.org/files/2701/2701-0.txt")
	assert.Equal(t, "2701_ENG_Moby_Dick;_or,_The_Whale.txt", got)
}

func TestLoadCatalog(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("books.json")
	env.WriteFileString(path, `[{"gutenberg_id":"84","title":"Frankenstein","language":"en","downloads":{"text_utf8":"https://example.org/84.txt"}}]`)

	books, err := loadCatalog(path)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "84", books[0].GutenbergID)
	assert.Equal(t, "Frankenstein", books[0].Title)
	assert.Equal(t, "https://example.org/84.txt", books[0].Downloads["text_utf8"])
}

func TestLoadCatalogBadJSON(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("books.json")
	env.WriteFileString(path, "not json")

	_, err := loadCatalog(path)
	require.Error(t, err)
}

func TestDownloadsFromFormats(t *testing.T) {
	downloads := downloadsFromFormats(map[string]string{
		"text/plain; charset=utf-8":      "https://example.org/84.txt",
		"application/epub+zip":           "https://example.org/84.epub",
		"application/x-mobipocket-ebook": "https://example.org/84.mobi",
		"text/html":                      "https://example.org/84.html",
		"image/jpeg":                     "https://example.org/84.jpg",
	})

	assert.Equal(t, "https://example.org/84.txt", downloads["text_utf8"])
	assert.Equal(t, "https://example.org/84.epub", downloads["epub"])
	assert.Equal(t, "https://example.org/84.mobi", downloads["mobi"])
	assert.Equal(t, "https://example.org/84.html", downloads["html"])
	assert.NotContains(t, downloads, "image/jpeg")
}

func TestLookupBookCachesIndex(t *testing.T) {
	setupBatchTest(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/books/84" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(gutendexBook{
			ID:        84,
			Title:     "Frankenstein",
			Languages: []string{"en"},
			Formats: map[string]string{
				"text/plain; charset=utf-8": "https://example.org/84.txt",
			},
		})
	}))
	t.Cleanup(srv.Close)
	gutendexBaseURL = srv.URL
	t.Cleanup(func() { gutendexBaseURL = "https://gutendex.com" })

	client := webclient.New()

	book, err := lookupBook(client, "84")
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "Frankenstein", book.Title)
	assert.Equal(t, "en", book.Language)

	// Second lookup is served from the cache.
	_, err = lookupBook(client, "84")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// Unknown IDs are negatively cached.
	missing, err := lookupBook(client, "9999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
	priorHits := hits.Load()
	_, err = lookupBook(client, "9999999")
	require.NoError(t, err)
	assert.Equal(t, priorHits, hits.Load())
}

func TestDownloadBooksEndToEnd(t *testing.T) {
	env := setupBatchTest(t)

	body := strings.Repeat("Call me Ishmael. ", 200)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	catalogPath := env.Path("books.json")
	catalog := []Book{{
		GutenbergID: "2701",
		Title:       "Moby Dick",
		Language:    "en",
		Downloads:   map[string]string{"text_utf8": srv.URL + "/files/2701/2701-0.txt"},
	}}
	data, err := json.Marshal(catalog)
	require.NoError(t, err)
	env.WriteFileString(catalogPath, string(data))

	jsonPath := env.Path("json", "gutenberg.json")
	params := DownloadParams{
		Input:        catalogPath,
		WriteJSON:    true,
		JSONOutput:   jsonPath,
		Overwrite:    true,
		SkipExisting: true,
	}

	require.NoError(t, DownloadBooksWithParams(params))
	assert.Equal(t, int64(1), hits.Load())

	bookPath := env.Path("downloads", "gutenberg", "2701_ENG_Moby_Dick.txt")
	saved, err := os.ReadFile(bookPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(saved))

	reportData, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var report []bookRecord
	require.NoError(t, json.Unmarshal(reportData, &report))
	require.Len(t, report, 1)
	assert.Equal(t, "succeeded", report[0].Status)
	assert.Equal(t, "text_utf8", report[0].Format)
	assert.Equal(t, bookPath, report[0].Path)

	// Re-run: the journal marks the book done, no new request.
	require.NoError(t, DownloadBooksWithParams(params))
	assert.Equal(t, int64(1), hits.Load())
}

func TestDownloadBooksNoUsableLink(t *testing.T) {
	env := setupBatchTest(t)

	catalogPath := env.Path("books.json")
	env.WriteFileString(catalogPath, `[{"gutenberg_id":"1","title":"Mystery","language":"en","downloads":{}}]`)

	err := DownloadBooksWithParams(DownloadParams{Input: catalogPath})
	require.NoError(t, err)
}

func TestDownloadBooksEmptyBatch(t *testing.T) {
	setupBatchTest(t)

	err := DownloadBooksWithParams(DownloadParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no books")
}
