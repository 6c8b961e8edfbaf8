package cmd

import (
	"os"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/biblio/cmd/download"
	"github.com/lepinkainen/biblio/cmd/gutenberg"
	"github.com/lepinkainen/biblio/cmd/isbndb"
	"github.com/lepinkainen/biblio/internal/config"
)

func resetCmdState(t *testing.T) {
	origOverwrite := config.OverwriteFiles
	origUpdate := config.UpdateCovers
	origConcurrency := config.Concurrency

	t.Cleanup(func() {
		config.OverwriteFiles = origOverwrite
		config.UpdateCovers = origUpdate
		config.Concurrency = origConcurrency
		viper.Reset()
	})

	viper.Reset()
}

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	originalArgs := os.Args
	os.Args = append([]string{"biblio"}, args...)
	t.Cleanup(func() { os.Args = originalArgs })

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("biblio"),
		kong.Description("A tool to retrieve book metadata and files from catalog sources."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)

	return cli, ctx
}

func TestUpdateGlobalConfig(t *testing.T) {
	resetCmdState(t)

	cli := &CLI{
		Overwrite:    true,
		UpdateCovers: true,
		Concurrency:  8,
		Datasette:    false,
		DatasetteDB:  "/tmp/biblio.db",
		CacheDBFile:  "/tmp/cache.db",
		CacheTTL:     "12h",
	}

	updateGlobalConfig(cli)

	assert.True(t, config.OverwriteFiles)
	assert.True(t, config.UpdateCovers)
	assert.Equal(t, 8, config.Concurrency)
	assert.False(t, viper.GetBool("datasette.enabled"))
	assert.Equal(t, "/tmp/biblio.db", viper.GetString("datasette.dbfile"))
	assert.Equal(t, "/tmp/cache.db", viper.GetString("cache.dbfile"))
	assert.Equal(t, "12h", viper.GetString("cache.ttl"))
}

func TestIsbndbCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "isbndb",
		"--isbn", "9780134685991",
		"--isbn", "0306406152",
		"--plan", "premium",
		"--api-key", "test-key",
		"-o", "books",
		"--json",
		"--covers")

	assert.Equal(t, []string{"9780134685991", "0306406152"}, cli.Isbndb.ISBN)
	assert.Equal(t, "premium", cli.Isbndb.Plan)
	assert.Equal(t, "test-key", cli.Isbndb.APIKey)
	assert.Equal(t, "books", cli.Isbndb.Output)
	assert.True(t, cli.Isbndb.JSON)
	assert.True(t, cli.Isbndb.Covers)
}

func TestIsbndbRunDelegates(t *testing.T) {
	resetCmdState(t)

	var got isbndb.FetchParams
	orig := fetchISBNs
	fetchISBNs = func(params isbndb.FetchParams) error {
		got = params
		return nil
	}
	t.Cleanup(func() { fetchISBNs = orig })

	cli, ctx := parseCLI(t, "isbndb", "--isbn", "9780134685991", "--api-key", "test-key", "--plan", "pro")
	updateGlobalConfig(cli)
	require.NoError(t, ctx.Run())

	assert.Equal(t, []string{"9780134685991"}, got.ISBNs)
	assert.Equal(t, isbndb.PlanPro, got.Plan)
	assert.Equal(t, "test-key", got.APIKey)
}

func TestIsbndbAPIKeyFallsBackToConfig(t *testing.T) {
	resetCmdState(t)
	viper.Set("isbndb.apikey", "from-config")

	var got isbndb.FetchParams
	orig := fetchISBNs
	fetchISBNs = func(params isbndb.FetchParams) error {
		got = params
		return nil
	}
	t.Cleanup(func() { fetchISBNs = orig })

	_, ctx := parseCLI(t, "isbndb", "--isbn", "9780134685991")
	require.NoError(t, ctx.Run())

	assert.Equal(t, "from-config", got.APIKey)
}

func TestGutenbergCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "gutenberg", "--id", "84", "--id", "2701", "--no-skip-existing")

	assert.Equal(t, []string{"84", "2701"}, cli.Gutenberg.ID)
	assert.False(t, cli.Gutenberg.SkipExisting)
	assert.Equal(t, "gutenberg", cli.Gutenberg.Output)
}

func TestGutenbergRequiresInput(t *testing.T) {
	resetCmdState(t)

	_, ctx := parseCLI(t, "gutenberg")
	err := ctx.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book IDs or a catalog file are required")
}

func TestGutenbergRunDelegates(t *testing.T) {
	resetCmdState(t)

	var got gutenberg.DownloadParams
	orig := downloadGutenberg
	downloadGutenberg = func(params gutenberg.DownloadParams) error {
		got = params
		return nil
	}
	t.Cleanup(func() { downloadGutenberg = orig })

	_, ctx := parseCLI(t, "gutenberg", "-f", "books.json", "--json")
	require.NoError(t, ctx.Run())

	assert.Equal(t, "books.json", got.Input)
	assert.True(t, got.WriteJSON)
	assert.True(t, got.SkipExisting)
}

func TestDownloadCommandParsing(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "download",
		"-f", "books.json",
		"--title", "Moby Dick",
		"--email", "reader@example.com",
		"--password", "hunter2",
		"--no-headless",
		"--no-progress")

	assert.Equal(t, "books.json", cli.Download.Input)
	assert.Equal(t, []string{"Moby Dick"}, cli.Download.Title)
	assert.Equal(t, "reader@example.com", cli.Download.Email)
	assert.False(t, cli.Download.Headless)
	assert.False(t, cli.Download.Progress)
}

func TestDownloadRequiresInput(t *testing.T) {
	resetCmdState(t)

	_, ctx := parseCLI(t, "download")
	err := ctx.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input catalog file is required")
}

func TestDownloadCredentialsFallBackToConfig(t *testing.T) {
	resetCmdState(t)
	config.LoginEmail = "reader@example.com"
	config.LoginPassword = "hunter2"
	t.Cleanup(func() {
		config.LoginEmail = ""
		config.LoginPassword = ""
	})

	var got download.DownloadParams
	orig := downloadSite
	downloadSite = func(params download.DownloadParams) error {
		got = params
		return nil
	}
	t.Cleanup(func() { downloadSite = orig })

	_, ctx := parseCLI(t, "download", "-f", "books.json")
	require.NoError(t, ctx.Run())

	assert.Equal(t, "reader@example.com", got.Email)
	assert.Equal(t, "hunter2", got.Password)
	assert.True(t, got.Headless)
	assert.True(t, got.Progress)
}

func TestCLIDefaultFlags(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t, "isbndb", "--isbn", "9780134685991")

	assert.False(t, cli.Overwrite, "Overwrite should default to false")
	assert.False(t, cli.UpdateCovers, "UpdateCovers should default to false")
	assert.Equal(t, 4, cli.Concurrency, "Concurrency should default to 4")
	assert.True(t, cli.Datasette, "Datasette should default to true")
	assert.Equal(t, "./biblio.db", cli.DatasetteDB, "DatasetteDB should default to ./biblio.db")
	assert.Equal(t, "./cache.db", cli.CacheDBFile, "CacheDBFile should default to ./cache.db")
	assert.Equal(t, "720h", cli.CacheTTL, "CacheTTL should default to 720h")
	assert.Equal(t, "basic", cli.Isbndb.Plan, "Plan should default to basic")
}

func TestCLIFlagsOverrideDefaults(t *testing.T) {
	resetCmdState(t)

	cli, _ := parseCLI(t,
		"--overwrite",
		"--update-covers",
		"--concurrency", "2",
		"--datasette=false",
		"--datasette-db", "/custom/biblio.db",
		"--cache-db-file", "/custom/cache.db",
		"--cache-ttl", "24h",
		"isbndb", "--isbn", "9780134685991")

	assert.True(t, cli.Overwrite)
	assert.True(t, cli.UpdateCovers)
	assert.Equal(t, 2, cli.Concurrency)
	assert.False(t, cli.Datasette)
	assert.Equal(t, "/custom/biblio.db", cli.DatasetteDB)
	assert.Equal(t, "/custom/cache.db", cli.CacheDBFile)
	assert.Equal(t, "24h", cli.CacheTTL)
}
