package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lepinkainen/biblio/cmd/download"
	"github.com/lepinkainen/biblio/cmd/gutenberg"
	"github.com/lepinkainen/biblio/cmd/isbndb"
	"github.com/lepinkainen/biblio/internal/config"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

var (
	fetchISBNs        = isbndb.FetchISBNsWithParams
	downloadGutenberg = gutenberg.DownloadBooksWithParams
	downloadSite      = download.DownloadBooksWithParams
)

// CLI represents the complete command structure for the biblio application
type CLI struct {
	// Global flags
	Overwrite    bool `help:"Overwrite existing output files when processing"`
	UpdateCovers bool `help:"Re-download cover images even if they already exist"`
	Concurrency  int  `help:"Maximum simultaneous retrievals per batch" default:"4"`

	// Datasette flags
	Datasette   bool   `help:"Enable Datasette output" default:"true"`
	DatasetteDB string `help:"Path to SQLite database file" default:"./biblio.db"`

	// Cache flags
	CacheDBFile string `help:"Path to cache SQLite database file" default:"./cache.db"`
	CacheTTL    string `help:"Cache time-to-live duration (e.g., 720h for 30 days)" default:"720h"`

	Isbndb    IsbndbCmd    `cmd:"" help:"Fetch book metadata from the ISBNdb API"`
	Gutenberg GutenbergCmd `cmd:"" help:"Download public-domain books from Project Gutenberg"`
	Download  DownloadCmd  `cmd:"" help:"Download book files from the authenticated site"`
}

// IsbndbCmd represents the isbndb metadata fetch command
type IsbndbCmd struct {
	ISBN       []string `help:"ISBNs to fetch (repeatable)"`
	Input      string   `short:"f" help:"Path to a file with one ISBN per line"`
	Plan       string   `help:"ISBNdb subscription plan" enum:"basic,premium,pro" default:"basic"`
	APIKey     string   `help:"ISBNdb API key"`
	Output     string   `short:"o" help:"Subdirectory under download directory for ISBNdb output" default:"isbndb"`
	JSON       bool     `help:"Write records to JSON format"`
	JSONOutput string   `help:"Path to JSON output file (defaults to json/isbndb.json)"`
	Covers     bool     `help:"Download cover images for fetched books"`
}

// GutenbergCmd represents the public-domain download command
type GutenbergCmd struct {
	ID           []string `help:"Gutenberg book IDs to download (repeatable)"`
	Input        string   `short:"f" help:"Path to a JSON catalog of books with download links"`
	Output       string   `short:"o" help:"Subdirectory under download directory for Gutenberg files" default:"gutenberg"`
	JSON         bool     `help:"Write a JSON download report"`
	JSONOutput   string   `help:"Path to JSON report file (defaults to json/gutenberg.json)"`
	SkipExisting bool     `help:"Skip downloads whose file already exists" default:"true" negatable:""`
}

// DownloadCmd represents the authenticated site download command
type DownloadCmd struct {
	Input        string   `short:"f" help:"Path to the scraper-produced JSON catalog"`
	Title        []string `help:"Only download books matching these titles (fuzzy, repeatable)"`
	Output       string   `short:"o" help:"Subdirectory under download directory for site files" default:"site"`
	Email        string   `help:"Account email for the site login"`
	Password     string   `help:"Account password for the site login"`
	Headless     bool     `help:"Run the login browser headless" default:"true" negatable:""`
	Progress     bool     `help:"Show the interactive progress view" default:"true" negatable:""`
	SkipExisting bool     `help:"Skip downloads whose file already exists" default:"true" negatable:""`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging()
	initConfig()

	// Create CLI instance
	var cli CLI

	// Parse command line with Kong
	ctx := kong.Parse(&cli,
		kong.Name("biblio"),
		kong.Description("A tool to retrieve book metadata and files from catalog sources."),
		kong.UsageOnError(),
	)

	// Update global config based on parsed flags
	updateGlobalConfig(&cli)

	// Execute the selected command
	err := ctx.Run()
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetDefault("JSONOutputDir", "./json/")
	viper.SetDefault("DownloadOutputDir", "./downloads/")
	viper.SetDefault("OverwriteFiles", false)
	viper.SetDefault("Concurrency", 4)

	// Datasette defaults
	viper.SetDefault("datasette.enabled", true)
	viper.SetDefault("datasette.dbfile", "./biblio.db")

	// Cache defaults
	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "720h") // 30 days

	// Site defaults
	viper.SetDefault("site.baseurl", "https://zh.z-lib.fm")
	viper.SetDefault("site.sessionfile", "session.json")

	// A local .env supplies credentials during development; missing is fine
	_ = godotenv.Load()

	// Enable environment variable support
	viper.AutomaticEnv()
	// Bind specific environment variables to config keys
	for key, envVar := range map[string]string{
		"ISBNdbAPIKey":  "ISBNDB_API_KEY",
		"LoginEmail":    "BIBLIO_EMAIL",
		"LoginPassword": "BIBLIO_PASSWORD",
	} {
		if err := viper.BindEnv(key, envVar); err != nil {
			slog.Error("Failed to bind environment variable", "key", key, "error", err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("Config file not found, writing default config file...")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
			os.Exit(0)
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}

	// Initialize global config
	config.InitConfig()
}

func updateGlobalConfig(cli *CLI) {
	// Update config based on CLI flags
	config.SetOverwriteFiles(cli.Overwrite)
	config.SetUpdateCovers(cli.UpdateCovers)
	config.SetConcurrency(cli.Concurrency)

	// Update datasette config
	viper.Set("datasette.enabled", cli.Datasette)
	viper.Set("datasette.dbfile", cli.DatasetteDB)

	// Update cache config
	viper.Set("cache.dbfile", cli.CacheDBFile)
	viper.Set("cache.ttl", cli.CacheTTL)
}

// Run methods for each command

func (i *IsbndbCmd) Run() error {
	// Read from config if values not provided via flags
	apiKey := i.APIKey
	if apiKey == "" {
		apiKey = viper.GetString("isbndb.apikey")
	}
	if apiKey == "" {
		apiKey = config.ISBNdbAPIKey
	}

	plan, err := isbndb.ParsePlan(i.Plan)
	if err != nil {
		return err
	}

	return fetchISBNs(isbndb.FetchParams{
		ISBNs:          i.ISBN,
		ISBNFile:       i.Input,
		Plan:           plan,
		APIKey:         apiKey,
		Output:         i.Output,
		WriteJSON:      i.JSON,
		JSONOutput:     i.JSONOutput,
		DownloadCovers: i.Covers,
		Overwrite:      config.OverwriteFiles,
	})
}

func (g *GutenbergCmd) Run() error {
	if len(g.ID) == 0 && g.Input == "" {
		return fmt.Errorf("book IDs or a catalog file are required (provide via --id or --input)")
	}

	return downloadGutenberg(gutenberg.DownloadParams{
		IDs:          g.ID,
		Input:        g.Input,
		Output:       g.Output,
		WriteJSON:    g.JSON,
		JSONOutput:   g.JSONOutput,
		Overwrite:    config.OverwriteFiles,
		SkipExisting: g.SkipExisting,
	})
}

func (d *DownloadCmd) Run() error {
	// Read from config if values not provided via flags
	input := d.Input
	if input == "" {
		input = viper.GetString("site.catalogfile")
	}
	if input == "" {
		return fmt.Errorf("input catalog file is required (provide via --input flag or site.catalogfile in config)")
	}

	email := d.Email
	if email == "" {
		email = config.LoginEmail
	}
	password := d.Password
	if password == "" {
		password = config.LoginPassword
	}

	return downloadSite(download.DownloadParams{
		Input:        input,
		Titles:       d.Title,
		Output:       d.Output,
		Email:        email,
		Password:     password,
		Headless:     d.Headless,
		Progress:     d.Progress,
		SkipExisting: d.SkipExisting,
		Overwrite:    config.OverwriteFiles,
	})
}

func initLogging() {
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: slog.LevelInfo,
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}
