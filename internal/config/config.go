package config

import (
	"github.com/spf13/viper"
)

// Global configuration variables
var (
	// OverwriteFiles controls whether existing output files should be overwritten
	OverwriteFiles bool
	// UpdateCovers forces re-downloading cover images even when present
	UpdateCovers bool
	// Concurrency is the maximum number of in-flight retrievals per batch
	Concurrency int
	// ISBNdbAPIKey is the API key for the ISBNdb catalog API
	ISBNdbAPIKey string
	// LoginEmail is the account email for authenticated download sources
	LoginEmail string
	// LoginPassword is the account password for authenticated download sources
	LoginPassword string
)

// InitConfig initializes the global configuration
func InitConfig() {
	// Set default values
	viper.SetDefault("JSONOutputDir", "./json/")
	viper.SetDefault("DownloadOutputDir", "./downloads/")
	viper.SetDefault("OverwriteFiles", false)
	viper.SetDefault("Concurrency", 4)

	// Get values from viper
	OverwriteFiles = viper.GetBool("OverwriteFiles")
	Concurrency = viper.GetInt("Concurrency")
	ISBNdbAPIKey = viper.GetString("ISBNdbAPIKey")
	LoginEmail = viper.GetString("LoginEmail")
	LoginPassword = viper.GetString("LoginPassword")
}

// SetOverwriteFiles sets the OverwriteFiles flag
func SetOverwriteFiles(overwrite bool) {
	OverwriteFiles = overwrite
}

// SetUpdateCovers sets the UpdateCovers flag
func SetUpdateCovers(update bool) {
	UpdateCovers = update
}

// SetConcurrency sets the batch concurrency limit
func SetConcurrency(n int) {
	if n > 0 {
		Concurrency = n
	}
}
