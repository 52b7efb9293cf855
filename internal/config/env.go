package config

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	// EnvAPIToken holds the catalog OAuth token
	EnvAPIToken = "CASSETTE_API_TOKEN"
	// EnvSignSecret holds the download URL signing secret
	EnvSignSecret = "CASSETTE_SIGN_SECRET"
)

// LoadEnv loads a .env file if it exists. Variables already set in the
// process environment win.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Catalog.Token = v
	}
	if v := os.Getenv(EnvSignSecret); v != "" {
		c.Catalog.SignSecret = v
	}
}
