package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the commands.
type Config struct {
	// DSN of the calibration database. Empty disables storage.
	DSN       string
	OutputDir string
	Workers   int
	Profile   bool
}

// Load reads the CALIBPLOT_* variables, first loading files (".env" when
// none are given). Variables already set in the environment win. A missing
// .env file is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
	}

	cfg := &Config{
		DSN:       os.Getenv("CALIBPLOT_DSN"),
		OutputDir: os.Getenv("CALIBPLOT_OUTPUT_DIR"),
		Workers:   1,
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if v := os.Getenv("CALIBPLOT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("config: CALIBPLOT_WORKERS=%q is not a positive integer", v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("CALIBPLOT_PROFILE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: CALIBPLOT_PROFILE=%q: %w", v, err)
		}
		cfg.Profile = b
	}
	return cfg, nil
}
