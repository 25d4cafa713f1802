package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"gopkg.in/yaml.v3"
)

// ParseDefinition parses YAML crawl definition content and validates the
// resulting settings.
func ParseDefinition(content []byte) (*models.CrawlSettings, error) {
	var settings models.CrawlSettings
	if err := yaml.Unmarshal(content, &settings); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl definition: %w", err)
	}
	return &settings, nil
}

// LoadDefinition reads and parses a single crawl definition file.
func LoadDefinition(path string) (*models.CrawlSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return ParseDefinition(data)
}

// LoadDefinitions reads every .yaml/.yml crawl definition under dir, in
// lexical order. A file that fails to parse or validate is skipped with a
// warning so one bad definition cannot block startup. A missing directory
// yields no definitions.
func LoadDefinitions(dir string, logger arbor.ILogger) ([]models.CrawlSettings, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Str("dir", dir).Msg("Definitions directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory %s: %w", dir, err)
	}

	var defs []models.CrawlSettings
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		settings, err := LoadDefinition(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Skipping invalid crawl definition")
			continue
		}

		logger.Debug().
			Str("file", path).
			Str("name", settings.Name).
			Str("schedule", settings.Schedule).
			Msg("Crawl definition loaded")
		defs = append(defs, *settings)
	}

	logger.Info().Int("count", len(defs)).Str("dir", dir).Msg("Crawl definitions loaded")
	return defs, nil
}
