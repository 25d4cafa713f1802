package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestParseDefinition(t *testing.T) {
	content := []byte(`
name: docs
starting_urls: https://docs.example.com/
allowed_domains:
  - docs.example.com
max_depth: 3
schedule: "0 2 * * *"
extraction_rules:
  rules:
    - field_name: title
      css: h1
    - field_name: source
      fixed_value: docs
`)

	settings, err := ParseDefinition(content)
	require.NoError(t, err)

	assert.Equal(t, "docs", settings.Name)
	assert.Equal(t, []string{"https://docs.example.com/"}, []string(settings.StartingURLs))
	assert.Equal(t, []string{"docs.example.com"}, settings.AllowedDomains)
	assert.Equal(t, 3, settings.MaxDepth)
	assert.Equal(t, "0 2 * * *", settings.Schedule)
	require.NotNil(t, settings.ExtractionRules)
	require.Len(t, settings.ExtractionRules.Rules, 2)
	assert.Equal(t, "title", settings.ExtractionRules.Rules[0].FieldName)
	assert.Equal(t, "h1", settings.ExtractionRules.Rules[0].CSS)
	assert.Equal(t, "docs", settings.ExtractionRules.Rules[1].FixedValue)
}

func TestParseDefinitionRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "starting_urls: https://example.com/"},
		{"missing seeds", "name: docs"},
		{"relative seed", "name: docs\nstarting_urls: /relative"},
		{"bad yaml", "name: [unclosed"},
		{"unsafe name", "name: ../escape\nstarting_urls: https://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitionsSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	good := "name: good\nstarting_urls: https://example.com/\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0644))

	scheduled := "name: nightly\nstarting_urls: https://example.com/\nschedule: \"0 2 * * *\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nightly.yml"), []byte(scheduled), 0644))

	bad := "name: [broken\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0644))

	// Non-YAML files and subdirectories are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0755))

	defs, err := LoadDefinitions(dir, arbor.NewLogger())
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// ReadDir yields lexical order: good.yaml before nightly.yml.
	assert.Equal(t, "good", defs[0].Name)
	assert.Equal(t, "nightly", defs[1].Name)
	assert.Equal(t, "0 2 * * *", defs[1].Schedule)
}

func TestLoadDefinitionsMissingDir(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "does-not-exist"), arbor.NewLogger())
	require.NoError(t, err)
	assert.Empty(t, defs)
}
