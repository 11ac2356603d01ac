package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/notifier/internal/emails"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/shared/config"
)

func TestLoadCatalogExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"display_names":{"NewIssues":"Fresh issues"}}`), 0o600))

	c, got, err := LoadCatalog(config.Config{NotificationCatalogPath: path})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "Fresh issues", c.DisplayName(notifications.CategoryNewIssues))
	assert.Equal(t, "My new issues", c.DisplayName(notifications.CategoryMyNewIssues))
}

func TestLoadCatalogExplicitPathMustExist(t *testing.T) {
	_, _, err := LoadCatalog(config.Config{NotificationCatalogPath: filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
}

func TestLoadCatalogFallsBackToDefaults(t *testing.T) {
	c, path, err := LoadCatalog(config.Config{Env: "no-such-env"})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "New issues", c.DisplayName(notifications.CategoryNewIssues))
}

func TestNewPipelineRequiresPool(t *testing.T) {
	_, err := NewPipeline(config.Config{}, Deps{})
	require.Error(t, err)
}

func TestNewFormatterUsesConfig(t *testing.T) {
	f := NewFormatter(config.Config{ServerBaseURL: "https://sq.example", ProductName: "SonarQube", MaxIssuesPerLink: 40}, emails.DefaultCatalog())
	require.NotNil(t, f)
}
