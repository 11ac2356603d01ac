package emails

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"issue-notifications/notifier/internal/notifications"
)

type catalogFile struct {
	DisplayNames map[string]string `json:"display_names"`
}

type Catalog struct {
	names map[string]string
}

func DefaultCatalog() Catalog {
	return Catalog{names: map[string]string{
		notifications.CategoryChangesOnMyIssue:      "Changes in issues assigned to me",
		notifications.CategoryNewFalsePositiveIssue: "Issues resolved as false positive or accepted",
		notifications.CategoryNewIssues:             "New issues",
		notifications.CategoryMyNewIssues:           "My new issues",
	}}
}

// LoadCatalog overlays the names found in a JSON file on the defaults.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{}, errors.New("catalog path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	c := DefaultCatalog()
	for key, name := range f.DisplayNames {
		key = strings.TrimSpace(key)
		if key == "" {
			return Catalog{}, errors.New("catalog entry must have a dispatcher key")
		}
		if strings.TrimSpace(name) == "" {
			return Catalog{}, fmt.Errorf("catalog entry %q must have a display name", key)
		}
		c.names[key] = strings.TrimSpace(name)
	}
	return c, nil
}

func (c Catalog) DisplayName(dispatcherKey string) string {
	if v, ok := c.names[dispatcherKey]; ok {
		return v
	}
	return dispatcherKey
}

func DefaultCatalogPath(env string) (string, error) {
	root, err := findConfigsRoot()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(env) == "" {
		env = "dev"
	}
	return filepath.Join(root, "configs", env+".notifications.json"), nil
}

func findConfigsRoot() (string, error) {
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("configs directory not found")
}
