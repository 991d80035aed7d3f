package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var recognizedExtensions = map[string]bool{
	".yml":  true,
	".yaml": true,
}

// Discover returns the paths of every recognized, non-template config file
// directly inside dir, sorted by name for deterministic worker ordering.
// Files whose name contains ".template." (e.g. "prod.template.yaml") are
// excluded, matching the discovery directory's documented convention.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, ".template.") {
			continue
		}
		if !recognizedExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}

	sort.Strings(paths)
	return paths, nil
}
