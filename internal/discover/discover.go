// Package discover enumerates input files under a data root.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern matches JSON files at any depth below the root.
const Pattern = "**/*.json"

// JSONFiles returns the absolute paths of every regular *.json file under
// root, sorted lexicographically. Dot-files are skipped; dot-directories
// are not. A missing or non-directory root is an error.
func JSONFiles(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("discover %s: not a directory", root)
	}

	matches, err := doublestar.Glob(os.DirFS(abs), Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		out = append(out, filepath.Join(abs, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}
