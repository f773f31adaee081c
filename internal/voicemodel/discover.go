package voicemodel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArchiveExt is the file extension of zipped voice model packages.
const ArchiveExt = ".vvm"

// Discover lists the packages directly under dir: .vvm archives and
// directories holding a manifest. Paths are sorted.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list model dir: %w", err)
	}

	var out []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(p, ManifestFilename)); err == nil {
				out = append(out, p)
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ArchiveExt) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
