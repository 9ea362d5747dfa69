package jsonimport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BatchFile is a batch document found on disk
type BatchFile struct {
	Name string
	Path string
	Size int64
}

// ListBatchFiles returns the *.json files directly inside dir, ordered by name.
// Subdirectories are not descended into.
func ListBatchFiles(dir string) ([]BatchFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]BatchFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, BatchFile{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open opens the file for reading
func (f BatchFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}
