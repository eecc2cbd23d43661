// Package manifest lists the files under a directory so a recursive put can
// recreate the tree on the server.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// FileItem represents a single file or directory in the manifest.
type FileItem struct {
	RelPath string `json:"rel_path"` // Relative path with forward slashes
	Size    int64  `json:"size"`     // File size in bytes (0 for directories)
	ModTime int64  `json:"mod_time"` // Modification time as Unix seconds
	IsDir   bool   `json:"is_dir"`
}

// Manifest is a snapshot of a directory tree.
type Manifest struct {
	Root        string     `json:"root"`  // Scanned path as given
	Items       []FileItem `json:"items"` // Sorted by RelPath
	TotalBytes  int64      `json:"total_bytes"`
	FileCount   int        `json:"file_count"`
	FolderCount int        `json:"folder_count"`
}

// Scan walks the tree rooted at rootPath on fsys. Items are sorted by
// RelPath. A plain file yields a single item named by its base name.
// Unreadable entries are skipped; the manifest is still returned together
// with an error that joins them.
func Scan(fsys billy.Filesystem, rootPath string) (Manifest, error) {
	info, err := fsys.Stat(rootPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("path does not exist: %s", rootPath)
		}
		return Manifest{}, fmt.Errorf("cannot access path: %w", err)
	}

	m := Manifest{Root: rootPath, Items: make([]FileItem, 0)}
	if !info.IsDir() {
		m.Items = append(m.Items, FileItem{
			RelPath: filepath.Base(rootPath),
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
		m.FileCount = 1
		m.TotalBytes = info.Size()
		return m, nil
	}

	var scanErrors []error
	err = util.Walk(fsys, rootPath, func(p string, fi os.FileInfo, err error) error {
		rel, relErr := filepath.Rel(rootPath, p)
		if relErr != nil {
			return fmt.Errorf("cannot compute relative path: %w", relErr)
		}
		rel = filepath.ToSlash(rel)
		if err != nil {
			scanErrors = append(scanErrors, fmt.Errorf("cannot read %s: %w", rel, err))
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		item := FileItem{RelPath: rel, ModTime: fi.ModTime().Unix(), IsDir: fi.IsDir()}
		if fi.IsDir() {
			m.FolderCount++
		} else {
			item.Size = fi.Size()
			m.FileCount++
			m.TotalBytes += fi.Size()
		}
		m.Items = append(m.Items, item)
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("error walking directory: %w", err)
	}

	sort.Slice(m.Items, func(i, j int) bool {
		return m.Items[i].RelPath < m.Items[j].RelPath
	})

	if len(scanErrors) > 0 {
		return m, fmt.Errorf("scan completed with %d error(s): %w", len(scanErrors), errors.Join(scanErrors...))
	}
	return m, nil
}

// Files returns the regular files, in RelPath order.
func (m Manifest) Files() []FileItem {
	files := make([]FileItem, 0, m.FileCount)
	for _, item := range m.Items {
		if !item.IsDir {
			files = append(files, item)
		}
	}
	return files
}

// LocalPath joins item onto the scanned root in host path syntax.
func (m Manifest) LocalPath(item FileItem) string {
	if m.FileCount == 1 && len(m.Items) == 1 && !m.Items[0].IsDir && filepath.Base(m.Root) == item.RelPath {
		return m.Root
	}
	return filepath.Join(m.Root, filepath.FromSlash(item.RelPath))
}

// RemotePath places item under dir, a slash-separated remote directory that
// may be empty.
func RemotePath(dir string, item FileItem) string {
	if dir == "" {
		return item.RelPath
	}
	return path.Join(strings.TrimSuffix(dir, "/"), item.RelPath)
}
