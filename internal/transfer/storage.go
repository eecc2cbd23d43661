package transfer

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// partSuffix marks a destination that is still being received.
const partSuffix = ".part"

// PartPath returns the staging path used while dest is received.
func PartPath(dest string) string {
	return dest + partSuffix
}

// localFS is the native filesystem with paths resolved against the working
// directory, like the os package.
type localFS struct {
	osfs.ChrootOS
}

// Chroot returns a filesystem rooted at path.
func (localFS) Chroot(path string) (billy.Filesystem, error) {
	return osfs.New(path), nil
}

// Root returns the empty root: paths are used as given.
func (localFS) Root() string {
	return ""
}

// LocalFS returns the native, unrooted filesystem.
func LocalFS() billy.Filesystem {
	return &localFS{}
}

// RootedFS returns a native filesystem confined to dir.
func RootedFS(dir string) billy.Filesystem {
	return osfs.New(dir)
}

// ensureWritableDir creates dir if needed and proves it accepts new files by
// creating and removing a probe file. A probe that cannot be cleaned up is
// logged but does not fail the check.
func ensureWritableDir(fsys billy.Filesystem, dir string, logger *slog.Logger) error {
	if dir == "" {
		dir = "."
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		kind := KindIO
		if errors.Is(err, fs.ErrPermission) {
			kind = KindPermission
		}
		return NewError(kind, "receive", dir, err)
	}
	probe, err := fsys.TempFile(dir, ".paceline-probe-")
	if err != nil {
		return NewError(KindPermission, "receive", dir, errors.Join(ErrNotWritable, err))
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		logger.Warn("failed to close probe file", "path", name, "error", err)
	}
	if err := fsys.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to remove probe file", "path", name, "error", err)
	}
	return nil
}

// validDestName reports whether dest names a file rather than nothing or a
// directory.
func validDestName(dest string) bool {
	if dest == "" || os.IsPathSeparator(dest[len(dest)-1]) {
		return false
	}
	base := filepath.Base(dest)
	return base != "." && base != ".." && base != string(filepath.Separator)
}
