package helpers

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/liamg/memoryfs"
)

// SharedFS overlays in-memory document contents on top of the real
// filesystem. Documents that are open in an editor session live in the
// overlay; everything else is read straight from disk.
type SharedFS struct {
	memfs *memoryfs.FS
}

func NewSharedFS() *SharedFS {
	return &SharedFS{
		memfs: memoryfs.New(),
	}
}

// memfs keys must be relative, slash-separated paths
func overlayPath(name string) string {
	name = filepath.ToSlash(name)
	return strings.TrimPrefix(name, "/")
}

func (sfs *SharedFS) WriteFile(name string, content []byte) error {
	name = overlayPath(name)
	if err := sfs.memfs.MkdirAll(filepath.Dir(name), 0o700); err != nil {
		return err
	}
	return sfs.memfs.WriteFile(name, content, 0o700)
}

func (sfs *SharedFS) Remove(name string) error {
	return sfs.memfs.Remove(overlayPath(name))
}

func (sfs *SharedFS) Open(name string) (fs.File, error) {
	file, err := sfs.memfs.Open(overlayPath(name))
	if err != nil {
		return os.Open(name)
	}
	return file, nil
}

func (sfs *SharedFS) ReadFile(name string) ([]byte, error) {
	file, err := sfs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}
