package integration

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/hash"
	"github.com/danieljhkim/conserve/internal/taskfile"
)

const projectRoot = "/project"

// testFS is a filesystem implementation that tracks files in memory for testing
type testFS struct {
	files    map[string][]byte
	dirs     map[string]bool
	fileInfo map[string]os.FileInfo

	// failWrites makes AtomicWrite fail for these paths
	failWrites map[string]bool

	// writes records every successful AtomicWrite in order
	writes []string
}

func newTestFS() *testFS {
	return &testFS{
		files:      make(map[string][]byte),
		dirs:       make(map[string]bool),
		fileInfo:   make(map[string]os.FileInfo),
		failWrites: make(map[string]bool),
	}
}

// put creates a file and its parent directories.
func (fs *testFS) put(path, content string) {
	fs.files[path] = []byte(content)
	fs.fileInfo[path] = &mockFileInfo{name: filepath.Base(path), size: int64(len(content)), mode: 0644}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		fs.dirs[dir] = true
		if dir == filepath.Dir(dir) {
			break
		}
	}
}

func (fs *testFS) content(path string) (string, bool) {
	data, ok := fs.files[path]
	return string(data), ok
}

func (fs *testFS) Exists(path string) (bool, error) {
	_, hasFile := fs.files[path]
	_, hasDir := fs.dirs[path]
	return hasFile || hasDir, nil
}

func (fs *testFS) Stat(path string) (os.FileInfo, error) {
	if info, ok := fs.fileInfo[path]; ok {
		return info, nil
	}
	if _, ok := fs.dirs[path]; ok {
		return &mockFileInfo{name: filepath.Base(path), isDir: true, mode: os.ModeDir | 0755}, nil
	}
	return nil, os.ErrNotExist
}

func (fs *testFS) ReadDir(path string) ([]os.DirEntry, error) {
	if !fs.dirs[path] {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}
	seen := make(map[string]os.DirEntry)
	prefix := path + string(filepath.Separator)
	for p, info := range fs.fileInfo {
		if filepath.Dir(p) == path {
			seen[info.Name()] = iofs.FileInfoToDirEntry(info)
		}
	}
	for d := range fs.dirs {
		if strings.HasPrefix(d, prefix) && filepath.Dir(d) == path {
			name := filepath.Base(d)
			seen[name] = iofs.FileInfoToDirEntry(&mockFileInfo{name: name, isDir: true, mode: os.ModeDir | 0755})
		}
	}
	entries := make([]os.DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (fs *testFS) MkdirAll(path string, perm os.FileMode) error {
	fs.dirs[path] = true
	// Also create parent directories
	parent := filepath.Dir(path)
	if parent != path && parent != "." {
		fs.dirs[parent] = true
	}
	return nil
}

func (fs *testFS) Remove(path string) error {
	if _, ok := fs.files[path]; !ok && !fs.dirs[path] {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}
	delete(fs.files, path)
	delete(fs.dirs, path)
	delete(fs.fileInfo, path)
	return nil
}

func (fs *testFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	if fs.failWrites[path] {
		return fmt.Errorf("write %s: %w", path, os.ErrPermission)
	}
	fs.put(path, string(data))
	fs.fileInfo[path] = &mockFileInfo{name: filepath.Base(path), size: int64(len(data)), mode: perm}
	fs.writes = append(fs.writes, path)
	return nil
}

func (fs *testFS) ReadFile(path string) ([]byte, error) {
	if content, ok := fs.files[path]; ok {
		return append([]byte(nil), content...), nil
	}
	return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
}

// mockFileInfo implements os.FileInfo
type mockFileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	isDir bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return nil }

// setupTestEngine wires the real task loader, engine and plan to an
// in-memory filesystem.
func setupTestEngine(t *testing.T, settings config.Settings) (*engine.Engine, *testFS) {
	t.Helper()
	mem := newTestFS()
	mem.dirs[projectRoot] = true
	eng := engine.New(mem, taskfile.NewLoader(mem), hash.NewSHA256Hasher(), settings)
	return eng, mem
}

// path returns the absolute in-memory path of a project file.
func path(rel string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(rel))
}
