package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/conserve/internal/fsops"
)

// Task file locations.
const (
	TaskDir        = ".conserve"
	SingleFile     = ".conserve.hcl"
	SingleModule   = "conserve"
	TaskFileExt    = ".hcl"
	primarySuffix  = "_conserve"
	aliasSuffix    = "_conf"
	primaryKeyword = "conserve"
	aliasKeyword   = "conf"
)

// File is a task file found under the project root.
type File struct {
	// Path is the absolute path
	Path string

	// Rel is the path relative to the project root
	Rel string

	// Module is the dotted module id derived from Rel
	Module string
}

// ModuleID derives the dotted module id from a root-relative path.
func ModuleID(rel string) string {
	rel = filepath.ToSlash(rel)
	if rel == SingleFile {
		return SingleModule
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, "/", ".")
}

// classifyFile reports the kind of a task file name without its extension.
func classifyFile(base string) Kind {
	switch {
	case strings.HasPrefix(base, PrivateMarker):
		return Private
	case strings.HasPrefix(base, PrimaryPrefix), strings.HasSuffix(base, primarySuffix):
		return Primary
	case strings.HasPrefix(base, AliasPrefix), strings.HasSuffix(base, aliasSuffix):
		return Alias
	default:
		return Ignored
	}
}

// primaryTwin maps an alias file name to the primary name it yields to.
func primaryTwin(base string) string {
	return strings.ReplaceAll(base, aliasKeyword, primaryKeyword)
}

// DiscoverFiles lists the task files of root, sorted by relative path.
// The .conserve directory is scanned without recursion; the single
// .conserve.hcl file is used only when that directory does not exist.
func DiscoverFiles(fs fsops.FS, root string) ([]File, error) {
	dir := filepath.Join(root, TaskDir)
	entries, err := fs.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		single := filepath.Join(root, SingleFile)
		ok, err := fs.Exists(single)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", single, err)
		}
		if !ok {
			return nil, nil
		}
		return []File{{Path: single, Rel: SingleFile, Module: SingleModule}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task directory: %w", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != TaskFileExt {
			continue
		}
		names[strings.TrimSuffix(e.Name(), TaskFileExt)] = true
	}

	var files []File
	for base := range names {
		switch classifyFile(base) {
		case Private, Ignored:
			continue
		case Alias:
			if twin := primaryTwin(base); twin != base && names[twin] {
				continue
			}
		}
		rel := filepath.Join(TaskDir, base+TaskFileExt)
		files = append(files, File{
			Path:   filepath.Join(root, rel),
			Rel:    filepath.ToSlash(rel),
			Module: ModuleID(rel),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}
