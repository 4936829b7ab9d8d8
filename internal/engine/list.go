package engine

import (
	"context"
	"path/filepath"
	"strings"
)

// infoSnippetLines caps the source lines shown by Info.
const infoSnippetLines = 10

// List returns every runnable task in execution order.
func (e *Engine) List(ctx context.Context, req *ListRequest) (*ListResult, error) {
	reg, err := e.loadRegistry(ctx, req.Root)
	if err != nil {
		return nil, err
	}
	result := &ListResult{Tasks: []TaskInfo{}}
	for _, t := range reg.Sorted() {
		result.Tasks = append(result.Tasks, describe(t))
	}
	return result, nil
}

// Info returns the metadata of one task, selected by id or name, and the
// head of its definition.
func (e *Engine) Info(ctx context.Context, req *InfoRequest) (*InfoResult, error) {
	reg, err := e.loadRegistry(ctx, req.Root)
	if err != nil {
		return nil, err
	}
	t, err := reg.Lookup(req.Task)
	if err != nil {
		return nil, err
	}

	result := &InfoResult{TaskInfo: describe(t)}
	if t.Source.File == "" || t.Source.Line < 1 {
		return result, nil
	}
	data, err := e.fs.ReadFile(filepath.Join(req.Root, filepath.FromSlash(t.Source.File)))
	if err != nil {
		loggerFrom(ctx).Debug().Err(err).Str("file", t.Source.File).Msg("source unavailable")
		return result, nil
	}

	lines := strings.Split(string(data), "\n")
	end := t.Source.Line - 1 + infoSnippetLines
	if t.Source.EndLine >= t.Source.Line && t.Source.EndLine < end {
		end = t.Source.EndLine
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start := t.Source.Line - 1; start < end {
		result.Snippet = lines[start:end]
	}
	return result, nil
}
