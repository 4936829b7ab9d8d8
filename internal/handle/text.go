package handle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danieljhkim/conserve/internal/fsops"
)

// TextHandle manages a plain text file as a list of lines, for files such as
// .gitignore where entries should be present or absent.
type TextHandle struct {
	path   string
	fs     fsops.FS
	stager Stager

	lines  []string
	parsed []string
	source []byte
	loaded bool
	err    error
}

// NewText returns an unloaded text handle for path.
func NewText(path string, opts ...Option) *TextHandle {
	c := newConfig(opts)
	return &TextHandle{path: path, fs: c.fs, stager: c.stager}
}

// Path returns the handle's own path.
func (h *TextHandle) Path() string {
	return h.path
}

// Err returns the first error raised by a chained operation.
func (h *TextHandle) Err() error {
	return h.err
}

// Load (re)reads the file or its staged content; a missing file has no lines.
func (h *TextHandle) Load() *TextHandle {
	data, exists, err := readCurrent(h.fs, h.stager, h.path)
	if err != nil {
		if h.err == nil {
			h.err = fmt.Errorf("failed to read %s: %w", h.path, err)
		}
		return h
	}
	h.source = nil
	h.lines = nil
	if exists {
		h.source = data
		h.lines = splitLines(string(data))
	}
	h.parsed = slices.Clone(h.lines)
	h.loaded = true
	return h
}

// Lines returns a copy of the current lines.
func (h *TextHandle) Lines() ([]string, error) {
	h.ensureLoaded()
	return slices.Clone(h.lines), h.err
}

// Present appends each line that is not already in the file.
func (h *TextHandle) Present(lines ...string) *TextHandle {
	h.ensureLoaded()
	for _, line := range lines {
		if !slices.Contains(h.lines, line) {
			h.lines = append(h.lines, line)
		}
	}
	return h
}

// Absent removes every occurrence of each line.
func (h *TextHandle) Absent(lines ...string) *TextHandle {
	h.ensureLoaded()
	h.lines = slices.DeleteFunc(h.lines, func(l string) bool {
		return slices.Contains(lines, l)
	})
	return h
}

// Save writes or stages the lines joined by newlines.
func (h *TextHandle) Save(opts SaveOptions) error {
	h.ensureLoaded()
	if h.err != nil {
		return h.err
	}
	target := h.path
	if opts.Path != "" {
		target = opts.Path
	}
	return deliver(h.fs, h.stager, target, h.serialize(), opts.Staged())
}

func (h *TextHandle) serialize() []byte {
	if h.source != nil && slices.Equal(h.lines, h.parsed) {
		return slices.Clone(h.source)
	}
	if len(h.lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(h.lines, "\n") + "\n")
}

func (h *TextHandle) ensureLoaded() {
	if !h.loaded && h.err == nil {
		h.Load()
	}
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
