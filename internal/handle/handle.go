// Package handle binds a file path to an in-memory, format-aware document.
//
// A Handle loads a file through its codec, lets callers replace, merge or
// prune the logical value, and saves the result either straight to disk or
// into a Stager for a later batched commit. Every mutating method returns the
// Handle so edits can be chained; the first error sticks and is reported by
// Err, Read and Save.
package handle

import (
	"errors"
	"fmt"

	"github.com/danieljhkim/conserve/internal/codec"
	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/merge"
)

// ErrNoStager is returned when a staged save is requested on a handle that
// has nowhere to stage.
var ErrNoStager = errors.New("no stager configured for staged save")

// Stager accepts serialized content for a deferred write.
type Stager interface {
	Stage(path string, content []byte) error
}

// PendingReader is implemented by stagers that can hand back content staged
// earlier, so a later load sees it instead of the file on disk.
type PendingReader interface {
	Pending(path string) ([]byte, bool)
}

// StageMode selects how Save delivers content.
type StageMode int

const (
	// StageInfer stages when saving to the handle's own path and writes
	// directly when saving elsewhere.
	StageInfer StageMode = iota
	// StageAlways hands content to the Stager.
	StageAlways
	// StageNever writes to disk immediately.
	StageNever
)

func (m StageMode) String() string {
	switch m {
	case StageAlways:
		return "always"
	case StageNever:
		return "never"
	default:
		return "infer"
	}
}

// SaveOptions controls where and how Save writes.
type SaveOptions struct {
	// Path overrides the handle's own path as the save target.
	Path string

	// Stage selects staged or direct delivery.
	Stage StageMode
}

// Staged resolves the stage mode for these options.
func (o SaveOptions) Staged() bool {
	switch o.Stage {
	case StageAlways:
		return true
	case StageNever:
		return false
	default:
		return o.Path == ""
	}
}

// Option configures a handle.
type Option func(*config)

type config struct {
	fs     fsops.FS
	stager Stager
	format string
}

// WithFS sets the filesystem used for reads and direct writes.
func WithFS(fs fsops.FS) Option {
	return func(c *config) { c.fs = fs }
}

// WithStager sets the destination for staged saves.
func WithStager(s Stager) Option {
	return func(c *config) { c.stager = s }
}

// WithFormat forces a codec instead of inferring one from the extension.
func WithFormat(name string) Option {
	return func(c *config) { c.format = name }
}

func newConfig(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.fs == nil {
		c.fs = fsops.NewRealFS()
	}
	return c
}

// Handle is a session over one structured file. Handles are independent:
// two handles on the same path never share a document.
type Handle struct {
	path   string
	codec  codec.Codec
	fs     fsops.FS
	stager Stager
	doc    *codec.Document
	err    error
}

// New returns an unloaded handle for path.
func New(path string, opts ...Option) (*Handle, error) {
	c := newConfig(opts)

	var (
		cd  codec.Codec
		err error
	)
	if c.format != "" {
		cd, err = codec.ByName(c.format)
	} else {
		cd, err = codec.ForPath(path)
	}
	if err != nil {
		return nil, err
	}

	return &Handle{
		path:   path,
		codec:  cd,
		fs:     c.fs,
		stager: c.stager,
	}, nil
}

// Path returns the file the handle loads from and saves to by default.
func (h *Handle) Path() string {
	return h.path
}

// Format returns the codec format name.
func (h *Handle) Format() string {
	return h.codec.Format()
}

// Err returns the first error raised by a chained operation.
func (h *Handle) Err() error {
	return h.err
}

// Loaded reports whether the handle holds a document.
func (h *Handle) Loaded() bool {
	return h.doc != nil
}

// Load (re)reads the file, or its staged content when the stager holds one.
// A missing file yields an empty document; unsaved changes are discarded.
func (h *Handle) Load() *Handle {
	data, exists, err := readCurrent(h.fs, h.stager, h.path)
	if err != nil {
		h.fail(fmt.Errorf("failed to read %s: %w", h.path, err))
		return h
	}
	if !exists {
		h.doc = codec.NewDocument(h.codec)
		return h
	}
	doc, err := codec.ParseDocument(h.codec, data)
	if err != nil {
		h.fail(&codec.ParseError{Path: h.path, Format: h.codec.Format(), Err: err})
		return h
	}
	h.doc = doc
	return h
}

// Read returns a copy of the current logical value.
func (h *Handle) Read() (any, error) {
	if !h.ensureLoaded() {
		return nil, h.err
	}
	return h.doc.Value(), h.err
}

// Replace substitutes value as the whole document, dropping the previous
// content and its formatting.
func (h *Handle) Replace(value any) *Handle {
	if h.doc == nil {
		h.doc = codec.NewDocument(h.codec)
	}
	h.doc.Replace(value)
	return h
}

// Merge deep-merges patch into the document.
func (h *Handle) Merge(patch any) *Handle {
	return h.MergeWith(patch, merge.Deep)
}

// MergeWith merges patch into the document using strategy.
func (h *Handle) MergeWith(patch any, strategy merge.Strategy) *Handle {
	if !h.ensureLoaded() {
		return h
	}
	var mergeErr error
	h.doc.Update(func(cur any) any {
		out, err := merge.Apply(strategy, cur, merge.Normalize(patch))
		if err != nil {
			mergeErr = err
			return cur
		}
		return out
	})
	if mergeErr != nil {
		h.fail(mergeErr)
	}
	return h
}

// Set stores value at a dotted path, creating intermediate mappings.
func (h *Handle) Set(dotted string, value any) *Handle {
	if !h.ensureLoaded() {
		return h
	}
	h.doc.Update(func(cur any) any {
		m, ok := cur.(map[string]any)
		if !ok {
			m = map[string]any{}
		}
		merge.SetPath(m, merge.SplitPath(dotted), merge.Normalize(value))
		return m
	})
	return h
}

// Delete removes dotted paths. Missing paths are ignored.
func (h *Handle) Delete(paths ...string) *Handle {
	if !h.ensureLoaded() {
		return h
	}
	h.doc.Update(func(cur any) any {
		for _, p := range paths {
			merge.DeletePath(cur, merge.SplitPath(p))
		}
		return cur
	})
	return h
}

// Changed reports whether the document differs from what was loaded.
func (h *Handle) Changed() bool {
	return h.doc != nil && h.doc.Changed()
}

// Save serializes the document and stages or writes it.
func (h *Handle) Save(opts SaveOptions) error {
	if !h.ensureLoaded() {
		return h.err
	}
	if h.err != nil {
		return h.err
	}

	target := h.path
	if opts.Path != "" {
		target = opts.Path
	}

	data, err := h.doc.Serialize()
	if err != nil {
		return &codec.SerializeError{Path: target, Format: h.codec.Format(), Err: err}
	}
	return deliver(h.fs, h.stager, target, data, opts.Staged())
}

func (h *Handle) ensureLoaded() bool {
	if h.doc == nil && h.err == nil {
		h.Load()
	}
	return h.doc != nil
}

func (h *Handle) fail(err error) {
	if h.err == nil {
		h.err = err
	}
}

func readCurrent(fs fsops.FS, stager Stager, path string) ([]byte, bool, error) {
	if pr, ok := stager.(PendingReader); ok {
		if data, staged := pr.Pending(path); staged {
			return data, true, nil
		}
	}
	return fsops.ReadFileIfExists(fs, path)
}

func deliver(fs fsops.FS, stager Stager, target string, data []byte, staged bool) error {
	if staged {
		if stager == nil {
			return ErrNoStager
		}
		return stager.Stage(target, data)
	}
	if err := fsops.WriteFile(fs, target, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}
