package planner

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/conserve/internal/clock"
	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/hash"
)

// Entry is the staged state of one path.
type Entry struct {
	// Path is the absolute target path
	Path string

	// Original is the content on disk when the path was first staged
	Original []byte

	// Absent records that the file did not exist when first staged
	Absent bool

	// Pending is the most recently staged content
	Pending []byte
}

// Changed reports whether committing the entry would alter the file.
func (e Entry) Changed() bool {
	return e.Absent || !bytes.Equal(e.Original, e.Pending)
}

// CommitError reports the path that failed during Commit and the paths that
// were already written before it.
type CommitError struct {
	Path    string
	Written []string
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed writing %s after %d file(s): %v", e.Path, len(e.Written), e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Option configures a Plan.
type Option func(*Plan)

// WithRoot sets the directory relative paths are resolved against and diff
// headers are shown relative to.
func WithRoot(root string) Option {
	return func(p *Plan) { p.root = root }
}

// WithLogger sets the logger used for staging and commit events.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Plan) { p.logger = logger }
}

// WithRunID tags the plan with the run that produced it.
func WithRunID(id string) Option {
	return func(p *Plan) { p.runID = id }
}

// WithHasher overrides the content hasher used for plan files.
func WithHasher(h hash.Hasher) Option {
	return func(p *Plan) { p.hasher = h }
}

// WithClock sets the clock that timestamps exported plans.
func WithClock(c clock.Clock) Option {
	return func(p *Plan) { p.clock = c }
}

// Plan is the staging ledger for one run. It is safe to call from multiple
// goroutines, but "first original wins" is only meaningful when stages
// arrive in a deterministic order.
type Plan struct {
	mu      sync.Mutex
	fs      fsops.FS
	hasher  hash.Hasher
	clock   clock.Clock
	logger  zerolog.Logger
	root    string
	runID   string
	created time.Time
	entries map[string]*Entry
	order   []string
}

// New returns an empty plan reading originals through fs.
func New(fs fsops.FS, opts ...Option) *Plan {
	p := &Plan{
		fs:      fs,
		hasher:  hash.NewSHA256Hasher(),
		clock:   clock.Real,
		logger:  zerolog.Nop(),
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the plan's root directory.
func (p *Plan) Root() string {
	return p.root
}

// RunID returns the id of the run that owns the plan.
func (p *Plan) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

// CreatedAt returns when an exported plan was written. It is zero for a plan
// that was never exported.
func (p *Plan) CreatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// SetRunID retags the plan, typically at the start of a run.
func (p *Plan) SetRunID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = id
}

// Stage records content as the pending write for path. The first stage of a
// path captures what is on disk; later stages only replace the pending
// content.
func (p *Plan) Stage(path string, content []byte) error {
	target := p.resolve(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	pending := bytes.Clone(content)
	if pending == nil {
		pending = []byte{}
	}

	if e, ok := p.entries[target]; ok {
		e.Pending = pending
		p.logger.Debug().Str("path", p.rel(target)).Msg("restaged")
		return nil
	}

	original, exists, err := fsops.ReadFileIfExists(p.fs, target)
	if err != nil {
		return fmt.Errorf("failed to capture original of %s: %w", target, err)
	}
	p.entries[target] = &Entry{
		Path:     target,
		Original: original,
		Absent:   !exists,
		Pending:  pending,
	}
	p.order = append(p.order, target)
	p.logger.Debug().Str("path", p.rel(target)).Bool("new_file", !exists).Msg("staged")
	return nil
}

// Preview returns the pending content for every staged path.
func (p *Plan) Preview() map[string][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string][]byte, len(p.entries))
	for path, e := range p.entries {
		out[path] = bytes.Clone(e.Pending)
	}
	return out
}

// Pending returns the content staged for path, if any.
func (p *Plan) Pending(path string) ([]byte, bool) {
	target := p.resolve(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[target]
	if !ok {
		return nil, false
	}
	return bytes.Clone(e.Pending), true
}

// Entries returns copies of all entries in first-staged order.
func (p *Plan) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Plan) snapshot() []Entry {
	out := make([]Entry, 0, len(p.order))
	for _, path := range p.order {
		e := p.entries[path]
		out = append(out, Entry{
			Path:     e.Path,
			Original: bytes.Clone(e.Original),
			Absent:   e.Absent,
			Pending:  bytes.Clone(e.Pending),
		})
	}
	return out
}

// Paths returns staged paths in first-staged order.
func (p *Plan) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Len returns the number of staged paths.
func (p *Plan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// IsEmpty reports whether nothing is staged.
func (p *Plan) IsEmpty() bool {
	return p.Len() == 0
}

// Commit writes every staged entry in first-staged order and empties the
// plan. Each file is replaced atomically; the batch as a whole is not. On
// failure the returned CommitError lists the files already written, and the
// plan is emptied all the same.
func (p *Plan) Commit() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.reset()

	written := make([]string, 0, len(p.order))
	for _, path := range p.order {
		e := p.entries[path]
		if err := fsops.WriteFile(p.fs, path, e.Pending); err != nil {
			p.logger.Error().Err(err).Str("path", p.rel(path)).Msg("commit failed")
			return written, &CommitError{Path: path, Written: written, Err: err}
		}
		written = append(written, path)
		p.logger.Debug().Str("path", p.rel(path)).Int("bytes", len(e.Pending)).Msg("written")
	}
	return written, nil
}

// Rollback discards all staged state without writing.
func (p *Plan) Rollback() {
	p.Clear()
}

// Clear resets the plan to empty.
func (p *Plan) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

func (p *Plan) reset() {
	p.entries = make(map[string]*Entry)
	p.order = nil
}

func (p *Plan) resolve(path string) string {
	return filepath.Clean(fsops.Resolve(p.root, path))
}

func (p *Plan) rel(path string) string {
	if p.root == "" {
		return filepath.ToSlash(path)
	}
	return fsops.Rel(p.root, path)
}
