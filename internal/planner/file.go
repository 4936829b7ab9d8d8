package planner

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/hash"
)

// Current plan file schema; bump when planFile changes shape.
const planFileSchema uint16 = 1

// ErrStale is returned when a file changed on disk after its plan was saved.
var ErrStale = errors.New("plan is stale")

// planFile is the on-disk form of an exported plan.
type planFile struct {
	Schema    uint16          `msgpack:"schema"`
	RunID     string          `msgpack:"run_id"`
	CreatedAt time.Time       `msgpack:"created_at"`
	Entries   []planFileEntry `msgpack:"entries"`
}

type planFileEntry struct {
	// Path is root-relative with forward slashes, or absolute when the
	// target lies outside the root
	Path string `msgpack:"path"`

	Absent       bool   `msgpack:"absent"`
	OriginalHash string `msgpack:"original_hash"`
	Original     []byte `msgpack:"original"`
	Pending      []byte `msgpack:"pending"`
}

// WriteFile exports the staged entries to path.
func (p *Plan) WriteFile(path string) error {
	p.mu.Lock()
	pf := planFile{
		Schema:    planFileSchema,
		RunID:     p.runID,
		CreatedAt: p.clock.Now().UTC(),
	}
	p.created = pf.CreatedAt
	for _, e := range p.snapshot() {
		pf.Entries = append(pf.Entries, planFileEntry{
			Path:         p.rel(e.Path),
			Absent:       e.Absent,
			OriginalHash: hash.Content(p.hasher, e.Original, !e.Absent),
			Original:     e.Original,
			Pending:      e.Pending,
		})
	}
	p.mu.Unlock()

	data, err := msgpack.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := p.fs.AtomicWrite(path, data, fsops.DefaultFileMode); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// ReadFile restores a plan exported by WriteFile. Relative entry paths are
// resolved against the root given in opts.
func ReadFile(fs fsops.FS, path string, opts ...Option) (*Plan, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var pf planFile
	if err := msgpack.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode plan file %s: %w", path, err)
	}
	if pf.Schema != planFileSchema {
		return nil, fmt.Errorf("unsupported plan file schema %d (want %d)", pf.Schema, planFileSchema)
	}

	p := New(fs, opts...)
	p.runID = pf.RunID
	p.created = pf.CreatedAt
	for _, fe := range pf.Entries {
		rel := filepath.FromSlash(fe.Path)
		if !filepath.IsAbs(rel) {
			if err := fsops.ValidateRelPath(rel); err != nil {
				return nil, fmt.Errorf("plan file %s: %w", path, err)
			}
		}
		target := p.resolve(rel)
		if _, dup := p.entries[target]; dup {
			return nil, fmt.Errorf("plan file lists %s twice", fe.Path)
		}
		if hash.Content(p.hasher, fe.Original, !fe.Absent) != fe.OriginalHash {
			return nil, fmt.Errorf("plan file %s is corrupt: checksum mismatch for %s", path, fe.Path)
		}
		p.entries[target] = &Entry{
			Path:     target,
			Original: fe.Original,
			Absent:   fe.Absent,
			Pending:  fe.Pending,
		}
		p.order = append(p.order, target)
	}
	return p, nil
}

// Verify checks that every staged path still holds the content it had when
// first staged.
func (p *Plan) Verify() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range p.order {
		e := p.entries[path]
		current, exists, err := fsops.ReadFileIfExists(p.fs, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		want := hash.Content(p.hasher, e.Original, !e.Absent)
		if got := hash.Content(p.hasher, current, exists); got != want {
			return fmt.Errorf("%w: %s changed since the plan was written", ErrStale, p.rel(path))
		}
	}
	return nil
}
