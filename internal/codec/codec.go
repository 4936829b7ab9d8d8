// Package codec turns file bytes into format-preserving trees and back.
//
// A Tree owns whatever a format needs to reproduce its source (comments, key
// order, quoting, layout) and exposes only a plain logical value to the rest
// of conserve. Document adds the identity guarantee on top: a document whose
// logical value did not change serializes to exactly the bytes it was parsed
// from.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/conserve/internal/merge"
)

// Tree is the preserved form of one parsed file.
type Tree interface {
	// Logical returns the plain value of the tree (mappings, lists, scalars).
	Logical() any

	// Apply reconciles the tree with value, keeping the layout of every part
	// that value leaves unchanged.
	Apply(value any) error

	// Encode serializes the tree.
	Encode() ([]byte, error)
}

// Codec parses and creates trees for one format.
type Codec interface {
	// Format is the short format name ("toml", "yaml", "json").
	Format() string

	// Parse builds a tree from well-formed input.
	Parse(data []byte) (Tree, error)

	// Empty returns a tree holding an empty mapping.
	Empty() Tree
}

// ParseError reports malformed input for a file.
type ParseError struct {
	Path   string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s as %s: %v", e.Path, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SerializeError reports a value the format cannot represent.
type SerializeError struct {
	Path   string
	Format string
	Err    error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("failed to serialize %s as %s: %v", e.Path, e.Format, e.Err)
}

func (e *SerializeError) Unwrap() error {
	return e.Err
}

var codecs = map[string]Codec{
	"toml": TOML{},
	"yaml": YAML{},
	"json": JSON{},
}

var extensions = map[string]string{
	".toml": "toml",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// ByName returns the codec for a format name.
func ByName(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown format %q (want toml, yaml or json)", name)
	}
	return c, nil
}

// ForPath picks a codec from the file extension.
func ForPath(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	name, ok := extensions[ext]
	if !ok {
		return nil, fmt.Errorf("cannot infer format of %s from extension %q", path, ext)
	}
	return codecs[name], nil
}

// Document is the in-memory content of one structured file.
type Document struct {
	codec    Codec
	tree     Tree
	source   []byte
	baseline any
	value    any
}

// NewDocument returns an empty document for codec.
func NewDocument(c Codec) *Document {
	tree := c.Empty()
	return &Document{
		codec: c,
		tree:  tree,
		value: merge.Copy(tree.Logical()),
	}
}

// ParseDocument parses data with codec.
func ParseDocument(c Codec, data []byte) (*Document, error) {
	tree, err := c.Parse(data)
	if err != nil {
		return nil, err
	}
	logical := tree.Logical()
	source := make([]byte, len(data))
	copy(source, data)
	return &Document{
		codec:    c,
		tree:     tree,
		source:   source,
		baseline: merge.Copy(logical),
		value:    merge.Copy(logical),
	}, nil
}

// Format returns the document's format name.
func (d *Document) Format() string {
	return d.codec.Format()
}

// Value returns a copy of the current logical value.
func (d *Document) Value() any {
	return merge.Copy(d.value)
}

// Update replaces the logical value with fn's result. fn may mutate and
// return its argument; the preserved tree is reconciled lazily on Serialize.
func (d *Document) Update(fn func(current any) any) {
	d.value = merge.Normalize(fn(d.value))
}

// Replace discards the current content and its formatting, substituting
// value as the whole document.
func (d *Document) Replace(value any) {
	d.tree = d.codec.Empty()
	d.source = nil
	d.baseline = nil
	d.value = merge.Normalize(merge.Copy(value))
}

// Changed reports whether the logical value differs from what was parsed.
func (d *Document) Changed() bool {
	return d.source == nil || !merge.Equal(d.value, d.baseline)
}

// Serialize encodes the document. Unchanged documents return their source
// bytes verbatim.
func (d *Document) Serialize() ([]byte, error) {
	if !d.Changed() {
		out := make([]byte, len(d.source))
		copy(out, d.source)
		return out, nil
	}
	if err := d.tree.Apply(merge.Copy(d.value)); err != nil {
		return nil, err
	}
	return d.tree.Encode()
}
