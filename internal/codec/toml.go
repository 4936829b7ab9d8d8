package codec

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danieljhkim/conserve/internal/merge"
)

// TOML is the codec for .toml files.
//
// Parsing and validation are delegated to BurntSushi/toml. Layout is kept by
// a statement list over the source text: unchanged statements are emitted
// verbatim, changed values are rewritten in place and new keys are placed
// after the last key of the table that owns them.
type TOML struct{}

func (TOML) Format() string { return "toml" }

func (TOML) Parse(data []byte) (Tree, error) {
	src := string(data)
	value, err := decodeTOML(src)
	if err != nil {
		return nil, err
	}
	stmts, err := lexTOML(src)
	if err != nil {
		return nil, err
	}
	return &tomlTree{stmts: stmts, value: value, nl: detectNewline(src)}, nil
}

func (TOML) Empty() Tree {
	return &tomlTree{value: map[string]any{}, nl: "\n"}
}

func decodeTOML(src string) (map[string]any, error) {
	var raw map[string]any
	if _, err := toml.Decode(src, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return merge.Normalize(raw).(map[string]any), nil
}

func detectNewline(src string) string {
	if strings.Contains(src, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

type tomlTree struct {
	stmts []*tomlStmt
	value map[string]any
	nl    string
}

func (t *tomlTree) Logical() any { return t.value }

func (t *tomlTree) Encode() ([]byte, error) {
	var b strings.Builder
	for _, s := range t.stmts {
		b.WriteString(s.raw())
	}
	return []byte(b.String()), nil
}

func (t *tomlTree) Apply(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("a TOML document must be a table, got %T", value)
	}
	m = dropNulls(m).(map[string]any)

	out, err := t.reconcile(m)
	if err != nil {
		return err
	}
	decoded, err := decodeTOML(out)
	if err != nil {
		return fmt.Errorf("rendered document is not valid TOML: %w", err)
	}
	stmts, err := lexTOML(out)
	if err != nil {
		return err
	}
	t.stmts = stmts
	t.value = decoded
	return nil
}

// dropNulls removes nil mapping values, which TOML cannot express.
func dropNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = dropNulls(val)
		}
		return out
	default:
		return v
	}
}

// tomlLayout annotates statements with the table they belong to.
type tomlLayout struct {
	section []int      // owning header index, -1 for the root table
	group   []int      // array-of-tables group index, -1 outside groups
	full    [][]string // absolute key path of key/value statements
	groups  []tomlGroup
}

type tomlGroup struct {
	path  []string
	first int
	last  int
}

func layoutTOML(stmts []*tomlStmt) *tomlLayout {
	lay := &tomlLayout{
		section: make([]int, len(stmts)),
		group:   make([]int, len(stmts)),
		full:    make([][]string, len(stmts)),
	}
	cur, curGroup := -1, -1
	var curPath []string
	for i, s := range stmts {
		switch s.kind {
		case tomlArrayTable:
			g := lay.groupFor(s.path, true)
			if g < 0 {
				lay.groups = append(lay.groups, tomlGroup{path: s.path, first: i})
				g = len(lay.groups) - 1
			}
			cur, curGroup, curPath = i, g, s.path
		case tomlTable:
			cur, curGroup, curPath = i, lay.groupFor(s.path, false), s.path
		case tomlKeyValue:
			lay.full[i] = joinPath(curPath, s.path)
		}
		lay.section[i] = cur
		lay.group[i] = curGroup
		if curGroup >= 0 {
			lay.groups[curGroup].last = i
		}
	}
	return lay
}

// groupFor finds the group that path belongs to. Array headers match their
// own group; plain headers only match groups they are nested under.
func (l *tomlLayout) groupFor(path []string, inclusive bool) int {
	for i, g := range l.groups {
		if !hasPrefix(path, g.path) {
			continue
		}
		if inclusive || len(path) > len(g.path) {
			return i
		}
	}
	return -1
}

type tomlBlock struct {
	path  []string
	text  strings.Builder
	keyed bool // block opened for loose keys of an implicit table
}

type tomlEdit struct {
	t        *tomlTree
	lay      *tomlLayout
	next     map[string]any
	deleted  []bool
	values   map[int]string
	before   map[int]string
	after    map[int]string
	rootKeys strings.Builder
	rootAt   int
	tail     []*tomlBlock
	covered  map[string]bool
	skeleton map[string]bool
}

func (t *tomlTree) reconcile(next map[string]any) (string, error) {
	e := &tomlEdit{
		t:        t,
		lay:      layoutTOML(t.stmts),
		next:     next,
		deleted:  make([]bool, len(t.stmts)),
		values:   map[int]string{},
		before:   map[int]string{},
		after:    map[int]string{},
		covered:  map[string]bool{},
		skeleton: map[string]bool{},
		rootAt:   -1,
	}
	if err := e.reconcileGroups(); err != nil {
		return "", err
	}
	e.reconcileTables()
	if err := e.reconcileValues(); err != nil {
		return "", err
	}
	e.collectSkeleton()
	if err := e.addMissing(nil, next); err != nil {
		return "", err
	}
	return e.render(), nil
}

// reconcileGroups keeps unchanged arrays of tables and re-emits changed ones
// where they first appeared.
func (e *tomlEdit) reconcileGroups() error {
	for gi, g := range e.lay.groups {
		prev, _ := merge.Lookup(e.t.value, g.path)
		cur, ok := merge.Lookup(e.next, g.path)
		if ok && merge.Equal(prev, cur) {
			e.covered[pathKey(g.path)] = true
			continue
		}
		for i := range e.t.stmts {
			if e.lay.group[i] == gi {
				e.deleted[i] = true
			}
		}
		elems, isArray := tableArray(cur)
		if !ok || !isArray {
			continue
		}
		em := emitter{nl: e.t.nl}
		var b strings.Builder
		if err := em.tableArray(&b, g.path, elems); err != nil {
			return err
		}
		if g.last+1 < len(e.t.stmts) {
			b.WriteString(e.t.nl)
		}
		e.before[g.first] += b.String()
		e.covered[pathKey(g.path)] = true
	}
	return nil
}

// reconcileTables drops [table] sections that no longer hold a table.
func (e *tomlEdit) reconcileTables() {
	for i, s := range e.t.stmts {
		if s.kind != tomlTable || e.lay.group[i] >= 0 || e.deleted[i] {
			continue
		}
		v, ok := merge.Lookup(e.next, s.path)
		if _, isMap := v.(map[string]any); ok && isMap {
			continue
		}
		e.drop(i)
		for j := i + 1; j < len(e.t.stmts) && e.lay.section[j] == i; j++ {
			e.deleted[j] = true
		}
	}
}

func (e *tomlEdit) reconcileValues() error {
	em := emitter{nl: e.t.nl}
	for i, s := range e.t.stmts {
		if s.kind != tomlKeyValue || e.deleted[i] || e.lay.group[i] >= 0 {
			continue
		}
		full := e.lay.full[i]
		cur, ok := merge.Lookup(e.next, full)
		if !ok {
			e.drop(i)
			continue
		}
		e.covered[pathKey(full)] = true
		prev, _ := merge.Lookup(e.t.value, full)
		if merge.Equal(prev, cur) {
			continue
		}
		text, err := em.value(cur, true)
		if err != nil {
			return fmt.Errorf("key %s: %w", strings.Join(full, "."), err)
		}
		e.values[i] = text
	}
	return nil
}

// drop deletes statement i together with the comment lines directly above it.
func (e *tomlEdit) drop(i int) {
	e.deleted[i] = true
	for j := i - 1; j >= 0 && !e.deleted[j] && e.t.stmts[j].isComment(); j-- {
		e.deleted[j] = true
	}
}

// collectSkeleton records every table path that surviving statements still
// define, explicitly or implicitly.
func (e *tomlEdit) collectSkeleton() {
	mark := func(path []string, inclusive bool) {
		n := len(path)
		if !inclusive {
			n--
		}
		for k := 1; k <= n; k++ {
			e.skeleton[pathKey(path[:k])] = true
		}
	}
	for i, s := range e.t.stmts {
		if e.deleted[i] || e.lay.group[i] >= 0 {
			continue
		}
		switch s.kind {
		case tomlTable:
			mark(s.path, true)
		case tomlKeyValue:
			mark(e.lay.full[i], false)
		}
	}
	for _, g := range e.lay.groups {
		if e.covered[pathKey(g.path)] {
			mark(g.path, false)
		}
	}
}

func (e *tomlEdit) addMissing(prefix []string, m map[string]any) error {
	keys := merge.SortedKeys(m)
	// Plain values first so they land under their own header.
	for pass := 0; pass < 2; pass++ {
		for _, k := range keys {
			v := m[k]
			nested := isTableLike(v)
			if (pass == 0) == nested {
				continue
			}
			path := joinPath(prefix, []string{k})
			if e.covered[pathKey(path)] {
				continue
			}
			if sub, ok := v.(map[string]any); ok && e.skeleton[pathKey(path)] {
				if err := e.addMissing(path, sub); err != nil {
					return err
				}
				continue
			}
			if err := e.place(prefix, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *tomlEdit) place(prefix []string, key string, v any) error {
	em := emitter{nl: e.t.nl}
	path := joinPath(prefix, []string{key})
	nested := isTableLike(v)

	if anchor, rel, ok := e.dottedAnchor(prefix); ok {
		line, err := em.keyLine(joinPath(rel, []string{key}), v)
		if err != nil {
			return err
		}
		e.after[anchor] += line
		return nil
	}

	if nested {
		b := e.newBlock(path, false)
		return em.table(&b.text, path, v)
	}

	line, err := em.keyLine([]string{key}, v)
	if err != nil {
		return err
	}
	if len(prefix) == 0 {
		e.placeRoot(line)
		return nil
	}
	if h := e.headerFor(prefix); h >= 0 {
		e.after[e.lastKeyIn(h)] += line
		return nil
	}
	b := e.blockFor(prefix)
	b.text.WriteString(line)
	return nil
}

func (e *tomlEdit) placeRoot(line string) {
	last := -1
	e.rootAt = -1
	for i, s := range e.t.stmts {
		if s.kind == tomlTable || s.kind == tomlArrayTable {
			e.rootAt = i
			break
		}
		if s.kind == tomlKeyValue && !e.deleted[i] {
			last = i
		}
	}
	if last >= 0 {
		e.after[last] += line
		return
	}
	e.rootKeys.WriteString(line)
}

// headerFor returns the live [table] header for path, or -1.
func (e *tomlEdit) headerFor(path []string) int {
	for i, s := range e.t.stmts {
		if s.kind == tomlTable && !e.deleted[i] && e.lay.group[i] < 0 && equalPath(s.path, path) {
			return i
		}
	}
	return -1
}

func (e *tomlEdit) lastKeyIn(header int) int {
	last := header
	for i := header + 1; i < len(e.t.stmts) && e.lay.section[i] == header; i++ {
		if e.t.stmts[i].kind == tomlKeyValue && !e.deleted[i] {
			last = i
		}
	}
	return last
}

// dottedAnchor finds a table defined only through dotted keys, returning the
// last of those keys and the table path relative to their section.
func (e *tomlEdit) dottedAnchor(path []string) (int, []string, bool) {
	if len(path) == 0 || e.headerFor(path) >= 0 {
		return 0, nil, false
	}
	anchor, depth := -1, -1
	for i, s := range e.t.stmts {
		if s.kind != tomlKeyValue || e.deleted[i] || e.lay.group[i] >= 0 {
			continue
		}
		full := e.lay.full[i]
		base := len(full) - len(s.path)
		if base >= len(path) || len(full) <= len(path) || !hasPrefix(full, path) {
			continue
		}
		if base >= depth {
			anchor, depth = i, base
		}
	}
	if anchor < 0 {
		return 0, nil, false
	}
	return anchor, path[depth:], true
}

func (e *tomlEdit) newBlock(path []string, keyed bool) *tomlBlock {
	b := &tomlBlock{path: path, keyed: keyed}
	e.tail = append(e.tail, b)
	return b
}

// blockFor returns the block collecting loose keys for an implicit table.
func (e *tomlEdit) blockFor(path []string) *tomlBlock {
	for _, b := range e.tail {
		if b.keyed && equalPath(b.path, path) {
			return b
		}
	}
	b := e.newBlock(path, true)
	b.text.WriteString("[" + keyPath(path) + "]" + e.t.nl)
	return b
}

func (e *tomlEdit) render() string {
	nl := e.t.nl
	var b strings.Builder
	for i, s := range e.t.stmts {
		if i == e.rootAt && e.rootKeys.Len() > 0 {
			b.WriteString(e.rootKeys.String())
			b.WriteString(nl)
		}
		b.WriteString(e.before[i])
		if !e.deleted[i] {
			if v, ok := e.values[i]; ok {
				b.WriteString(s.keyText + v + s.trailer)
			} else {
				b.WriteString(s.raw())
			}
		}
		if a := e.after[i]; a != "" {
			ensureNewline(&b, nl)
			b.WriteString(a)
		}
	}
	if e.rootAt < 0 && e.rootKeys.Len() > 0 {
		ensureNewline(&b, nl)
		b.WriteString(e.rootKeys.String())
	}
	for _, block := range e.tail {
		if b.Len() > 0 {
			ensureNewline(&b, nl)
			if !strings.HasSuffix(b.String(), nl+nl) {
				b.WriteString(nl)
			}
		}
		b.WriteString(block.text.String())
	}
	return b.String()
}

func ensureNewline(b *strings.Builder, nl string) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString(nl)
	}
}

func tableArray(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	out := make([]map[string]any, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out[i] = m
	}
	return out, true
}

func isTableLike(v any) bool {
	if _, ok := v.(map[string]any); ok {
		return true
	}
	_, ok := tableArray(v)
	return ok
}

func joinPath(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func hasPrefix(path, prefix []string) bool {
	return len(path) >= len(prefix) && equalPath(path[:len(prefix)], prefix)
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}
