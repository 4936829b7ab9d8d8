package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danieljhkim/conserve/internal/merge"
)

// multilineArrayMin is the element count above which new scalar arrays are
// written one element per line.
const multilineArrayMin = 2

type emitter struct {
	nl string
}

// table writes a new table (or array of tables) at path, scalars first.
// Tables holding only sub-tables get no header of their own.
func (em emitter) table(b *strings.Builder, path []string, v any) error {
	if elems, ok := tableArray(v); ok {
		return em.tableArray(b, path, elems)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot write %T as a table", v)
	}

	var plain, nested []string
	for _, k := range merge.SortedKeys(m) {
		if isTableLike(m[k]) {
			nested = append(nested, k)
		} else {
			plain = append(plain, k)
		}
	}

	wrote := false
	if len(path) > 0 && (len(plain) > 0 || len(nested) == 0) {
		b.WriteString("[" + keyPath(path) + "]" + em.nl)
		wrote = true
	}
	if err := em.body(b, plain, m); err != nil {
		return err
	}
	if len(plain) > 0 {
		wrote = true
	}
	for _, k := range nested {
		if wrote {
			b.WriteString(em.nl)
		}
		if err := em.table(b, joinPath(path, []string{k}), m[k]); err != nil {
			return err
		}
		wrote = true
	}
	return nil
}

func (em emitter) tableArray(b *strings.Builder, path []string, elems []map[string]any) error {
	for i, elem := range elems {
		if i > 0 {
			b.WriteString(em.nl)
		}
		b.WriteString("[[" + keyPath(path) + "]]" + em.nl)

		var plain, nested []string
		for _, k := range merge.SortedKeys(elem) {
			if isTableLike(elem[k]) {
				nested = append(nested, k)
			} else {
				plain = append(plain, k)
			}
		}
		if err := em.body(b, plain, elem); err != nil {
			return err
		}
		for _, k := range nested {
			sub := joinPath(path, []string{k})
			// A sub-table without plain keys still needs a header here,
			// otherwise it would attach to the wrong array element.
			if m, ok := elem[k].(map[string]any); ok && !hasPlainKeys(m) {
				b.WriteString(em.nl + "[" + keyPath(sub) + "]" + em.nl)
				for _, kk := range merge.SortedKeys(m) {
					b.WriteString(em.nl)
					if err := em.table(b, joinPath(sub, []string{kk}), m[kk]); err != nil {
						return err
					}
				}
				continue
			}
			b.WriteString(em.nl)
			if err := em.table(b, sub, elem[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasPlainKeys(m map[string]any) bool {
	for _, v := range m {
		if !isTableLike(v) {
			return true
		}
	}
	return false
}

func (em emitter) body(b *strings.Builder, keys []string, m map[string]any) error {
	for _, k := range keys {
		line, err := em.keyLine([]string{k}, m[k])
		if err != nil {
			return err
		}
		b.WriteString(line)
	}
	return nil
}

// keyLine renders "key = value" terminated by a newline.
func (em emitter) keyLine(path []string, v any) (string, error) {
	text, err := em.value(v, true)
	if err != nil {
		return "", fmt.Errorf("key %s: %w", strings.Join(path, "."), err)
	}
	return keyPath(path) + " = " + text + em.nl, nil
}

// value renders v inline. Top-level scalar arrays longer than
// multilineArrayMin are spread over several lines.
func (em emitter) value(v any, top bool) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("TOML has no null value")
	case map[string]any:
		if len(x) == 0 {
			return "{}", nil
		}
		parts := make([]string, 0, len(x))
		for _, k := range merge.SortedKeys(x) {
			if x[k] == nil {
				continue
			}
			text, err := em.value(x[k], false)
			if err != nil {
				return "", err
			}
			parts = append(parts, keyPath([]string{k})+" = "+text)
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil
	case []any:
		parts := make([]string, len(x))
		scalars := true
		for i, item := range x {
			text, err := em.value(item, false)
			if err != nil {
				return "", err
			}
			parts[i] = text
			switch item.(type) {
			case map[string]any, []any:
				scalars = false
			}
		}
		if top && scalars && len(x) > multilineArrayMin {
			var b strings.Builder
			b.WriteString("[" + em.nl)
			for _, p := range parts {
				b.WriteString("    " + p + "," + em.nl)
			}
			b.WriteString("]")
			return b.String(), nil
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return encodeTOMLScalar(v)
	}
}

// encodeTOMLScalar leans on the BurntSushi encoder for string escaping,
// float and datetime formatting.
func encodeTOMLScalar(v any) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(map[string]any{"v": v}); err != nil {
		return "", err
	}
	out := strings.TrimPrefix(buf.String(), "v = ")
	return strings.TrimRight(out, "\n"), nil
}

func keyPath(path []string) string {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = tomlKey(k)
	}
	return strings.Join(parts, ".")
}

func tomlKey(k string) string {
	if k != "" && isBareKey(k) {
		return k
	}
	quoted, err := encodeTOMLScalar(k)
	if err != nil {
		return fmt.Sprintf("%q", k)
	}
	return quoted
}

func isBareKey(k string) bool {
	for i := 0; i < len(k); i++ {
		if !isBareKeyChar(k[i]) {
			return false
		}
	}
	return true
}
