// Package merge implements the deterministic merge used by every handle.
//
// Only mappings recurse. Lists, scalars and type mismatches are replaced
// wholesale by the patch value, so results never depend on element order or
// on list contents.
package merge

import "fmt"

// Strategy selects how a patch is combined with a document.
type Strategy string

const (
	// Deep merges mappings recursively and replaces everything else.
	Deep Strategy = "deep"

	// Shallow replaces top-level keys of the target with the patch's.
	Shallow Strategy = "shallow"

	// Override replaces the whole target with the patch.
	Override Strategy = "override"
)

// ParseStrategy validates a strategy name. The empty string means Deep.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "", Deep:
		return Deep, nil
	case Shallow:
		return Shallow, nil
	case Override:
		return Override, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q (want deep, shallow or override)", name)
	}
}

// Merge applies patch onto target and returns the result.
//
// When both are mappings target is updated in place and returned; patch
// values are copied so the result never aliases patch. In every other case
// a copy of patch is returned.
func Merge(target, patch any) any {
	t, tok := target.(map[string]any)
	p, pok := patch.(map[string]any)
	if !tok || !pok {
		return Copy(patch)
	}
	for key, pv := range p {
		if tv, exists := t[key]; exists {
			_, tIsMap := tv.(map[string]any)
			_, pIsMap := pv.(map[string]any)
			if tIsMap && pIsMap {
				t[key] = Merge(tv, pv)
				continue
			}
		}
		t[key] = Copy(pv)
	}
	return t
}

// MergeDeep folds docs left to right with Merge, starting from a copy of
// the first one. No argument is mutated. With no docs it returns an empty
// mapping.
func MergeDeep(docs ...any) any {
	if len(docs) == 0 {
		return map[string]any{}
	}
	result := Copy(docs[0])
	for _, doc := range docs[1:] {
		result = Merge(result, doc)
	}
	return result
}

// Apply combines target and patch using strategy. Deep behaves like Merge.
func Apply(strategy Strategy, target, patch any) (any, error) {
	switch strategy {
	case "", Deep:
		return Merge(target, patch), nil
	case Shallow:
		t, tok := target.(map[string]any)
		p, pok := patch.(map[string]any)
		if !tok || !pok {
			return Copy(patch), nil
		}
		for key, pv := range p {
			t[key] = Copy(pv)
		}
		return t, nil
	case Override:
		return Copy(patch), nil
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
}
