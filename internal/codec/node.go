package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/conserve/internal/merge"
)

// nodeReconciler edits a yaml.Node tree towards a logical value. Subtrees
// whose logical value is unchanged are kept as they are, so their comments,
// anchors and quoting survive.
type nodeReconciler struct {
	logical func(*yaml.Node) (any, error)
}

func (r nodeReconciler) reconcile(old *yaml.Node, v any) (*yaml.Node, error) {
	if old != nil {
		if cur, err := r.logical(old); err == nil && merge.Equal(cur, v) {
			return old, nil
		}
		if old.Kind == yaml.AliasNode {
			old = nil
		}
	}

	switch x := v.(type) {
	case map[string]any:
		if old == nil || old.Kind != yaml.MappingNode {
			return r.fresh(old, v)
		}
		out := *old
		out.Content = make([]*yaml.Node, 0, len(old.Content)+2*len(x))
		seen := make(map[string]bool, len(x))
		for i := 0; i+1 < len(old.Content); i += 2 {
			k, val := old.Content[i], old.Content[i+1]
			nv, ok := x[k.Value]
			if !ok || seen[k.Value] {
				continue
			}
			seen[k.Value] = true
			nn, err := r.reconcile(val, nv)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, k, nn)
		}
		for _, key := range merge.SortedKeys(x) {
			if seen[key] {
				continue
			}
			vn, err := buildNode(x[key])
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, buildScalar("!!str", key), vn)
		}
		return &out, nil

	case []any:
		if old == nil || old.Kind != yaml.SequenceNode {
			return r.fresh(old, v)
		}
		out := *old
		out.Content = make([]*yaml.Node, len(x))
		for i, item := range x {
			var prev *yaml.Node
			if i < len(old.Content) {
				prev = old.Content[i]
			}
			nn, err := r.reconcile(prev, item)
			if err != nil {
				return nil, err
			}
			out.Content[i] = nn
		}
		return &out, nil

	default:
		n, err := r.fresh(old, v)
		if err != nil {
			return nil, err
		}
		if old != nil && old.Kind == yaml.ScalarNode && n.Tag == "!!str" && old.Tag == "!!str" {
			n.Style = old.Style
		}
		return n, nil
	}
}

// fresh builds a node for v, carrying over the comments attached to old.
func (r nodeReconciler) fresh(old *yaml.Node, v any) (*yaml.Node, error) {
	n, err := buildNode(v)
	if err != nil {
		return nil, err
	}
	if old != nil {
		n.HeadComment = old.HeadComment
		n.LineComment = old.LineComment
		n.FootComment = old.FootComment
	}
	return n, nil
}

// buildNode converts a logical value into nodes with explicit core tags.
// Mapping keys are emitted in sorted order.
func buildNode(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case nil:
		return buildScalar("!!null", "null"), nil
	case string:
		return buildScalar("!!str", x), nil
	case bool:
		return buildScalar("!!bool", strconv.FormatBool(x)), nil
	case int64:
		return buildScalar("!!int", strconv.FormatInt(x, 10)), nil
	case float64:
		return buildScalar("!!float", formatFloat(x)), nil
	case time.Time:
		return buildScalar("!!timestamp", x.Format(time.RFC3339Nano)), nil
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range merge.SortedKeys(x) {
			vn, err := buildNode(x[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, buildScalar("!!str", k), vn)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range x {
			in, err := buildNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, in)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

func buildScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// formatFloat keeps a fractional part on integral floats so they read back
// as floats.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
