package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// JSON is the codec for .json files.
//
// Documents are read into the same node tree the YAML codec edits, which
// keeps key order and number spelling. Output uses the indentation found in
// the source and always ends with a newline.
type JSON struct{}

func (JSON) Format() string { return "json" }

func (JSON) Parse(data []byte) (Tree, error) {
	t := &jsonTree{indent: defaultIndent, value: map[string]any{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return t, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	root, err := readJSONNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	value, err := jsonLogical(root)
	if err != nil {
		return nil, err
	}
	t.root = root
	t.value = value
	if n := detectJSONIndent(data); n > 0 {
		t.indent = n
	}
	return t, nil
}

func (JSON) Empty() Tree {
	return &jsonTree{indent: defaultIndent, value: map[string]any{}}
}

func readJSONNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch x := tok.(type) {
	case json.Delim:
		switch x {
		case '{':
			n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key must be a string, got %v", kt)
				}
				val, err := readJSONNode(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, buildScalar("!!str", key), val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				item, err := readJSONNode(dec)
				if err != nil {
					return nil, err
				}
				n.Content = append(n.Content, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", x)
	case string:
		return buildScalar("!!str", x), nil
	case json.Number:
		if strings.ContainsAny(x.String(), ".eE") {
			return buildScalar("!!float", x.String()), nil
		}
		return buildScalar("!!int", x.String()), nil
	case bool:
		return buildScalar("!!bool", strconv.FormatBool(x)), nil
	case nil:
		return buildScalar("!!null", "null"), nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func jsonLogical(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := jsonLogical(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, item := range n.Content {
			v, err := jsonLogical(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch n.Tag {
	case "!!str", "!!timestamp":
		return n.Value, nil
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			return i, nil
		}
		return strconv.ParseFloat(n.Value, 64)
	case "!!float":
		return strconv.ParseFloat(n.Value, 64)
	case "!!bool":
		return n.Value == "true", nil
	case "!!null":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported node tag %s", n.Tag)
}

// detectJSONIndent returns the leading spaces of the first indented line.
func detectJSONIndent(data []byte) int {
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed != "" && len(trimmed) < len(line) {
			return len(line) - len(trimmed)
		}
	}
	return 0
}

type jsonTree struct {
	root   *yaml.Node
	indent int
	value  any
}

func (t *jsonTree) Logical() any { return t.value }

func (t *jsonTree) Apply(value any) error {
	r := nodeReconciler{logical: jsonLogical}
	n, err := r.reconcile(t.root, value)
	if err != nil {
		return err
	}
	t.root = n
	t.value = value
	return nil
}

func (t *jsonTree) Encode() ([]byte, error) {
	root := t.root
	if root == nil {
		root = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	var b strings.Builder
	if err := writeJSON(&b, root, strings.Repeat(" ", t.indent), 0); err != nil {
		return nil, err
	}
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func writeJSON(b *strings.Builder, n *yaml.Node, indent string, level int) error {
	pad := func(l int) string { return "\n" + strings.Repeat(indent, l) }

	switch n.Kind {
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			b.WriteString("{}")
			return nil
		}
		b.WriteString("{")
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(pad(level + 1))
			b.WriteString(jsonString(n.Content[i].Value))
			b.WriteString(": ")
			if err := writeJSON(b, n.Content[i+1], indent, level+1); err != nil {
				return err
			}
		}
		b.WriteString(pad(level) + "}")
		return nil
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			b.WriteString("[]")
			return nil
		}
		b.WriteString("[")
		for i, item := range n.Content {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(pad(level + 1))
			if err := writeJSON(b, item, indent, level+1); err != nil {
				return err
			}
		}
		b.WriteString(pad(level) + "]")
		return nil
	}

	switch n.Tag {
	case "!!str", "!!timestamp":
		b.WriteString(jsonString(n.Value))
	case "!!int", "!!bool", "!!null":
		b.WriteString(n.Value)
	case "!!float":
		if strings.Contains(n.Value, "inf") || strings.Contains(n.Value, "nan") {
			return fmt.Errorf("JSON cannot represent %s", n.Value)
		}
		b.WriteString(n.Value)
	default:
		return fmt.Errorf("unsupported node tag %s", n.Tag)
	}
	return nil
}

// jsonString quotes s without HTML escaping; non-ASCII text stays literal.
func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimRight(buf.String(), "\n")
}
