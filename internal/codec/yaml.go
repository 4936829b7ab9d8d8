package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/conserve/internal/merge"
)

const defaultIndent = 2

// YAML is the codec for .yaml and .yml files. Only the first document of a
// stream is edited; later documents are written back unchanged.
type YAML struct{}

func (YAML) Format() string { return "yaml" }

func (YAML) Parse(data []byte) (Tree, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}

	t := &yamlTree{docs: docs, indent: defaultIndent, value: map[string]any{}}
	if len(docs) == 0 || len(docs[0].Content) == 0 {
		return t, nil
	}
	value, err := yamlLogical(docs[0].Content[0])
	if err != nil {
		return nil, err
	}
	t.value = value
	if n := detectYAMLIndent(docs[0].Content[0]); n > 0 {
		t.indent = n
	}
	return t, nil
}

func (YAML) Empty() Tree {
	return &yamlTree{indent: defaultIndent, value: map[string]any{}}
}

func yamlLogical(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return merge.Normalize(v), nil
}

// detectYAMLIndent measures the first nested block mapping.
func detectYAMLIndent(n *yaml.Node) int {
	if n.Kind != yaml.MappingNode || n.Style&yaml.FlowStyle != 0 {
		return 0
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind == yaml.MappingNode && v.Style&yaml.FlowStyle == 0 && len(v.Content) > 0 {
			if d := v.Content[0].Column - k.Column; d > 0 {
				return d
			}
		}
		if d := detectYAMLIndent(v); d > 0 {
			return d
		}
	}
	return 0
}

type yamlTree struct {
	docs   []*yaml.Node
	indent int
	value  any
}

func (t *yamlTree) Logical() any { return t.value }

func (t *yamlTree) Apply(value any) error {
	r := nodeReconciler{logical: yamlLogical}
	var old *yaml.Node
	if len(t.docs) > 0 && len(t.docs[0].Content) > 0 {
		old = t.docs[0].Content[0]
	}
	n, err := r.reconcile(old, value)
	if err != nil {
		return err
	}
	if len(t.docs) == 0 {
		t.docs = []*yaml.Node{{Kind: yaml.DocumentNode}}
	}
	t.docs[0].Content = []*yaml.Node{n}
	t.value = value
	return nil
}

func (t *yamlTree) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(t.indent)
	for _, doc := range t.docs {
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
