package taskfile

import (
	"context"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/hashicorp/hcl/v2"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"

	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/handle"
	"github.com/danieljhkim/conserve/internal/merge"
	"github.com/danieljhkim/conserve/internal/task"
)

var fileBlockSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "when"},
		{Name: "format"},
		{Name: "replace"},
		{Name: "merge"},
		{Name: "strategy"},
		{Name: "set"},
		{Name: "delete"},
		{Name: "save_to"},
		{Name: "stage"},
	},
}

var textBlockSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "when"},
		{Name: "present"},
		{Name: "absent"},
		{Name: "save_to"},
		{Name: "stage"},
	},
}

// step is one file or text block of a task.
type step struct {
	kind  string
	path  string
	attrs hcl.Attributes
	rng   hcl.Range
}

func decodeStep(b *hcl.Block) (step, error) {
	schema := fileBlockSchema
	if b.Type == "text" {
		schema = textBlockSchema
	}
	content, diags := b.Body.Content(schema)
	if diags.HasErrors() {
		return step{}, diags
	}
	if err := fsops.ValidateRelPath(b.Labels[0]); err != nil {
		return step{}, fmt.Errorf("%s: %s block: %w", b.DefRange, b.Type, err)
	}
	return step{kind: b.Type, path: b.Labels[0], attrs: content.Attributes, rng: b.DefRange}, nil
}

func (s step) run(ctx context.Context, env *task.Env, scope *hcl.EvalContext) error {
	when, err := s.optBool(scope, "when", true)
	if err != nil {
		return err
	}
	if !when {
		zerolog.Ctx(ctx).Debug().Str("path", s.path).Msg("block skipped by condition")
		return nil
	}

	opts, err := s.saveOptions(env, scope)
	if err != nil {
		return err
	}
	if s.kind == "text" {
		err = s.runText(env, scope, opts)
	} else {
		err = s.runFile(env, scope, opts)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", s.rng, err)
	}
	return nil
}

func (s step) runFile(env *task.Env, scope *hcl.EvalContext, opts handle.SaveOptions) error {
	var hopts []handle.Option
	format, err := s.optString(scope, "format")
	if err != nil {
		return err
	}
	if format != "" {
		hopts = append(hopts, handle.WithFormat(format))
	}
	h, err := env.Handle(s.path, hopts...)
	if err != nil {
		return err
	}
	h.Load()

	if v, ok, err := s.value(scope, "replace"); err != nil {
		return err
	} else if ok {
		h.Replace(v)
	}

	name, err := s.optString(scope, "strategy")
	if err != nil {
		return err
	}
	strategy, err := merge.ParseStrategy(name)
	if err != nil {
		return err
	}
	if v, ok, err := s.value(scope, "merge"); err != nil {
		return err
	} else if ok {
		h.MergeWith(v, strategy)
	}

	if err := s.applySet(scope, h); err != nil {
		return err
	}

	if attr, ok := s.attrs["delete"]; ok {
		v, diags := attr.Expr.Value(scope)
		if diags.HasErrors() {
			return diags
		}
		paths, err := toStrings(v)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		h.Delete(paths...)
	}

	return h.Save(opts)
}

// applySet evaluates each expression against the current document and
// stores the result at its dotted path. Paths are applied in sorted order.
func (s step) applySet(scope *hcl.EvalContext, h *handle.Handle) error {
	v, ok, err := s.value(scope, "set")
	if err != nil || !ok {
		return err
	}
	exprs, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("set: expected an object of path = expression")
	}

	paths := make([]string, 0, len(exprs))
	for p := range exprs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		src, ok := exprs[p].(string)
		if !ok {
			return fmt.Errorf("set %s: expression must be a string", p)
		}
		doc, err := h.Read()
		if err != nil {
			return err
		}
		out, err := Evaluate(src, doc)
		if err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
		h.Set(p, out)
	}
	return nil
}

// Evaluate runs an expr-lang expression with the top-level keys of doc as
// variables.
func Evaluate(src string, doc any) (any, error) {
	scope, _ := doc.(map[string]any)
	if scope == nil {
		scope = map[string]any{}
	}
	program, err := expr.Compile(src, expr.Env(scope))
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return nil, err
	}
	return merge.Normalize(out), nil
}

func (s step) runText(env *task.Env, scope *hcl.EvalContext, opts handle.SaveOptions) error {
	h := env.TextHandle(s.path)
	h.Load()
	for _, name := range []string{"present", "absent"} {
		attr, ok := s.attrs[name]
		if !ok {
			continue
		}
		v, diags := attr.Expr.Value(scope)
		if diags.HasErrors() {
			return diags
		}
		lines, err := toStrings(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == "present" {
			h.Present(lines...)
		} else {
			h.Absent(lines...)
		}
	}
	return h.Save(opts)
}

func (s step) saveOptions(env *task.Env, scope *hcl.EvalContext) (handle.SaveOptions, error) {
	var opts handle.SaveOptions
	target, err := s.optString(scope, "save_to")
	if err != nil {
		return opts, err
	}
	if target != "" {
		if err := fsops.ValidateRelPath(target); err != nil {
			return opts, fmt.Errorf("save_to: %w", err)
		}
		opts.Path = env.Resolve(target)
	}
	if _, ok := s.attrs["stage"]; ok {
		stage, err := s.optBool(scope, "stage", false)
		if err != nil {
			return opts, err
		}
		opts.Stage = handle.StageNever
		if stage {
			opts.Stage = handle.StageAlways
		}
	}
	return opts, nil
}

// value evaluates an optional attribute into a logical tree.
func (s step) value(scope *hcl.EvalContext, name string) (any, bool, error) {
	attr, ok := s.attrs[name]
	if !ok {
		return nil, false, nil
	}
	v, diags := attr.Expr.Value(scope)
	if diags.HasErrors() {
		return nil, false, diags
	}
	native, err := toNative(v)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	return native, true, nil
}

func (s step) optString(scope *hcl.EvalContext, name string) (string, error) {
	attr, ok := s.attrs[name]
	if !ok {
		return "", nil
	}
	v, diags := attr.Expr.Value(scope)
	if diags.HasErrors() {
		return "", diags
	}
	if v.IsNull() {
		return "", nil
	}
	if v.Type() != cty.String {
		return "", fmt.Errorf("%s: expected a string, got %s", name, v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

func (s step) optBool(scope *hcl.EvalContext, name string, def bool) (bool, error) {
	attr, ok := s.attrs[name]
	if !ok {
		return def, nil
	}
	v, diags := attr.Expr.Value(scope)
	if diags.HasErrors() {
		return false, diags
	}
	if v.IsNull() {
		return def, nil
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("%s: expected a bool, got %s", name, v.Type().FriendlyName())
	}
	return v.True(), nil
}
