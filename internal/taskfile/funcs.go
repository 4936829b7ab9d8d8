package taskfile

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/danieljhkim/conserve/internal/handle"
	"github.com/danieljhkim/conserve/internal/merge"
	"github.com/danieljhkim/conserve/internal/task"
)

// evalContext builds the expression scope for one task run. Paths given
// to read and exists are relative to the project root.
func evalContext(env *task.Env) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"root": cty.StringVal(env.Root),
		},
		Functions: map[string]function.Function{
			"read":       readFunc(env),
			"exists":     existsFunc(env),
			"env":        envFunc,
			"merge_deep": mergeDeepFunc,
		},
	}
}

// readFunc returns the logical content of a structured file, or an empty
// object when the file does not exist. Content staged earlier in the run
// wins over the file on disk.
func readFunc(env *task.Env) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "path", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			h, err := handle.New(env.Resolve(args[0].AsString()), handle.WithFS(env.FS), handle.WithStager(env.Stager))
			if err != nil {
				return cty.NilVal, err
			}
			v, err := h.Read()
			if err != nil {
				return cty.NilVal, err
			}
			return fromNative(v)
		},
	})
}

func existsFunc(env *task.Env) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "path", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			path := env.Resolve(args[0].AsString())
			if pr, ok := env.Stager.(handle.PendingReader); ok {
				if _, staged := pr.Pending(path); staged {
					return cty.True, nil
				}
			}
			ok, err := env.FS.Exists(path)
			if err != nil {
				return cty.NilVal, err
			}
			return cty.BoolVal(ok), nil
		},
	})
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// mergeDeepFunc folds its arguments with the same deep merge handles use.
var mergeDeepFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{
		Name:      "values",
		Type:      cty.DynamicPseudoType,
		AllowNull: true,
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		docs := make([]any, len(args))
		for i, arg := range args {
			native, err := toNative(arg)
			if err != nil {
				return cty.NilVal, function.NewArgError(i, err)
			}
			docs[i] = native
		}
		return fromNative(merge.MergeDeep(docs...))
	},
})
