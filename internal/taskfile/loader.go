// Package taskfile loads declarative HCL task files into a task registry.
//
// A task file holds task blocks. Each task block lists file and text
// blocks that run in source order when the task runs:
//
//	task "conserve_sync_local" {
//	  description = "Sync local overrides."
//	  file "config.toml" {
//	    merge = { server = { port = 9000 } }
//	  }
//	  text ".gitignore" {
//	    present = ["*.log"]
//	  }
//	}
//
// Attribute expressions are evaluated when the task runs, not when the file
// is loaded, so read() observes the files as earlier tasks left them.
package taskfile

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/rs/zerolog"

	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/task"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "task", LabelNames: []string{"name"}},
	},
}

var taskSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "file", LabelNames: []string{"path"}},
		{Type: "text", LabelNames: []string{"path"}},
	},
}

// Loader discovers and parses the task files of a project.
type Loader struct {
	fs fsops.FS
}

// NewLoader creates a loader reading through fs.
func NewLoader(fs fsops.FS) *Loader {
	return &Loader{fs: fs}
}

// Load discovers the task files under root and registers their tasks.
func (l *Loader) Load(ctx context.Context, root string) (*task.Registry, error) {
	logger := zerolog.Ctx(ctx)

	files, err := task.DiscoverFiles(l.fs, root)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("count", len(files)).Str("root", root).Msg("discovered task files")

	reg := task.NewRegistry()
	parser := hclparse.NewParser()
	for _, f := range files {
		tasks, err := l.parseFile(parser, f)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			added, err := reg.Add(t)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Rel, err)
			}
			if !added {
				logger.Debug().Str("task", t.ID()).Msg("skipping task")
			}
		}
	}
	return reg, nil
}

func (l *Loader) parseFile(parser *hclparse.Parser, f task.File) ([]*task.Task, error) {
	src, err := l.fs.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read task file %s: %w", f.Rel, err)
	}
	file, diags := parser.ParseHCL(src, f.Rel)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse task file %s: %w", f.Rel, diags)
	}
	return decodeTasks(file.Body, f)
}

// decodeTasks turns the task blocks of a parsed file into tasks.
func decodeTasks(body hcl.Body, f task.File) ([]*task.Task, error) {
	content, diags := body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode task file %s: %w", f.Rel, diags)
	}

	tasks := make([]*task.Task, 0, len(content.Blocks))
	for _, block := range content.Blocks {
		t, err := decodeTask(block, f)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func decodeTask(block *hcl.Block, f task.File) (*task.Task, error) {
	name := block.Labels[0]
	content, diags := block.Body.Content(taskSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("task %s in %s: %w", name, f.Rel, diags)
	}

	var description string
	if attr, ok := content.Attributes["description"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &description); diags.HasErrors() {
			return nil, fmt.Errorf("task %s in %s: %w", name, f.Rel, diags)
		}
	}

	steps := make([]step, 0, len(content.Blocks))
	for _, b := range content.Blocks {
		s, err := decodeStep(b)
		if err != nil {
			return nil, fmt.Errorf("task %s in %s: %w", name, f.Rel, err)
		}
		steps = append(steps, s)
	}

	source := task.Source{
		File:    f.Rel,
		Line:    block.DefRange.Start.Line,
		EndLine: block.DefRange.End.Line,
	}
	if sb, ok := block.Body.(*hclsyntax.Body); ok {
		source.EndLine = sb.SrcRange.End.Line
	}

	return &task.Task{
		Module:      f.Module,
		Name:        name,
		Description: description,
		Source:      source,
		Run:         runSteps(steps),
	}, nil
}

func runSteps(steps []step) task.Func {
	return func(ctx context.Context, env *task.Env) error {
		scope := evalContext(env)
		for _, s := range steps {
			if err := s.run(ctx, env, scope); err != nil {
				return err
			}
		}
		return nil
	}
}
