package integration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/planner"
)

const serverTasks = `task "conserve_port" {
  description = "Pin the public port."
  file "config.toml" {
    merge = { server = { port = 9000 } }
  }
}

task "conserve_ignore" {
  text ".gitignore" {
    present = ["*.log"]
  }
}
`

const clientTasks = `task "conserve_client" {
  file "client.json" {
    set = { "endpoint" = "'http://localhost:' + string(port)" }
  }
  file "client.json" {
    delete = ["port"]
  }
}
`

func TestSync_FullCycle(t *testing.T) {
	eng, fs := setupTestEngine(t, config.DefaultSettings())
	ctx := context.Background()

	fs.put(path(".conserve/conserve_server.hcl"), serverTasks)
	fs.put(path(".conserve/conserve_client.hcl"), clientTasks)
	fs.put(path("config.toml"), "# app\n[server]\nport = 8080 # public\n")
	fs.put(path(".gitignore"), "bin/\n")
	fs.put(path("client.json"), "{\n  \"port\": 8080\n}\n")

	result, err := eng.Run(ctx, &engine.RunRequest{Root: projectRoot, AutoAccept: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Disposition != engine.DispositionCommitted {
		t.Fatalf("Disposition = %q, want committed", result.Disposition)
	}

	// Tasks run in (module, name) order
	var ran []string
	for _, tr := range result.Tasks {
		ran = append(ran, tr.ID)
	}
	wantRan := []string{
		".conserve.conserve_client:conserve_client",
		".conserve.conserve_server:conserve_ignore",
		".conserve.conserve_server:conserve_port",
	}
	if diff := cmp.Diff(wantRan, ran); diff != "" {
		t.Errorf("task order mismatch (-want +got):\n%s", diff)
	}

	wantCommitted := []string{"client.json", ".gitignore", "config.toml"}
	if diff := cmp.Diff(wantCommitted, result.Committed); diff != "" {
		t.Errorf("Committed mismatch (-want +got):\n%s", diff)
	}

	if got, _ := fs.content(path("config.toml")); got != "# app\n[server]\nport = 9000 # public\n" {
		t.Errorf("config.toml = %q", got)
	}
	if got, _ := fs.content(path(".gitignore")); got != "bin/\n*.log\n" {
		t.Errorf(".gitignore = %q", got)
	}
	client, _ := fs.content(path("client.json"))
	if !strings.Contains(client, `"endpoint": "http://localhost:8080"`) {
		t.Errorf("client.json missing endpoint:\n%s", client)
	}
	if strings.Contains(client, `"port"`) {
		t.Errorf("client.json still has port:\n%s", client)
	}
}

func TestSync_AliasFileYieldsToPrimary(t *testing.T) {
	eng, fs := setupTestEngine(t, config.DefaultSettings())
	ctx := context.Background()

	fs.put(path(".conserve/conserve_server.hcl"), serverTasks)
	fs.put(path(".conserve/conf_server.hcl"), `task "conserve_legacy" {}`)
	fs.put(path(".conserve/_scratch.hcl"), `task "conserve_scratch" {}`)

	result, err := eng.List(ctx, &engine.ListRequest{Root: projectRoot})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, info := range result.Tasks {
		ids = append(ids, info.ID)
	}
	want := []string{
		".conserve.conserve_server:conserve_ignore",
		".conserve.conserve_server:conserve_port",
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_SingleTaskFile(t *testing.T) {
	eng, fs := setupTestEngine(t, config.DefaultSettings())
	ctx := context.Background()

	fs.put(path(".conserve.hcl"), serverTasks)
	fs.put(path("config.toml"), "[server]\nport = 1\n")

	result, err := eng.Run(ctx, &engine.RunRequest{Root: projectRoot, Filters: []string{"conserve_port"}, DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].ID != "conserve:conserve_port" {
		t.Errorf("unexpected tasks: %+v", result.Tasks)
	}
	if result.Disposition != engine.DispositionDryRun {
		t.Errorf("Disposition = %q", result.Disposition)
	}
	if len(fs.writes) != 0 {
		t.Errorf("dry run wrote %v", fs.writes)
	}
}

func TestSync_TaskFailureLeavesDiskUntouched(t *testing.T) {
	eng, fs := setupTestEngine(t, config.DefaultSettings())
	ctx := context.Background()

	fs.put(path(".conserve/conserve_server.hcl"), serverTasks+`
task "conserve_zbroken" {
  file "config.toml" {
    strategy = "sideways"
    merge    = { x = 1 }
  }
}
`)
	fs.put(path("config.toml"), "[server]\nport = 1\n")

	result, err := eng.Run(ctx, &engine.RunRequest{Root: projectRoot, AutoAccept: true})
	var taskErr *engine.TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if taskErr.TaskID != ".conserve.conserve_server:conserve_zbroken" {
		t.Errorf("TaskID = %q", taskErr.TaskID)
	}
	if result.Disposition != engine.DispositionRolledBack {
		t.Errorf("Disposition = %q", result.Disposition)
	}
	if len(fs.writes) != 0 {
		t.Errorf("failed run wrote %v", fs.writes)
	}
}

func TestSync_PartialCommit(t *testing.T) {
	eng, fs := setupTestEngine(t, config.Settings{AutoAccept: true})
	ctx := context.Background()

	fs.put(path(".conserve/conserve_server.hcl"), serverTasks)
	fs.put(path("config.toml"), "[server]\nport = 1\n")
	fs.put(path(".gitignore"), "bin/\n")
	fs.failWrites[path("config.toml")] = true

	result, err := eng.Run(ctx, &engine.RunRequest{Root: projectRoot})
	var commitErr *planner.CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %v", err)
	}
	if result.Disposition != engine.DispositionPartial {
		t.Errorf("Disposition = %q", result.Disposition)
	}
	if diff := cmp.Diff([]string{".gitignore"}, result.Committed); diff != "" {
		t.Errorf("Committed mismatch (-want +got):\n%s", diff)
	}
	if got, _ := fs.content(path("config.toml")); got != "[server]\nport = 1\n" {
		t.Errorf("config.toml = %q", got)
	}
}

func TestSync_PlanFile(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(fs *testFS)
		wantErr error
	}{
		{name: "fresh plan applies"},
		{
			name:    "edited target is stale",
			edit:    func(fs *testFS) { fs.put(path("config.toml"), "[server]\nport = 2\n") },
			wantErr: planner.ErrStale,
		},
		{
			name:    "new file created meanwhile is stale",
			edit:    func(fs *testFS) { fs.put(path("notes.txt"), "x\n") },
			wantErr: planner.ErrStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, fs := setupTestEngine(t, config.DefaultSettings())
			ctx := context.Background()

			fs.put(path(".conserve/conserve_server.hcl"), serverTasks+`
task "conserve_notes" {
  text "notes.txt" {
    present = ["keep"]
  }
}
`)
			fs.put(path("config.toml"), "[server]\nport = 1\n")
			fs.put(path(".gitignore"), "*.log\n")
			planFile := path("sync.plan")

			result, err := eng.Run(ctx, &engine.RunRequest{Root: projectRoot, PlanOut: planFile})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.PlanFile != planFile {
				t.Errorf("PlanFile = %q", result.PlanFile)
			}
			if tt.edit != nil {
				tt.edit(fs)
			}

			commit, err := eng.Commit(ctx, &engine.CommitRequest{Root: projectRoot, PlanFile: planFile, AutoAccept: true})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Commit() error = %v, want %v", err, tt.wantErr)
				}
				if _, ok := fs.content(planFile); !ok {
					t.Error("refused plan file should stay in place")
				}
				return
			}
			if err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if diff := cmp.Diff([]string{".gitignore", "notes.txt", "config.toml"}, commit.Committed); diff != "" {
				t.Errorf("Committed mismatch (-want +got):\n%s", diff)
			}
			if got, _ := fs.content(path("notes.txt")); got != "keep\n" {
				t.Errorf("notes.txt = %q", got)
			}
			if _, ok := fs.content(planFile); ok {
				t.Error("plan file should be removed after commit")
			}
		})
	}
}
