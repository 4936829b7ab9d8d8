package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/conserve/internal/clock"
	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/handle"
	"github.com/danieljhkim/conserve/internal/hash"
	"github.com/danieljhkim/conserve/internal/planner"
	"github.com/danieljhkim/conserve/internal/task"
	"github.com/danieljhkim/conserve/internal/taskfile"
)

const serverConfig = `# service settings
title = "demo"

[server]
host = "localhost" # bind address
port = 8080
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// staticLoader serves a fixed set of programmatic tasks.
func staticLoader(tasks ...*task.Task) task.Loader {
	return task.LoaderFunc(func(context.Context, string) (*task.Registry, error) {
		reg := task.NewRegistry()
		for _, t := range tasks {
			if _, err := reg.Add(t); err != nil {
				return nil, err
			}
		}
		return reg, nil
	})
}

func newTestEngine(loader task.Loader) *Engine {
	e := New(fsops.NewRealFS(), loader, hash.NewSHA256Hasher(), config.DefaultSettings())
	e.newRunID = func() string { return "run-test" }
	return e
}

// setPort stages config.toml with server.port changed.
func setPort(port int) task.Func {
	return func(_ context.Context, env *task.Env) error {
		h, err := env.Handle("config.toml")
		if err != nil {
			return err
		}
		return h.Set("server.port", port).Save(handle.SaveOptions{})
	}
}

func stageText(path, content string) task.Func {
	return func(_ context.Context, env *task.Env) error {
		return env.Stager.Stage(env.Resolve(path), []byte(content))
	}
}

func TestRun_PortScenario(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)

	e := newTestEngine(staticLoader(&task.Task{Module: ".conserve.app", Name: "conserve_port", Run: setPort(9000)}))
	var reported []planner.FileDiff
	result, err := e.Run(context.Background(), &RunRequest{
		Root:       root,
		AutoAccept: true,
		Report: func(diffs []planner.FileDiff) {
			reported = diffs
			if readFile(t, configPath) != serverConfig {
				t.Error("Report must run before anything is written")
			}
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(reported) != 1 {
		t.Fatalf("reported %d diffs", len(reported))
	}
	for _, want := range []string{"-port = 8080", "+port = 9000"} {
		if !strings.Contains(reported[0].Unified, want) {
			t.Errorf("diff missing %q:\n%s", want, reported[0].Unified)
		}
	}
	if result.Disposition != DispositionCommitted {
		t.Errorf("Disposition = %s", result.Disposition)
	}
	if diff := cmp.Diff([]string{"config.toml"}, result.Committed); diff != "" {
		t.Errorf("Committed mismatch:\n%s", diff)
	}
	want := strings.Replace(serverConfig, "port = 8080", "port = 9000", 1)
	if got := readFile(t, configPath); got != want {
		t.Errorf("config.toml = %q, want %q", got, want)
	}
}

func TestRun_OrderIsModuleThenName(t *testing.T) {
	root := t.TempDir()
	var order []string
	record := func(id string) task.Func {
		return func(context.Context, *task.Env) error {
			order = append(order, id)
			return nil
		}
	}
	e := newTestEngine(staticLoader(
		&task.Task{Module: ".conserve.b", Name: "conserve_a", Run: record("b:a")},
		&task.Task{Module: ".conserve.a", Name: "conserve_b", Run: record("a:b")},
		&task.Task{Module: ".conserve.a", Name: "conserve_a", Run: record("a:a")},
	))

	result, err := e.Run(context.Background(), &RunRequest{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a:a", "a:b", "b:a"}, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	if result.Disposition != DispositionEmpty {
		t.Errorf("Disposition = %s, want empty", result.Disposition)
	}
}

func TestRun_RecordsTaskDurations(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fake.SetStep(250 * time.Millisecond)
	noop := func(context.Context, *task.Env) error { return nil }

	e := New(fsops.NewRealFS(), staticLoader(
		&task.Task{Module: "m", Name: "conserve_a", Run: noop},
		&task.Task{Module: "m", Name: "conserve_b", Run: noop},
	), hash.NewSHA256Hasher(), config.DefaultSettings(), WithClock(fake))

	result, err := e.Run(context.Background(), &RunRequest{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	want := []TaskRun{
		{ID: "m:conserve_a", Duration: 250 * time.Millisecond},
		{ID: "m:conserve_b", Duration: 250 * time.Millisecond},
	}
	if diff := cmp.Diff(want, result.Tasks); diff != "" {
		t.Errorf("Tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_LaterTaskBuildsOnEarlierStage(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)

	addDebug := func(_ context.Context, env *task.Env) error {
		h, err := env.Handle("config.toml")
		if err != nil {
			return err
		}
		return h.Set("server.debug", true).Save(handle.SaveOptions{})
	}
	e := newTestEngine(staticLoader(
		&task.Task{Module: "m", Name: "conserve_a_port", Run: setPort(9000)},
		&task.Task{Module: "m", Name: "conserve_b_debug", Run: addDebug},
	))

	if _, err := e.Run(context.Background(), &RunRequest{Root: root, AutoAccept: true}); err != nil {
		t.Fatal(err)
	}
	want := strings.Replace(serverConfig, "port = 8080\n", "port = 9000\ndebug = true\n", 1)
	if got := readFile(t, configPath); got != want {
		t.Errorf("config.toml = %q, want %q", got, want)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)

	e := newTestEngine(staticLoader(
		&task.Task{Module: "m", Name: "conserve_port", Run: setPort(9000)},
		&task.Task{Module: "m", Name: "conserve_new", Run: stageText("new.txt", "hi\n")},
	))
	result, err := e.Run(context.Background(), &RunRequest{Root: root, DryRun: true, AutoAccept: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Disposition != DispositionDryRun {
		t.Errorf("Disposition = %s", result.Disposition)
	}
	if len(result.Diffs) != 2 {
		t.Errorf("Diffs = %d, want 2", len(result.Diffs))
	}
	if diff := cmp.Diff([]string{"new.txt", "config.toml"}, result.Discarded); diff != "" {
		t.Errorf("Discarded mismatch:\n%s", diff)
	}
	if readFile(t, configPath) != serverConfig {
		t.Error("dry run modified config.toml")
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); !os.IsNotExist(err) {
		t.Error("dry run created new.txt")
	}
}

func TestRun_Confirmation(t *testing.T) {
	tests := []struct {
		name    string
		confirm ConfirmFunc
		wantErr error
		wantRes Disposition
		written bool
	}{
		{name: "accepted", confirm: func(*planner.Plan) (bool, error) { return true, nil }, wantRes: DispositionCommitted, written: true},
		{name: "declined", confirm: func(*planner.Plan) (bool, error) { return false, nil }, wantErr: ErrDeclined, wantRes: DispositionDeclined},
		{name: "no confirmer", confirm: nil, wantErr: ErrDeclined, wantRes: DispositionDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "out.txt")
			e := newTestEngine(staticLoader(&task.Task{Module: "m", Name: "conserve_out", Run: stageText("out.txt", "x\n")}))

			result, err := e.Run(context.Background(), &RunRequest{Root: root, Confirm: tt.confirm})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if result.Disposition != tt.wantRes {
				t.Errorf("Disposition = %s, want %s", result.Disposition, tt.wantRes)
			}
			_, statErr := os.Stat(path)
			if written := statErr == nil; written != tt.written {
				t.Errorf("out.txt written = %v, want %v", written, tt.written)
			}
			if !tt.written {
				if diff := cmp.Diff([]string{"out.txt"}, result.Discarded); diff != "" {
					t.Errorf("Discarded mismatch:\n%s", diff)
				}
			}
		})
	}
}

func TestRun_TaskFailureRollsBackWholeRun(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)

	boom := errors.New("boom")
	ranAfter := false
	e := newTestEngine(staticLoader(
		&task.Task{Module: "m", Name: "conserve_a", Run: setPort(9000)},
		&task.Task{Module: "m", Name: "conserve_b", Run: func(_ context.Context, env *task.Env) error {
			if err := env.Stager.Stage(env.Resolve("partial.txt"), []byte("half\n")); err != nil {
				return err
			}
			return boom
		}},
		&task.Task{Module: "m", Name: "conserve_c", Run: func(context.Context, *task.Env) error {
			ranAfter = true
			return nil
		}},
	))

	result, err := e.Run(context.Background(), &RunRequest{Root: root, AutoAccept: true})
	var terr *TaskError
	if !errors.As(err, &terr) || terr.TaskID != "m:conserve_b" || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want TaskError for m:conserve_b", err)
	}
	if ranAfter {
		t.Error("tasks after a failure must not run")
	}
	if result.Disposition != DispositionRolledBack {
		t.Errorf("Disposition = %s", result.Disposition)
	}
	// Both the failing task's stage and the earlier task's stage are dropped.
	if diff := cmp.Diff([]string{"config.toml", "partial.txt"}, result.Discarded); diff != "" {
		t.Errorf("Discarded mismatch:\n%s", diff)
	}
	if readFile(t, configPath) != serverConfig {
		t.Error("failed run modified config.toml")
	}
}

func TestRun_Filters(t *testing.T) {
	root := t.TempDir()
	var ran []string
	record := func(name string) task.Func {
		return func(context.Context, *task.Env) error {
			ran = append(ran, name)
			return nil
		}
	}
	loader := staticLoader(
		&task.Task{Module: "m", Name: "conserve_a", Run: record("a")},
		&task.Task{Module: "m", Name: "conserve_b", Run: record("b")},
	)

	e := newTestEngine(loader)
	if _, err := e.Run(context.Background(), &RunRequest{Root: root, Filters: []string{"m:conserve_b"}}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b"}, ran); diff != "" {
		t.Errorf("ran mismatch:\n%s", diff)
	}

	_, err := e.Run(context.Background(), &RunRequest{Root: root, Filters: []string{"conserve_zzz"}})
	if !errors.Is(err, task.ErrNoMatch) {
		t.Errorf("Run() error = %v, want ErrNoMatch", err)
	}

	ran = nil
	settings := config.DefaultSettings()
	settings.Tasks = []string{"conserve_a"}
	e = New(fsops.NewRealFS(), loader, hash.NewSHA256Hasher(), settings)
	if _, err := e.Run(context.Background(), &RunRequest{Root: root}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, ran); diff != "" {
		t.Errorf("configured default selection mismatch:\n%s", diff)
	}
}

func TestRun_UnchangedStageIsEmpty(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)

	e := newTestEngine(staticLoader(&task.Task{Module: "m", Name: "conserve_same", Run: setPort(8080)}))
	result, err := e.Run(context.Background(), &RunRequest{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if result.Disposition != DispositionEmpty || len(result.Diffs) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunPlanOutThenCommit(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)
	planPath := filepath.Join(t.TempDir(), "changes.plan")

	e := newTestEngine(staticLoader(&task.Task{Module: "m", Name: "conserve_port", Run: setPort(9000)}))
	result, err := e.Run(context.Background(), &RunRequest{Root: root, PlanOut: planPath, AutoAccept: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Disposition != DispositionDryRun || result.PlanFile != planPath {
		t.Fatalf("result = %+v", result)
	}
	if readFile(t, configPath) != serverConfig {
		t.Fatal("exporting a plan must not write targets")
	}

	committed, err := e.Commit(context.Background(), &CommitRequest{Root: root, PlanFile: planPath, AutoAccept: true})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if committed.RunID != "run-test" || committed.Disposition != DispositionCommitted {
		t.Errorf("result = %+v", committed)
	}
	if !strings.Contains(readFile(t, configPath), "port = 9000") {
		t.Error("plan not applied")
	}
	if _, err := os.Stat(planPath); !os.IsNotExist(err) {
		t.Error("plan file should be removed after commit")
	}
}

func TestCommit_StalePlan(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.toml")
	writeFile(t, configPath, serverConfig)
	planPath := filepath.Join(t.TempDir(), "changes.plan")

	e := newTestEngine(staticLoader(&task.Task{Module: "m", Name: "conserve_port", Run: setPort(9000)}))
	if _, err := e.Run(context.Background(), &RunRequest{Root: root, PlanOut: planPath}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, configPath, serverConfig+"extra = 1\n")

	_, err := e.Commit(context.Background(), &CommitRequest{Root: root, PlanFile: planPath, AutoAccept: true})
	if !errors.Is(err, planner.ErrStale) {
		t.Fatalf("Commit() error = %v, want ErrStale", err)
	}
	if !strings.Contains(readFile(t, configPath), "port = 8080") {
		t.Error("stale plan was applied")
	}
	if _, err := os.Stat(planPath); err != nil {
		t.Error("stale plan file should be kept")
	}
}

func TestListAndInfo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".conserve", "conserve_app.hcl"), `# header comment
task "conserve_port" {
  description = "Move the service port."
  file "config.toml" {
    merge = { server = { port = 9000 } }
  }
}

task "conf_alias" {}
`)
	e := newTestEngine(taskfile.NewLoader(fsops.NewRealFS()))

	list, err := e.List(context.Background(), &ListRequest{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, ti := range list.Tasks {
		ids = append(ids, ti.ID)
	}
	want := []string{".conserve.conserve_app:conf_alias", ".conserve.conserve_app:conserve_port"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	info, err := e.Info(context.Background(), &InfoRequest{Root: root, Task: "conserve_port"})
	if err != nil {
		t.Fatal(err)
	}
	if info.Description != "Move the service port." || info.Source.Line != 2 {
		t.Errorf("Info() = %+v", info)
	}
	wantSnippet := []string{
		`task "conserve_port" {`,
		`  description = "Move the service port."`,
		`  file "config.toml" {`,
		`    merge = { server = { port = 9000 } }`,
		`  }`,
		`}`,
	}
	if diff := cmp.Diff(wantSnippet, info.Snippet); diff != "" {
		t.Errorf("Snippet mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.Info(context.Background(), &InfoRequest{Root: root, Task: "conserve_none"}); !errors.Is(err, task.ErrNoMatch) {
		t.Errorf("Info() error = %v, want ErrNoMatch", err)
	}
}
