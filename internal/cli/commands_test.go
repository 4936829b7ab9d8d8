package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/engine"
)

const portTask = `task "conserve_port" {
  description = "Pin the server port."
  file "config.toml" {
    merge = { server = { port = 9000 } }
  }
}
`

const originalConfig = "[server]\nport = 8080 # public\n"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// setupProject creates a project root with one task file and config.toml.
func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, ".conserve", "conserve_sync.hcl"), portTask)
	writeTestFile(t, filepath.Join(root, "config.toml"), originalConfig)
	for _, key := range []string{config.EnvRoot, config.EnvAutoAccept, config.EnvLogLevel, config.EnvLogFormat} {
		t.Setenv(key, "")
	}
	return root
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	return string(data)
}

func resetFlags() {
	jsonOutput = false
	rootDir = ""
	verbose = false
	runDryRun = false
	runYes = false
	runOut = ""
	commitYes = false
	commitKeep = false
}

// execute runs the root command with args and stdin and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var bufOut, bufErr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&bufOut)
	rootCmd.SetErr(&bufErr)
	rootCmd.SetIn(strings.NewReader(stdin))

	err := rootCmd.Execute()
	return bufOut.String(), err
}

func TestHelpListsCommandGroups(t *testing.T) {
	out, err := execute(t, "", "--help")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"Tasks:", "Plans:", "CLI & Tooling:", "run", "commit", "list", "info"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out) != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", out)
	}
}

func TestListCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "", "list", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{".conserve.conserve_sync:conserve_port", "Pin the server port.", "1 task"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestListCommand_NoTasks(t *testing.T) {
	root := t.TempDir()
	t.Setenv(config.EnvAutoAccept, "")

	out, err := execute(t, "", "list", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "No tasks found") {
		t.Errorf("expected empty state, got:\n%s", out)
	}
}

func TestListCommand_JSONOutput(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "", "list", "--json", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var result engine.ListResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %q", err, out)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].Name != "conserve_port" {
		t.Errorf("unexpected tasks: %+v", result.Tasks)
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "", "run", "--dry-run", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"M config.toml", "-port = 8080 # public", "+port = 9000 # public", "1 file changed", "Dry run"} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out)
		}
	}
	if got := readTestFile(t, filepath.Join(root, "config.toml")); got != originalConfig {
		t.Errorf("dry run wrote config.toml: %q", got)
	}
}

func TestRunCommand_Yes(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "", "run", "--yes", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "Applied 1 file") {
		t.Errorf("expected applied message, got:\n%s", out)
	}
	if got := readTestFile(t, filepath.Join(root, "config.toml")); got != "[server]\nport = 9000 # public\n" {
		t.Errorf("config.toml = %q", got)
	}
}

func TestRunCommand_Prompt(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		want    string
		wantErr bool
	}{
		{name: "accept", answer: "y\n", want: "[server]\nport = 9000 # public\n"},
		{name: "accept long form", answer: "YES\n", want: "[server]\nport = 9000 # public\n"},
		{name: "decline", answer: "n\n", want: originalConfig, wantErr: true},
		{name: "empty answer", answer: "", want: originalConfig, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := setupProject(t)

			out, err := execute(t, tt.answer, "run", "--root", root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, engine.ErrDeclined) {
				t.Errorf("expected ErrDeclined, got %v", err)
			}
			if !strings.Contains(out, confirmPrompt) {
				t.Errorf("prompt not shown:\n%s", out)
			}
			if got := readTestFile(t, filepath.Join(root, "config.toml")); got != tt.want {
				t.Errorf("config.toml = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunCommand_JSONDeclinesWithoutYes(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "y\n", "run", "--json", "--root", root)
	if !errors.Is(err, engine.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	var result engine.RunResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %q", err, out)
	}
	if result.Disposition != engine.DispositionDeclined {
		t.Errorf("Disposition = %q", result.Disposition)
	}
	if diff := cmp.Diff([]string{"config.toml"}, result.Discarded); diff != "" {
		t.Errorf("Discarded mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCommand_UnknownTask(t *testing.T) {
	root := setupProject(t)

	if _, err := execute(t, "", "run", "nope", "--root", root); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestInfoCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, "", "info", "conserve_port", "--root", root)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{
		"ID: .conserve.conserve_sync:conserve_port",
		"Defined in: .conserve/conserve_sync.hcl:1",
		`task "conserve_port" {`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}

func TestRunOutThenCommit(t *testing.T) {
	root := setupProject(t)
	planFile := filepath.Join(root, "port.plan")

	out, err := execute(t, "", "run", "--out", planFile, "--root", root)
	if err != nil {
		t.Fatalf("run --out error = %v", err)
	}
	if !strings.Contains(out, "Plan written to") {
		t.Errorf("expected plan message, got:\n%s", out)
	}
	if got := readTestFile(t, filepath.Join(root, "config.toml")); got != originalConfig {
		t.Fatalf("run --out wrote config.toml: %q", got)
	}

	out, err = execute(t, "", "commit", planFile, "--yes", "--root", root)
	if err != nil {
		t.Fatalf("commit error = %v", err)
	}
	if !strings.Contains(out, "Applied 1 file") {
		t.Errorf("expected applied message, got:\n%s", out)
	}
	if got := readTestFile(t, filepath.Join(root, "config.toml")); got != "[server]\nport = 9000 # public\n" {
		t.Errorf("config.toml = %q", got)
	}
	if _, err := os.Stat(planFile); !os.IsNotExist(err) {
		t.Errorf("plan file should be removed after commit, stat err = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "declined", err: engine.ErrDeclined, want: ExitDeclined},
		{name: "wrapped declined", err: errors.Join(errors.New("x"), engine.ErrDeclined), want: ExitDeclined},
		{name: "other", err: errors.New("boom"), want: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	if got := FormatError(errors.New("boom")); got != "Error: boom" {
		t.Errorf("FormatError() = %q", got)
	}
}
