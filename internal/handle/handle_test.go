package handle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danieljhkim/conserve/internal/codec"
)

// recordingStager captures staged content in memory.
type recordingStager struct {
	staged map[string]string
	order  []string
}

func newRecordingStager() *recordingStager {
	return &recordingStager{staged: map[string]string{}}
}

func (s *recordingStager) Stage(path string, content []byte) error {
	if _, ok := s.staged[path]; !ok {
		s.order = append(s.order, path)
	}
	s.staged[path] = string(content)
	return nil
}

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

func TestSaveOptions_Staged(t *testing.T) {
	tests := []struct {
		name string
		opts SaveOptions
		want bool
	}{
		{name: "own path infers staged", opts: SaveOptions{}, want: true},
		{name: "other path infers direct", opts: SaveOptions{Path: "x.toml"}, want: false},
		{name: "always stages elsewhere", opts: SaveOptions{Path: "x.toml", Stage: StageAlways}, want: true},
		{name: "never writes own path", opts: SaveOptions{Stage: StageNever}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.Staged(); got != tt.want {
				t.Errorf("Staged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandle_MergeAndStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	src := "# settings\nport = 8080\nname = \"app\"\n"
	writeFile(t, path, src)

	stager := newRecordingStager()
	h, err := New(path, WithStager(stager))
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Merge(map[string]any{"port": 9000}).Save(SaveOptions{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	want := "# settings\nport = 9000\nname = \"app\"\n"
	if diff := cmp.Diff(want, stager.staged[path]); diff != "" {
		t.Errorf("staged content mismatch (-want +got):\n%s", diff)
	}
	if got := readFile(t, path); got != src {
		t.Errorf("staged save touched disk: %q", got)
	}
}

func TestHandle_SaveElsewhereWritesDirectly(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	dst := filepath.Join(dir, "nested", "out.json")
	writeFile(t, src, "{\"a\": 1}\n")

	stager := newRecordingStager()
	h, err := New(src, WithStager(stager))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Merge(map[string]any{"b": true}).Save(SaveOptions{Path: dst}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(stager.staged) != 0 {
		t.Errorf("direct save staged %v", stager.order)
	}
	want := "{\n  \"a\": 1,\n  \"b\": true\n}\n"
	if got := readFile(t, dst); got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestHandle_MissingFileLoadsEmpty(t *testing.T) {
	h, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := h.Read()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{}, v); diff != "" {
		t.Errorf("Read() of missing file mismatch:\n%s", diff)
	}
	if !h.Loaded() {
		t.Error("Read should load the handle")
	}
}

func TestHandle_DeleteIgnoresMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	writeFile(t, path, "a:\n  b: 1\n  c: 2\n")

	h, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	v, err := h.Delete("a.b", "nope.deeper", "a.zzz").Read()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"a": map[string]any{"c": int64(2)}}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestHandle_ReplaceThenSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.toml")
	writeFile(t, path, "old = true # gone\n")

	h, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Replace(map[string]any{"fresh": int64(1)}).Save(SaveOptions{Stage: StageNever}); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != "fresh = 1\n" {
		t.Errorf("written = %q", got)
	}
}

func TestHandle_StageWithoutStager(t *testing.T) {
	h, err := New(filepath.Join(t.TempDir(), "x.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Save(SaveOptions{}); !errors.Is(err, ErrNoStager) {
		t.Errorf("Save() error = %v, want ErrNoStager", err)
	}
}

func TestHandle_ParseErrorNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, path, "{not json")

	h, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Read()
	var perr *codec.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Read() error = %v, want ParseError", err)
	}
	if perr.Path != path || perr.Format != "json" {
		t.Errorf("ParseError = %+v", perr)
	}
	if err := h.Merge(map[string]any{"a": 1}).Save(SaveOptions{Stage: StageNever}); !errors.As(err, &perr) {
		t.Errorf("chained Save should report the sticky parse error, got %v", err)
	}
}

func TestHandle_SerializeErrorNamesTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.toml")
	h, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	err = h.Replace([]any{"not", "a", "table"}).Save(SaveOptions{Stage: StageNever})
	var serr *codec.SerializeError
	if !errors.As(err, &serr) || serr.Path != path {
		t.Errorf("Save() error = %v, want SerializeError for %s", err, path)
	}
}

func TestHandle_InvalidStrategy(t *testing.T) {
	h, err := New(filepath.Join(t.TempDir(), "x.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.MergeWith(map[string]any{}, "sideways").Err(); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNew_UnknownExtension(t *testing.T) {
	if _, err := New("notes.ini"); err == nil {
		t.Error("expected error for unknown extension")
	}
	h, err := New("notes.ini", WithFormat("toml"))
	if err != nil {
		t.Fatalf("WithFormat should override extension: %v", err)
	}
	if h.Format() != "toml" {
		t.Errorf("Format() = %s", h.Format())
	}
}

func TestHandles_AreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.yaml")
	writeFile(t, path, "a: 1\n")

	h1, _ := New(path)
	h2, _ := New(path)
	h1.Merge(map[string]any{"a": 2})

	v, err := h2.Read()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"a": int64(1)}, v); diff != "" {
		t.Errorf("second handle saw first handle's edit:\n%s", diff)
	}
}

// pendingStager also hands staged content back to later loads.
type pendingStager struct {
	*recordingStager
}

func (s pendingStager) Pending(path string) ([]byte, bool) {
	content, ok := s.staged[path]
	return []byte(content), ok
}

func TestHandle_LoadSeesStagedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.toml")
	writeFile(t, path, "a = 1\n")
	stager := pendingStager{newRecordingStager()}

	first, _ := New(path, WithStager(stager))
	if err := first.Set("b", 2).Save(SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	second, _ := New(path, WithStager(stager))
	if err := second.Set("c", 3).Save(SaveOptions{}); err != nil {
		t.Fatal(err)
	}

	if got := stager.staged[path]; got != "a = 1\nb = 2\nc = 3\n" {
		t.Errorf("staged = %q, want both edits", got)
	}
	if got := readFile(t, path); got != "a = 1\n" {
		t.Errorf("disk changed: %q", got)
	}
}
