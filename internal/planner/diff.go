package planner

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// File statuses reported in FileDiff.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
)

const diffContext = 3

// noNewlineMarker follows a last line that has no terminator.
const noNewlineMarker = "\\ No newline at end of file"

// FileDiff is the rendered change for one staged path.
type FileDiff struct {
	// Path is the target path relative to the plan root
	Path string `json:"path"`

	// Status is StatusAdded for files that do not exist yet, else StatusModified
	Status string `json:"status"`

	// Unified is the unified diff text, headers included
	Unified string `json:"unified"`

	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Diffs renders a diff for every staged path whose pending content differs
// from its original, in first-staged order.
func (p *Plan) Diffs() ([]FileDiff, error) {
	p.mu.Lock()
	entries := p.snapshot()
	p.mu.Unlock()

	out := make([]FileDiff, 0, len(entries))
	for _, e := range entries {
		if !e.Changed() {
			continue
		}
		fd, err := p.diffEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// DiffSummary joins the unified diffs of all changed paths.
func (p *Plan) DiffSummary() (string, error) {
	diffs, err := p.Diffs()
	if err != nil {
		return "", err
	}
	parts := make([]string, len(diffs))
	for i, d := range diffs {
		parts[i] = d.Unified
	}
	return strings.Join(parts, "\n"), nil
}

func (p *Plan) diffEntry(e Entry) (FileDiff, error) {
	rel := p.rel(e.Path)
	fd := FileDiff{Path: rel, Status: StatusModified}
	from := rel
	if e.Absent {
		fd.Status = StatusAdded
		from = "/dev/null"
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(e.Original)),
		B:        splitLines(string(e.Pending)),
		FromFile: from,
		ToFile:   rel,
		Context:  diffContext,
	})
	if err != nil {
		return FileDiff{}, err
	}
	if text == "" {
		// New empty file: nothing differs line-wise, but the file appears.
		text = "--- " + from + "\n+++ " + rel + "\n"
	}
	fd.Unified = text
	fd.Additions, fd.Deletions = countChanges(text)
	return fd, nil
}

// splitLines keeps line terminators. A dangling last line is terminated and
// tagged with the no-newline marker, so a change to the final newline alone
// still shows up as a changed line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n" + noNewlineMarker + "\n"
	}
	return lines
}

func countChanges(unified string) (additions, deletions int) {
	inHunk := false
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			inHunk = true
		case !inHunk:
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}
