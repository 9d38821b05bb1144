package divergence

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// Status classifies one file in a divergence report.
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusModified  Status = "modified"
	StatusDeleted   Status = "deleted"
	StatusAdded     Status = "added"
)

// Report partitions the union of baseline and current paths. Every path
// appears in exactly one list; lists are sorted.
type Report struct {
	Unchanged []string `json:"unchanged" yaml:"unchanged"`
	Modified  []string `json:"modified" yaml:"modified"`
	Deleted   []string `json:"deleted" yaml:"deleted"`
	Added     []string `json:"added" yaml:"added"`
}

// HasModifications reports whether any baseline file was edited.
func (r *Report) HasModifications() bool {
	return len(r.Modified) > 0
}

// Total returns the number of paths in the report.
func (r *Report) Total() int {
	return len(r.Unchanged) + len(r.Modified) + len(r.Deleted) + len(r.Added)
}

// StatusOf returns the status of path, or false if it is not in the report.
func (r *Report) StatusOf(p string) (Status, bool) {
	lists := []struct {
		status Status
		paths  []string
	}{
		{StatusUnchanged, r.Unchanged},
		{StatusModified, r.Modified},
		{StatusDeleted, r.Deleted},
		{StatusAdded, r.Added},
	}
	for _, l := range lists {
		i := sort.SearchStrings(l.paths, p)
		if i < len(l.paths) && l.paths[i] == p {
			return l.status, true
		}
	}
	return "", false
}

// Summary returns a one-line description such as "3 modified, 1 deleted, 2 added, 40 unchanged".
func (r *Report) Summary() string {
	return fmt.Sprintf("%d modified, %d deleted, %d added, %d unchanged",
		len(r.Modified), len(r.Deleted), len(r.Added), len(r.Unchanged))
}

// Analyze compares two manifests. It has no side effects.
func Analyze(baseline, current Manifest) *Report {
	r := &Report{
		Unchanged: []string{},
		Modified:  []string{},
		Deleted:   []string{},
		Added:     []string{},
	}
	for p, baseHash := range baseline {
		curHash, ok := current[p]
		switch {
		case !ok:
			r.Deleted = append(r.Deleted, p)
		case curHash == baseHash:
			r.Unchanged = append(r.Unchanged, p)
		default:
			r.Modified = append(r.Modified, p)
		}
	}
	for p := range current {
		if _, ok := baseline[p]; !ok {
			r.Added = append(r.Added, p)
		}
	}
	sort.Strings(r.Unchanged)
	sort.Strings(r.Modified)
	sort.Strings(r.Deleted)
	sort.Strings(r.Added)
	return r
}

// FileDiff is a detailed comparison of one file.
type FileDiff struct {
	Path        string `json:"path"`
	IsBinary    bool   `json:"is_binary"`
	UnifiedDiff string `json:"unified_diff,omitempty"`
}

// Diff produces a unified diff between the baseline and current content of
// path. Binary files yield no diff text.
func Diff(p string, baseline, current []byte) (*FileDiff, error) {
	result := &FileDiff{Path: p}
	if IsBinary(baseline) || IsBinary(current) {
		result.IsBinary = true
		return result, nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(NormalizeText(baseline))),
		B:        difflib.SplitLines(string(NormalizeText(current))),
		FromFile: "a/" + p,
		ToFile:   "b/" + p,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", p, err)
	}
	result.UnifiedDiff = text
	return result, nil
}
