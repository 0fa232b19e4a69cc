// Package issue locates and loads diagnosable issues. An issue is a
// directory holding an issue.md problem description plus the incident
// artifacts (logs, traces, optional source reference). Issues are immutable
// for the duration of a run.
package issue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DescriptionFile is the problem statement inside each issue directory.
const DescriptionFile = "issue.md"

// Issue is a loaded problem to diagnose.
type Issue struct {
	// ID is the issue directory name.
	ID string

	// Description is the free-text problem statement from issue.md.
	Description string

	// Dir is the absolute path to the issue directory.
	Dir string
}

// Discover lists all issues under the configured issue directories, sorted
// by ID. A subdirectory counts as an issue when it contains issue.md.
func Discover(issueDirs []string) ([]Issue, error) {
	var issues []Issue
	seen := make(map[string]bool)

	for _, root := range issueDirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to read issue dir %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			descPath := filepath.Join(dir, DescriptionFile)
			if _, err := os.Stat(descPath); err != nil {
				continue
			}
			if seen[entry.Name()] {
				return nil, fmt.Errorf("duplicate issue id %q across issue dirs", entry.Name())
			}
			seen[entry.Name()] = true

			abs, err := filepath.Abs(dir)
			if err != nil {
				return nil, err
			}
			issues = append(issues, Issue{ID: entry.Name(), Dir: abs})
		}
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	return issues, nil
}

// Resolve finds an issue by selector and loads its description. The selector
// matches an issue ID exactly, or uniquely as a prefix.
func Resolve(issueDirs []string, selector string) (*Issue, error) {
	issues, err := Discover(issueDirs)
	if err != nil {
		return nil, err
	}

	var matched []Issue
	for _, iss := range issues {
		if iss.ID == selector {
			matched = []Issue{iss}
			break
		}
		if strings.HasPrefix(iss.ID, selector) {
			matched = append(matched, iss)
		}
	}

	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("no issue matches selector %q", selector)
	case 1:
		return load(matched[0])
	default:
		ids := make([]string, 0, len(matched))
		for _, m := range matched {
			ids = append(ids, m.ID)
		}
		return nil, fmt.Errorf("selector %q is ambiguous: matches %v", selector, ids)
	}
}

func load(iss Issue) (*Issue, error) {
	descPath := filepath.Join(iss.Dir, DescriptionFile)
	data, err := os.ReadFile(descPath) // #nosec G304 -- path built from discovered issue dir
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", descPath, err)
	}
	description := strings.TrimSpace(string(data))
	if description == "" {
		return nil, fmt.Errorf("issue %s has an empty description", iss.ID)
	}
	iss.Description = description
	return &iss, nil
}
