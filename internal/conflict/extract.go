// Package conflict estimates which active tasks are likely to edit the same
// files. Everything here is a heuristic hint, never ground truth.
package conflict

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/aristath/taskgraph/internal/scheduler"
)

var (
	// "file: src/app.go", "path: docs/", "files: a.go"
	explicitPathPattern = regexp.MustCompile("(?i)\\b(?:file|path)s?:\\s*`?([\\w./\\\\-]+)")

	// Conventional source-directory prefixes
	sourceDirPattern = regexp.MustCompile(`(?i)\b((?:src|lib|app|pkg|internal|cmd|test|tests|spec|components|pages|api|scripts|docs)[/\\][\w./\\-]*[\w-])`)

	// Filename-with-extension tokens
	fileNamePattern = regexp.MustCompile(`(?i)\b([\w./\\-]*[\w-]\.(?:go|py|js|jsx|ts|tsx|rs|java|rb|php|c|h|cpp|cs|swift|kt|css|scss|html|md|json|ya?ml|toml|sql|sh))\b`)

	// "in the utils directory", "under pkg/auth folder"
	dirMentionPattern = regexp.MustCompile("(?i)\\b(?:in|under|within|inside)\\s+(?:the\\s+)?`?([\\w.-]+(?:/[\\w.-]+)*)/?`?\\s+(?:directory|folder|dir|package|module)\\b")

	textPatterns = []*regexp.Regexp{explicitPathPattern, sourceDirPattern, fileNamePattern, dirMentionPattern}
)

// ExtractFiles returns the normalized, deduplicated set of paths a task is
// likely to touch. An explicit metadata file list wins over text heuristics.
func ExtractFiles(task *scheduler.Task) []string {
	if task == nil {
		return nil
	}

	if explicit := metadataFiles(task); len(explicit) > 0 {
		return dedupe(explicit)
	}

	text := task.Subject + "\n" + task.Description
	var found []string
	for _, pattern := range textPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			found = append(found, m[1])
		}
	}
	return dedupe(found)
}

func metadataFiles(task *scheduler.Task) []string {
	if task.Metadata == nil {
		return nil
	}

	switch v := task.Metadata[scheduler.MetadataFiles].(type) {
	case []string:
		return v
	case []any:
		files := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				files = append(files, fmt.Sprint(item))
			}
		}
		return files
	case string:
		return strings.Split(v, ",")
	}
	return nil
}

// NormalizePath lower-cases p, converts separators to '/', and strips a
// leading "./" plus trailing slashes and punctuation.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.ToLower(p)
	p = strings.TrimRight(p, ".,;:)`'\"")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimRight(p, "/")
	return p
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := []string{}
	for _, p := range paths {
		n := NormalizePath(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Overlaps reports whether two paths likely refer to the same file: equal
// paths, a parent/child pair, or the same dotted file name in different trees.
// exact is true only for identical paths.
func Overlaps(a, b string) (overlap, exact bool) {
	a, b = NormalizePath(a), NormalizePath(b)
	if a == "" || b == "" {
		return false, false
	}
	if a == b {
		return true, true
	}
	if strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/") {
		return true, false
	}
	if base := path.Base(a); base == path.Base(b) && strings.Contains(base, ".") {
		return true, false
	}
	return false, false
}

// SharedFiles compares two file sets and returns the paths involved in any
// overlap, plus whether at least one pair was identical.
func SharedFiles(a, b []string) (shared []string, exact bool) {
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			shared = append(shared, p)
		}
	}

	for _, pa := range a {
		for _, pb := range b {
			overlap, same := Overlaps(pa, pb)
			if !overlap {
				continue
			}
			exact = exact || same
			add(NormalizePath(pa))
			add(NormalizePath(pb))
		}
	}
	return shared, exact
}
