package filebrowser

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// alwaysIgnore is applied on top of the work dir's .gitignore. Keeps
// dependency trees and tool state out of the @file picker.
var alwaysIgnore = []string{
	".git", ".git/**", "__pycache__", "__pycache__/**",
	"node_modules", "node_modules/**", ".venv", ".venv/**",
	"*.pyc", "*.pyo", ".DS_Store", "*.swp", "*.swo",
	".mainthread", ".mainthread/**",
}

// FileMatch is one hit in a work-dir file search.
type FileMatch struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// SearchWorkDir walks workDir and returns files matching query
// (case-insensitive substring on the relative path), honouring the
// directory's .gitignore plus the built-in ignore set. Results are cut
// at limit.
func SearchWorkDir(workDir, query string, limit int) []FileMatch {
	if limit <= 0 {
		return nil
	}
	if _, err := os.Stat(workDir); err != nil {
		return nil
	}

	patterns := append(loadGitignore(filepath.Join(workDir, ".gitignore")), alwaysIgnore...)
	queryLower := strings.ToLower(query)

	var files []FileMatch
	_ = filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignored(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if queryLower != "" && !strings.Contains(strings.ToLower(rel), queryLower) {
			return nil
		}

		files = append(files, FileMatch{Path: rel, Name: d.Name()})
		if len(files) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	return files
}

// loadGitignore reads non-comment, non-empty lines from a .gitignore.
// A trailing "/" marks a directory pattern; it is normalised to match
// the directory and everything below it.
func loadGitignore(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if trimmed, ok := strings.CutSuffix(line, "/"); ok {
			patterns = append(patterns, trimmed, trimmed+"/**")
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// ignored reports whether the relative path matches any pattern, on
// the full path or on its base name.
func ignored(rel string, patterns []string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
