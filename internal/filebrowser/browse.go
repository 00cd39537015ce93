package filebrowser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxBrowseResults = 20

// BrowseEntry is one autocomplete candidate.
type BrowseEntry struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// Browse lists entries for path autocomplete. A partial path lists the
// parent filtered by the typed prefix; an existing directory lists its
// contents. typeFilter "directory" keeps directories only. Results are
// sorted by name and capped.
func Browse(path, typeFilter string) []BrowseEntry {
	base := expand(path)
	if base == "" {
		base = userHomeDir()
	}

	dir := base
	prefix := ""
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		dir = filepath.Dir(base)
		prefix = strings.ToLower(filepath.Base(base))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []BrowseEntry
	for _, e := range entries {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(e.Name()), prefix) {
			continue
		}
		if typeFilter == "directory" && !e.IsDir() {
			continue
		}
		out = append(out, BrowseEntry{
			Path:  filepath.Join(dir, e.Name()),
			Name:  e.Name(),
			IsDir: e.IsDir(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if len(out) > maxBrowseResults {
		out = out[:maxBrowseResults]
	}
	return out
}

// systemDirs may never be creation targets.
var systemDirs = []string{"/", "/bin", "/sbin", "/usr", "/etc", "/var", "/tmp", "/dev", "/proc", "/sys"}

var systemPrefixes = []string{"/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/", "/etc/"}

// CreateDirectory creates the directory (with parents) and returns the
// resolved path. System paths are rejected.
func CreateDirectory(path string) (string, error) {
	abs := expand(path)
	if abs == "" {
		return "", fmt.Errorf("invalid path")
	}
	abs, err := filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	for _, d := range systemDirs {
		if abs == d {
			return "", fmt.Errorf("cannot create directory in system paths")
		}
	}
	for _, p := range systemPrefixes {
		if strings.HasPrefix(abs, p) {
			return "", fmt.Errorf("cannot create directory in system paths")
		}
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return abs, nil
}

// Suggestion is one candidate work dir for the create-thread flow.
type Suggestion struct {
	Path   string `json:"path"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// commonProjectDirs are scanned relative to the home directory.
var commonProjectDirs = []string{"Projects", "Code", "Developer", "repos", "workspace", "src"}

// Suggestions proposes work dirs: common project folders, git repos
// one level inside them, and recently used thread work dirs.
func Suggestions(recent []string) []Suggestion {
	home := userHomeDir()
	var out []Suggestion
	seen := make(map[string]bool)

	add := func(s Suggestion) {
		if !seen[s.Path] {
			seen[s.Path] = true
			out = append(out, s)
		}
	}

	for _, name := range commonProjectDirs {
		base := filepath.Join(home, name)
		info, err := os.Stat(base)
		if err != nil || !info.IsDir() {
			continue
		}
		add(Suggestion{Path: base, Type: "folder", Reason: "project folder"})

		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		// Scan one level deep for repos, bounded per folder.
		for i, e := range entries {
			if i >= 20 {
				break
			}
			if !e.IsDir() {
				continue
			}
			repo := filepath.Join(base, e.Name())
			if _, err := os.Stat(filepath.Join(repo, ".git")); err == nil {
				add(Suggestion{Path: repo, Type: "git", Reason: "git repo"})
			}
		}
	}

	for _, path := range recent {
		add(Suggestion{Path: path, Type: "recent", Reason: "recently used"})
	}
	return out
}

// expand resolves a leading ~ against the home directory.
func expand(path string) string {
	if path == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return path
}
