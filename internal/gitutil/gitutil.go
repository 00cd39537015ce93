// Package gitutil shells out to git for the thread-facing repo
// queries: branch detection for new threads and the worktree lifecycle
// for isolated sub-thread checkouts.
package gitutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
)

var errNotGitRepo = errors.New("not a git repository")

// Info describes a work directory's git context as shown on a thread.
type Info struct {
	IsGitRepo  bool   `json:"isGitRepo"`
	IsWorktree bool   `json:"isWorktree"`
	RepoRoot   string `json:"repoRoot,omitempty"`
	RepoName   string `json:"repoName,omitempty"`
	// Branch is the checked-out branch, or "(shorthash)" on a
	// detached HEAD.
	Branch string `json:"branch,omitempty"`
}

// Detect inspects a work directory. A path outside any git repo
// returns Info{IsGitRepo: false} and no error.
func Detect(dir string) (*Info, error) {
	gitDir, isWorktree, err := findGitRoot(dir)
	if err != nil {
		if errors.Is(err, errNotGitRepo) {
			return &Info{}, nil
		}
		return nil, err
	}

	repoRoot := filepath.Dir(gitDir)
	return &Info{
		IsGitRepo:  true,
		IsWorktree: isWorktree,
		RepoRoot:   repoRoot,
		RepoName:   filepath.Base(repoRoot),
		Branch:     Head(dir),
	}, nil
}

// Head returns the current branch name, or "(shorthash)" when HEAD is
// detached. Best-effort: empty string when git fails.
func Head(dir string) string {
	out, err := exec.Command("git", "-C", dir, "branch", "--show-current").Output()
	if err != nil {
		return ""
	}
	if branch := strings.TrimSpace(string(out)); branch != "" {
		return branch
	}

	// Detached HEAD: show the short hash instead.
	out, err = exec.Command("git", "-C", dir, "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	if hash := strings.TrimSpace(string(out)); hash != "" {
		return "(" + hash + ")"
	}
	return ""
}

// Branches lists the repo's local branch names. Best-effort: nil when
// git fails or the directory is not a repo.
func Branches(dir string) []string {
	out, err := exec.Command("git", "-C", dir, "branch", "--format=%(refname:short)").Output()
	if err != nil {
		return nil
	}
	var branches []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches
}

// ValidateBranchName enforces git-check-ref-format rules on the names
// we synthesise and on user-supplied branch parameters.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("branch name must be at most 256 characters")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("branch name must not contain control characters")
		}
		switch r {
		case ' ', '~', '^', ':', '?', '*', '[', ']', '\\':
			return fmt.Errorf("branch name must not contain '%c'", r)
		}
	}
	if name[0] == '/' || name[0] == '.' || name[0] == '-' || name[0] == '@' {
		return fmt.Errorf("branch name must not start with '%c'", name[0])
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name must not end with /, ., or .lock")
	}
	for _, sub := range []string{"..", "//", "/."} {
		if strings.Contains(name, sub) {
			return fmt.Errorf("branch name must not contain '%s'", sub)
		}
	}
	return nil
}

// findGitRoot walks up from path looking for .git. Returns the main
// repo's .git directory and whether the containing tree is a linked
// worktree.
func findGitRoot(path string) (gitDir string, isWorktree bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false, err
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	dir := absPath
	for {
		dotGit := filepath.Join(dir, ".git")
		fi, statErr := os.Lstat(dotGit)
		if statErr == nil {
			if fi.IsDir() {
				return dotGit, false, nil
			}
			// Linked worktree: .git is a file pointing back into the
			// main repo.
			mainGitDir, err := resolveWorktreeGitFile(dotGit)
			if err != nil {
				return "", false, err
			}
			return mainGitDir, true, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, errNotGitRepo
		}
		dir = parent
	}
}

// resolveWorktreeGitFile resolves a linked worktree's .git file
// ("gitdir: <main>/.git/worktrees/<name>") back to the main repo's
// .git directory.
func resolveWorktreeGitFile(dotGitFile string) (string, error) {
	data, err := os.ReadFile(dotGitFile)
	if err != nil {
		return "", fmt.Errorf("read .git file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "gitdir: ") {
		return "", fmt.Errorf("unexpected .git file content: %q", content)
	}

	gitDir := strings.TrimPrefix(content, "gitdir: ")
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(filepath.Dir(dotGitFile), gitDir)
	}
	gitDir = filepath.Clean(gitDir)
	if resolved, err := filepath.EvalSymlinks(gitDir); err == nil {
		gitDir = resolved
	}

	// gitDir is <main>/.git/worktrees/<name>; walk back to <main>/.git.
	for dir := gitDir; ; {
		if filepath.Base(dir) == ".git" {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .git directory above %q", gitDir)
		}
		dir = parent
	}
}
