package gitutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	worktreeDir    = ".mainthread/worktrees"
	branchPrefix   = "mainthread/"
	maxNameSuffix  = 9
	threadIDPrefix = 8
)

// Worktree describes a checkout created for a sub-thread.
type Worktree struct {
	Path   string
	Branch string
}

// PlanWorktree picks a free worktree path and branch name for the
// thread: {repo}/.mainthread/worktrees/{id8} on branch
// mainthread/{id8}, with -2..-9 suffixes when either is taken.
func PlanWorktree(repoRoot, threadID string) (*Worktree, error) {
	base := strings.ReplaceAll(threadID, "-", "")
	if len(base) > threadIDPrefix {
		base = base[:threadIDPrefix]
	}

	for i := 1; i <= maxNameSuffix; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(repoRoot, worktreeDir, name)
		branch := branchPrefix + name

		if _, err := os.Lstat(path); err == nil {
			continue
		}
		inUse, err := IsBranchInUse(repoRoot, branch)
		if err != nil {
			return nil, err
		}
		if inUse {
			continue
		}
		if err := validateWorktreePath(repoRoot, path); err != nil {
			return nil, err
		}
		return &Worktree{Path: path, Branch: branch}, nil
	}
	return nil, fmt.Errorf("no free worktree slot for %s under %s", base, repoRoot)
}

// validateWorktreePath rejects targets that escape the repo or would
// cross a symlink on the way down from the repo root.
func validateWorktreePath(repoRoot, path string) error {
	resolved := filepath.Clean(path)
	rel, err := filepath.Rel(repoRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("worktree path %q escapes repository %q", path, repoRoot)
	}

	dir := repoRoot
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		if err != nil {
			break // rest of the path doesn't exist yet
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("worktree path %q crosses symlink %q", path, dir)
		}
	}
	return nil
}

// CreateWorktree creates the checkout at wt.Path on a new branch
// wt.Branch from startPoint. An existing branch of that name is
// checked out instead.
func CreateWorktree(repoRoot string, wt *Worktree, startPoint string) error {
	if err := ValidateBranchName(wt.Branch); err != nil {
		return fmt.Errorf("invalid branch name: %w", err)
	}
	if fi, err := os.Stat(filepath.Join(repoRoot, ".git")); err != nil || !fi.IsDir() {
		return fmt.Errorf("%q is not a git repository", repoRoot)
	}
	if err := os.MkdirAll(filepath.Dir(wt.Path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	cmd := exec.Command("git", "-C", repoRoot, "worktree", "add", wt.Path, "-b", wt.Branch, startPoint)
	if output, err := cmd.CombinedOutput(); err != nil {
		outStr := strings.TrimSpace(string(output))
		if strings.Contains(outStr, "already exists") {
			cmd = exec.Command("git", "-C", repoRoot, "worktree", "add", wt.Path, wt.Branch)
			if output, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("git worktree add: %s", strings.TrimSpace(string(output)))
			}
			return nil
		}
		return fmt.Errorf("git worktree add: %s", outStr)
	}
	return nil
}

// RemoveWorktree force-removes a worktree, falling back to a manual
// delete plus prune when git refuses.
func RemoveWorktree(repoRoot, worktreePath string) error {
	if fi, err := os.Stat(filepath.Join(repoRoot, ".git")); err != nil || !fi.IsDir() {
		return fmt.Errorf("%q is not a git repository", repoRoot)
	}

	cmd := exec.Command("git", "-C", repoRoot, "worktree", "remove", worktreePath, "--force")
	if output, err := cmd.CombinedOutput(); err != nil {
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			return fmt.Errorf("git worktree remove: %s; manual removal also failed: %w",
				strings.TrimSpace(string(output)), rmErr)
		}
		_ = exec.Command("git", "-C", repoRoot, "worktree", "prune").Run()
	}

	// Drop the worktrees directory when it emptied out. os.Remove
	// refuses non-empty directories, so this is safe.
	_ = os.Remove(filepath.Dir(worktreePath))
	return nil
}

// IsBranchInUse reports whether any worktree (including the main
// checkout) has the branch checked out.
func IsBranchInUse(repoRoot, branchName string) (bool, error) {
	if err := ValidateBranchName(branchName); err != nil {
		return false, fmt.Errorf("invalid branch name: %w", err)
	}

	out, err := exec.Command("git", "-C", repoRoot, "worktree", "list", "--porcelain").Output()
	if err != nil {
		return false, fmt.Errorf("git worktree list: %w", err)
	}

	target := "branch refs/heads/" + branchName
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == target {
			return true, nil
		}
	}
	return false, nil
}

// DeleteBranch force-deletes a local branch. Used after removing a
// worktree whose branch carries no unique commits.
func DeleteBranch(repoRoot, branchName string) error {
	if err := ValidateBranchName(branchName); err != nil {
		return fmt.Errorf("invalid branch name: %w", err)
	}

	cmd := exec.Command("git", "-C", repoRoot, "branch", "-D", branchName)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git branch -D %s: %s", branchName, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasUniqueCommits reports whether the worktree's branch has commits
// unreachable from every other branch, which would be lost on delete.
func HasUniqueCommits(worktreePath string) (bool, error) {
	if _, err := os.Lstat(filepath.Join(worktreePath, ".git")); err != nil {
		return false, fmt.Errorf("%q is not a git working tree", worktreePath)
	}

	branch := Head(worktreePath)
	if branch == "" || strings.HasPrefix(branch, "(") {
		return false, nil
	}
	out, err := exec.Command("git", "-C", worktreePath, "log", "HEAD",
		"--not", "--exclude="+branch, "--branches", "--oneline").Output()
	if err != nil {
		return false, fmt.Errorf("git log: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}
