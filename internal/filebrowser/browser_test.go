package filebrowser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDirectory(t *testing.T) {
	dir := resolvedTempDir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file2.txt"), []byte("world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	absPath, entries, err := ListDirectory(dir, 0)
	require.NoError(t, err)

	assert.Equal(t, dir, absPath)
	require.Len(t, entries, 3)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, name := range []string{"file1.txt", "file2.txt", "subdir"} {
		assert.True(t, names[name], "missing entry: %s", name)
	}
}

func TestListDirectory_NotExists(t *testing.T) {
	_, _, err := ListDirectory("/nonexistent/path/xyz", 0)
	assert.Error(t, err)
}

func TestListDirectory_MergeSingleChild(t *testing.T) {
	dir := resolvedTempDir(t)

	chain := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(chain, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chain, "file.txt"), []byte("hello"), 0o644))

	_, entries, err := ListDirectory(dir, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)

	_, entries, err = ListDirectory(dir, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b/c", entries[0].Name)
	assert.True(t, entries[0].IsDir)
}

func TestListDirectory_MergeStopsAtMultipleChildren(t *testing.T) {
	dir := resolvedTempDir(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b2"), 0o755))

	_, entries, err := ListDirectory(dir, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)
}

func TestReadFile(t *testing.T) {
	dir := resolvedTempDir(t)
	filePath := filepath.Join(dir, "test.txt")
	content := "Hello, World! This is test content."
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))

	absPath, data, totalSize, err := ReadFile(filePath, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, filePath, absPath)
	assert.Equal(t, content, string(data))
	assert.Equal(t, int64(len(content)), totalSize)
}

func TestReadFile_WithOffsetAndLimit(t *testing.T) {
	dir := resolvedTempDir(t)
	filePath := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("0123456789"), 0o644))

	_, data, _, err := ReadFile(filePath, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))
}

func TestReadFile_Directory(t *testing.T) {
	dir := resolvedTempDir(t)
	_, _, _, err := ReadFile(dir, 0, 0)
	assert.Error(t, err)
}

func TestStatFile(t *testing.T) {
	dir := resolvedTempDir(t)
	filePath := filepath.Join(dir, "stat.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("content"), 0o644))

	absPath, entry, err := StatFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, filePath, absPath)
	assert.Equal(t, "stat.txt", entry.Name)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(7), entry.Size)
}

func TestPathTraversal_Rejected(t *testing.T) {
	_, _, err := StatFile("/tmp/../etc/passwd")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path")
}

func TestSearchWorkDir(t *testing.T) {
	dir := resolvedTempDir(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "handler.go"), []byte("package src"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compiled.pyc"), []byte{0}, 0o644))

	matches := SearchWorkDir(dir, "", 100)
	paths := make(map[string]bool)
	for _, m := range matches {
		paths[m.Path] = true
	}

	assert.True(t, paths["main.go"])
	assert.True(t, paths["src/handler.go"])
	assert.False(t, paths["node_modules/pkg/index.js"], "node_modules should be ignored")
	assert.False(t, paths[".git/HEAD"], ".git should be ignored")
	assert.False(t, paths["compiled.pyc"], "*.pyc should be ignored")
}

func TestSearchWorkDir_GitignoreAndQuery(t *testing.T) {
	dir := resolvedTempDir(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build", "out.bin"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	matches := SearchWorkDir(dir, "", 100)
	paths := make(map[string]bool)
	for _, m := range matches {
		paths[m.Path] = true
	}
	assert.False(t, paths["build/out.bin"], "gitignored dir should be excluded")
	assert.False(t, paths["debug.log"], "gitignored glob should be excluded")
	assert.True(t, paths["handler.go"])

	// Case-insensitive substring query.
	matches = SearchWorkDir(dir, "readme", 100)
	require.Len(t, matches, 1)
	assert.Equal(t, "README.md", matches[0].Path)
}

func TestSearchWorkDir_Limit(t *testing.T) {
	dir := resolvedTempDir(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	assert.Len(t, SearchWorkDir(dir, "", 2), 2)
}

func TestBrowse_PartialPrefix(t *testing.T) {
	dir := resolvedTempDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "projects"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "proto"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.txt"), []byte("x"), 0o644))

	entries := Browse(filepath.Join(dir, "pro"), "directory")
	require.Len(t, entries, 2)
	assert.Equal(t, "projects", entries[0].Name)
	assert.Equal(t, "proto", entries[1].Name)
	for _, e := range entries {
		assert.True(t, e.IsDir)
	}

	// type=all includes the file too.
	entries = Browse(filepath.Join(dir, "pro"), "all")
	assert.Len(t, entries, 3)
}

func TestBrowse_ExistingDirListsContents(t *testing.T) {
	dir := resolvedTempDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "one"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "two"), 0o755))

	entries := Browse(dir, "directory")
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Name)
	assert.Equal(t, "two", entries[1].Name)
}

func TestCreateDirectory(t *testing.T) {
	dir := resolvedTempDir(t)
	target := filepath.Join(dir, "new", "nested")

	created, err := CreateDirectory(target)
	require.NoError(t, err)
	assert.Equal(t, target, created)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent.
	_, err = CreateDirectory(target)
	assert.NoError(t, err)
}

func TestCreateDirectory_SystemPathRejected(t *testing.T) {
	for _, path := range []string{"/", "/etc/mainthread", "/usr/bin/mainthread"} {
		_, err := CreateDirectory(path)
		assert.Error(t, err, "expected rejection for %s", path)
	}
}

func TestSuggestions_RecentDeduplicated(t *testing.T) {
	got := Suggestions([]string{"/data/work", "/data/work"})

	var recents []Suggestion
	for _, s := range got {
		if s.Type == "recent" {
			recents = append(recents, s)
		}
	}
	require.Len(t, recents, 1)
	assert.Equal(t, "/data/work", recents[0].Path)
	assert.Equal(t, "recently used", recents[0].Reason)
}

// resolvedTempDir returns a symlink-free temp dir; macOS puts TMPDIR
// behind /var -> /private/var.
func resolvedTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}
