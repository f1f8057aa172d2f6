package modlink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestProjectRoot_FindsMarkerAboveCwd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "internal", "mtrace", "api"), 0755))
	nested := filepath.Join(root, "cmd", "memtrace")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	got, err := ProjectRoot()
	require.NoError(t, err)

	// TempDir may sit behind a symlink, compare resolved paths.
	wantResolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, wantResolved, gotResolved)
}

func TestOverlay_WritesWorkspaceGoMod(t *testing.T) {
	workDir := t.TempDir()

	require.NoError(t, Overlay(workDir, "", "/opt/memtrace"))

	data, err := os.ReadFile(filepath.Join(workDir, "go.mod"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "module scratch\n")
	assert.Contains(t, content, "require "+ModulePath+" v0.0.0\n")
	assert.Contains(t, content, "replace "+ModulePath+" => /opt/memtrace\n")
}

func TestOverlay_CarriesReplaceDirectives(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "go.mod"), strings.Join([]string{
		"module example.com/app",
		"",
		"go 1.24",
		"",
		"require example.com/helper v1.0.0",
		"",
		"replace example.com/helper => ./helper",
		"replace example.com/pinned v1.0.0 => example.com/pinned v1.2.0",
		"replace " + ModulePath + " => ../elsewhere",
	}, "\n"))

	workDir := t.TempDir()
	require.NoError(t, Overlay(workDir, srcDir, "/opt/memtrace"))

	data, err := os.ReadFile(filepath.Join(workDir, "go.mod"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "replace example.com/helper => "+filepath.Join(srcDir, "helper"),
		"relative replace should be rewritten to an absolute path")
	assert.Contains(t, content, "replace example.com/pinned v1.0.0 => example.com/pinned v1.2.0")

	// The tracker replace must point at projectRoot, not the stale one.
	assert.NotContains(t, content, "elsewhere")
	assert.Contains(t, content, "replace "+ModulePath+" => /opt/memtrace\n")
}

func TestFindGoMod_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/app\n")
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, filepath.Join(root, "go.mod"), findGoMod(nested))
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"./helper", true},
		{"../sibling", true},
		{"/opt/lib", true},
		{`C:\lib`, true},
		{"example.com/module", false},
		{"example.com/module/v2", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isLocalPath(tt.path), "isLocalPath(%q)", tt.path)
	}
}
