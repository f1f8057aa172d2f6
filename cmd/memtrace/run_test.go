package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunArgs_SeparatesSections(t *testing.T) {
	config, programArgs, err := parseRunArgs([]string{
		"-tags", "debug", "main.go", "helper.go", "--port", "8080",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go", "helper.go"}, config.sourceFiles)
	assert.Equal(t, []string{"-tags", "debug"}, config.buildFlags)
	assert.Equal(t, []string{"--port", "8080"}, programArgs)
}

func TestParseRunArgs_GoFileNamedProgramArg(t *testing.T) {
	// Once program args start, even .go-looking arguments belong to the
	// program.
	_, programArgs, err := parseRunArgs([]string{"main.go", "input.txt", "other.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"input.txt", "other.go"}, programArgs)
}

func TestParseRunArgs_Errors(t *testing.T) {
	_, _, err := parseRunArgs(nil)
	assert.Error(t, err, "empty arguments")

	_, _, err = parseRunArgs([]string{"-tags", "debug"})
	assert.Error(t, err, "no .go files")
}

func TestMergeEnvOutput_AddsVariable(t *testing.T) {
	env := []string{"HOME=/home/u", "PATH=/bin"}
	got := mergeEnvOutput(env, "/tmp/report.ndjson")

	assert.Equal(t, []string{"HOME=/home/u", "PATH=/bin", "MEMTRACE=output=/tmp/report.ndjson"}, got)
}

func TestMergeEnvOutput_RewritesExistingOutput(t *testing.T) {
	env := []string{"MEMTRACE=stacks=1 output=stderr sample=10"}
	got := mergeEnvOutput(env, "/tmp/report.ndjson")

	assert.Equal(t, []string{"MEMTRACE=stacks=1 sample=10 output=/tmp/report.ndjson"}, got)
}

func TestSetOutputTarget_EmptyValue(t *testing.T) {
	assert.Equal(t, "output=/tmp/r", setOutputTarget("", "/tmp/r"))
}

func TestRunConfig_SourceDir(t *testing.T) {
	config := &runConfig{
		sourceFiles: []string{filepath.Join("sub", "main.go")},
		workDir:     "/work",
	}
	assert.Equal(t, filepath.Join("/work", "sub"), config.sourceDir())

	config = &runConfig{workDir: "/work"}
	assert.Equal(t, "/work", config.sourceDir())
}

func TestCollectGoFiles_DirectoryScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.go", "helper.go", "main_test.go", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package main\n"), 0644))
	}

	got, err := collectGoFiles([]string{dir}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "helper.go"),
		filepath.Join(dir, "main.go"),
	}, got)
}

func TestCollectGoFiles_MissingSource(t *testing.T) {
	_, err := collectGoFiles([]string{"/no/such/file.go"}, "")
	assert.Error(t, err)
}
