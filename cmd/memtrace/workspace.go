// workspace.go holds the scratch build tree used by the run command.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/memtrace/memtrace/cmd/memtrace/modlink"
)

// runConfig holds what the run command needs to rebuild a program.
type runConfig struct {
	// Source files to copy and build
	sourceFiles []string

	// Additional go build flags
	buildFlags []string

	// Working directory the command was invoked from
	workDir string

	// Temp binary path, set by buildTemporary
	outputFile string
}

// sourceDir returns the directory of the first source file. It anchors
// the search for the program's own go.mod when linking the workspace.
func (c *runConfig) sourceDir() string {
	if len(c.sourceFiles) == 0 {
		return c.workDir
	}
	p := c.sourceFiles[0]
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.workDir, p)
	}
	return filepath.Dir(p)
}

// workspace is a temporary module the program is rebuilt in.
type workspace struct {
	// Root directory, holds the generated go.mod
	dir string

	// Source directory the program's .go files are copied into
	srcDir string
}

// createWorkspace creates a temporary workspace for building the traced
// program.
func createWorkspace() (*workspace, error) {
	dir, err := os.MkdirTemp("", "memtrace-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}

	return &workspace{
		dir:    dir,
		srcDir: srcDir,
	}, nil
}

// cleanup removes the temporary workspace.
func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// stageSources copies the program's files into the workspace. The
// directory structure is flattened, matching what 'go run file.go'
// accepts.
func (w *workspace) stageSources(config *runConfig) error {
	goFiles, err := collectGoFiles(config.sourceFiles, config.workDir)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}

	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}

	for _, srcPath := range goFiles {
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", srcPath, err)
		}

		outPath := filepath.Join(w.srcDir, filepath.Base(srcPath))
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", outPath, err)
		}
	}

	return nil
}

// link writes the workspace go.mod pointing the tracker import at the
// local checkout and resolves the program's remaining dependencies.
func (w *workspace) link(sourceDir string) error {
	projectRoot, err := modlink.ProjectRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: tracker runtime not found\n")
		fmt.Fprintf(os.Stderr, "Run this command from inside a %s checkout.\n", modlink.ModulePath)
		return err
	}

	if err := modlink.Overlay(w.dir, sourceDir, projectRoot); err != nil {
		return err
	}

	tidyCmd := exec.Command("go", "mod", "tidy")
	tidyCmd.Dir = w.dir
	tidyCmd.Stdout = os.Stdout
	tidyCmd.Stderr = os.Stderr
	if err := tidyCmd.Run(); err != nil {
		return fmt.Errorf("go mod tidy: %w", err)
	}

	return nil
}

// build runs 'go build' on the staged sources.
func (w *workspace) build(config *runConfig) error {
	args := []string{"build"}

	if config.outputFile != "" {
		outputPath := config.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(config.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}

	args = append(args, config.buildFlags...)
	args = append(args, ".")

	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// collectGoFiles finds all .go files from the given sources.
//
// Sources can be .go files directly or directories, which are scanned
// one level deep. Test files are excluded.
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string

	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if info.IsDir() {
			entries, err := os.ReadDir(srcPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}

				name := entry.Name()
				if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
					goFiles = append(goFiles, filepath.Join(srcPath, name))
				}
			}
		} else if strings.HasSuffix(srcPath, ".go") {
			goFiles = append(goFiles, srcPath)
		}
	}

	return goFiles, nil
}
