// Package modlink wires scratch workspaces to the tracker module.
//
// The run command copies a program into a temporary workspace and builds
// it there. For the build to resolve the tracker import, the workspace
// needs a go.mod that points back at a local checkout of this module.
// This package locates that checkout and writes the workspace go.mod,
// carrying over replace directives from the traced program's own module
// so its local dependencies keep resolving.
package modlink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ModulePath is the import path of the tracker module.
const ModulePath = "github.com/memtrace/memtrace"

// ProjectRoot locates a local checkout of the tracker module.
//
// It walks up from the working directory looking for the tracker's
// runtime marker, the internal/mtrace/api directory. Matching any go.mod
// would stop at the traced program's module instead, so the marker has
// to be specific to this project. If the walk fails the directories
// around the executable are tried, which covers a memtrace binary built
// into the checkout or its bin directory.
func ProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		marker := filepath.Join(dir, "internal", "mtrace", "api")
		if _, err := os.Stat(marker); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		candidates := []string{
			exeDir,
			filepath.Dir(exeDir),
			filepath.Dir(filepath.Dir(exeDir)),
		}
		for _, candidate := range candidates {
			marker := filepath.Join(candidate, "internal", "mtrace", "api")
			if _, err := os.Stat(marker); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("could not find a local %s checkout", ModulePath)
}

// Overlay writes the go.mod for a scratch workspace.
//
// The module requires the tracker and replaces it with the local
// checkout at projectRoot. Replace directives found in the go.mod above
// sourceDir are appended with relative paths rewritten to absolute ones,
// since the workspace sits in a different directory than the module they
// were written for. sourceDir may be empty when the traced program has
// no module of its own.
func Overlay(workDir, sourceDir, projectRoot string) error {
	var content strings.Builder
	content.WriteString("module scratch\n\n")
	content.WriteString("go 1.24\n\n")
	content.WriteString(fmt.Sprintf("require %s v0.0.0\n\n", ModulePath))
	content.WriteString(fmt.Sprintf("replace %s => %s\n", ModulePath, projectRoot))

	if sourceDir != "" {
		if goMod := findGoMod(sourceDir); goMod != "" {
			if directives := replaceDirectives(goMod); directives != "" {
				content.WriteString("\n")
				content.WriteString(directives)
			}
		}
	}

	modPath := filepath.Join(workDir, "go.mod")
	if err := os.WriteFile(modPath, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("writing workspace go.mod: %w", err)
	}
	return nil
}

// findGoMod walks up from startDir looking for the traced program's
// go.mod. Returns an empty string if there is none.
func findGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// replaceDirectives renders the replace directives of a go.mod with
// local relative paths converted to absolute ones.
func replaceDirectives(goModPath string) string {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return ""
	}

	modFile, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return ""
	}

	goModDir := filepath.Dir(goModPath)
	var result strings.Builder

	for _, rep := range modFile.Replace {
		if rep.Old.Path == ModulePath {
			// The workspace already replaces the tracker module.
			continue
		}

		newPath := rep.New.Path
		if rep.New.Version == "" && isLocalPath(newPath) && !filepath.IsAbs(newPath) {
			if abs, err := filepath.Abs(filepath.Join(goModDir, newPath)); err == nil {
				newPath = abs
			}
		}

		result.WriteString("replace ")
		result.WriteString(rep.Old.Path)
		if rep.Old.Version != "" {
			result.WriteString(" " + rep.Old.Version)
		}
		result.WriteString(" => " + newPath)
		if rep.New.Version != "" {
			result.WriteString(" " + rep.New.Version)
		}
		result.WriteString("\n")
	}

	return result.String()
}

// isLocalPath reports whether a replace target is a filesystem path
// rather than a module path. Local targets start with ./, ../, /, or a
// drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return false
}
