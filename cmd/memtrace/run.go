// run.go implements the 'memtrace run' command.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runCommand implements the 'memtrace run' command.
//
// This command rebuilds a Go program in a scratch workspace linked
// against the local tracker checkout, runs it with the report directed
// at a temporary file, and prints the resolved findings when the
// program exits. It acts as a drop-in replacement for 'go run' for
// programs that call mtrace.Init and mtrace.Fini.
//
// Flow:
//  1. Parse arguments (source files + program arguments)
//  2. Build the program to a temp binary inside a linked workspace
//  3. Execute the binary with MEMTRACE pointing at a temp report
//  4. Forward stdin/stdout/stderr and keep the program's exit code
//  5. Resolve the report against the freshly built binary
//
// Example:
//
//	memtrace run main.go
//	memtrace run main.go arg1 arg2
//	memtrace run main.go --program-flag=value
func runCommand(args []string) {
	os.Exit(runTraced(args))
}

// runTraced carries the whole run so deferred cleanup fires before the
// process exits.
func runTraced(args []string) int {
	config, programArgs, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	tempBinary, err := buildTemporary(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return 1
	}
	defer func() { _ = os.Remove(tempBinary) }()

	reportFile, err := os.CreateTemp("", "memtrace-*.ndjson")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	reportPath := reportFile.Name()
	_ = reportFile.Close()
	defer func() { _ = os.Remove(reportPath) }()

	exitCode := executeTraced(tempBinary, programArgs, reportPath)

	resolveReport(reportPath, tempBinary)

	return exitCode
}

// parseRunArgs separates source files from program arguments.
//
// The accepted format mirrors 'go run':
//
//	memtrace run [build flags] file.go... [arguments...]
//
// Build flags come before the source files. Everything after the last
// source file belongs to the program.
func parseRunArgs(args []string) (*runConfig, []string, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("no source files specified")
	}

	var sourceFiles []string
	var programArgs []string
	var buildFlags []string

	sawGoFile := false
	inProgramArgs := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if inProgramArgs {
			programArgs = append(programArgs, arg)
			continue
		}

		// Build flags that consume the next argument.
		if !sawGoFile && (arg == "-ldflags" || arg == "-gcflags" ||
			arg == "-tags" || arg == "-buildmode") {
			buildFlags = append(buildFlags, arg)
			if i+1 < len(args) {
				i++
				buildFlags = append(buildFlags, args[i])
			}
			continue
		}

		if filepath.Ext(arg) == ".go" {
			sourceFiles = append(sourceFiles, arg)
			sawGoFile = true
			continue
		}

		// First non-.go argument after the sources starts the
		// program's own arguments.
		if sawGoFile {
			inProgramArgs = true
			programArgs = append(programArgs, arg)
			continue
		}

		buildFlags = append(buildFlags, arg)
	}

	if len(sourceFiles) == 0 {
		return nil, nil, fmt.Errorf("no Go source files specified")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	config := &runConfig{
		sourceFiles: sourceFiles,
		buildFlags:  buildFlags,
		workDir:     cwd,
	}

	return config, programArgs, nil
}

// buildTemporary builds the program to a temporary binary.
//
// The binary outlives the workspace so the report can be resolved
// against it after the program exits. The caller removes it.
func buildTemporary(config *runConfig) (string, error) {
	tempBinary, err := os.CreateTemp("", "memtrace-run-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempBinary.Name()
	_ = tempBinary.Close()

	config.outputFile = tempPath

	workspace, err := createWorkspace()
	if err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	defer workspace.cleanup()

	if err := workspace.stageSources(config); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}

	if err := workspace.link(config.sourceDir()); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to link tracker runtime: %w", err)
	}

	if err := workspace.build(config); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}

	return tempPath, nil
}

// executeTraced runs the built binary with the report redirected to
// reportPath.
//
// stdin/stdout/stderr are forwarded to the child and its exit code is
// returned. MEMTRACE settings from the caller's environment are kept,
// only the output target is rewritten.
func executeTraced(binaryPath string, args []string, reportPath string) int {
	cmd := exec.Command(binaryPath, args...)

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = mergeEnvOutput(os.Environ(), reportPath)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error executing binary: %v\n", err)
		return 1
	}

	return 0
}

// mergeEnvOutput rewrites the MEMTRACE variable so the report lands in
// reportPath. Other MEMTRACE settings the caller exported are kept; an
// output target they set is replaced for the duration of the run.
func mergeEnvOutput(env []string, reportPath string) []string {
	const name = "MEMTRACE="

	out := make([]string, 0, len(env)+1)
	merged := false
	for _, kv := range env {
		if !strings.HasPrefix(kv, name) {
			out = append(out, kv)
			continue
		}
		merged = true
		out = append(out, name+setOutputTarget(strings.TrimPrefix(kv, name), reportPath))
	}
	if !merged {
		out = append(out, name+"output="+reportPath)
	}
	return out
}

// setOutputTarget replaces the output key in a MEMTRACE value.
func setOutputTarget(value, reportPath string) string {
	fields := strings.Fields(value)
	kept := fields[:0]
	for _, f := range fields {
		if !strings.HasPrefix(f, "output=") {
			kept = append(kept, f)
		}
	}
	kept = append(kept, "output="+reportPath)
	return strings.Join(kept, " ")
}

// resolveReport prints the run's findings with frames resolved against
// the freshly built binary.
func resolveReport(reportPath, binary string) {
	f, err := os.Open(reportPath)
	if err != nil {
		return
	}
	defer f.Close()

	sym, err := newSymbolizer(binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot start symbolizer: %v\n", err)
	}
	defer sym.close()

	p := newPrinter(os.Stdout, sym, binary, fullStacks())
	if err := p.stream(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading report: %v\n", err)
		return
	}
	if !p.sawSummary {
		fmt.Fprintln(os.Stderr, "Warning: no tracker report produced (does the program call mtrace.Init and mtrace.Fini?)")
	}
}
