// Package main implements the memtrace CLI tool.
//
// The memtrace tool works with the allocation tracker's NDJSON reports:
//
//  1. Running programs with tracking configured and the report collected
//  2. Resolving report addresses to function names and source lines
//  3. Following a report file live while the program is still running
//
// Usage:
//
//	memtrace run main.go            # Run with tracking, print findings
//	memtrace resolve trace.ndjson   # Pretty-print a collected report
//	memtrace watch trace.ndjson     # Follow a report as it grows
package main

import (
	"fmt"
	"os"

	"github.com/memtrace/memtrace/mtrace"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		runCommand(os.Args[2:])
	case "resolve":
		resolveCommand(os.Args[2:])
	case "watch":
		watchCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("memtrace version %s\n", mtrace.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`memtrace - Allocation Tracker Tool

USAGE:
    memtrace <command> [arguments]

COMMANDS:
    run        Build and run a Go program with allocation tracking
    resolve    Resolve a report's addresses to source locations
    watch      Follow a report file and resolve events as they arrive
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Run a program and print resolved findings when it exits
    memtrace run main.go

    # Pretty-print a collected report against its binary
    memtrace resolve trace.ndjson ./myapp

    # Pipe a report through the resolver
    ./myapp 2>&1 | memtrace resolve - ./myapp

    # Follow a long-running program's report
    memtrace watch -bin ./myapp trace.ndjson

ENVIRONMENT:
    MEMTRACE             tracker options for the traced program, as
                         space-separated key=value pairs (output=, backend=,
                         stacks=, sample=, history=, max_live=)
    MEMTRACE_FULL_STACK  set to 1 to show every frame, runtime internals
                         included, with [USR]/[SYS] tags

ABOUT:
    Programs report through the mtrace package: every allocation is
    recorded with its call site, bad frees are reported as they happen,
    and shutdown emits newline-delimited JSON describing what leaked.
    This tool turns those records back into function names and source
    lines using the program's binary.
`)
}
