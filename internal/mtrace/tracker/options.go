package tracker

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/memtrace/memtrace/internal/mtrace/rawalloc"
)

// EnvVar is the environment variable holding runtime options as
// space-separated key=value pairs, for example:
//
//	MEMTRACE="output=trace.ndjson backend=goheap sample=10"
const EnvVar = "MEMTRACE"

// SuspectFunc classifies an allocation site as runtime or bookkeeping
// activity rather than program work. Suspicious survivors are kept out of
// the confirmed leak records and counted separately in the summary.
type SuspectFunc func(frames []uintptr) bool

// Options configures a Tracker.
type Options struct {
	// Output is the report target: "stderr" (or empty), "stdout", or a
	// file path.
	Output string

	// Backend names the raw allocator backend. Empty means the default.
	Backend string

	// Resolver overrides Backend with a custom raw-allocator bootstrap.
	Resolver rawalloc.Resolver

	// Stacks enables allocation-site capture. DefaultOptions turns it on;
	// a zero Options value leaves it off.
	Stacks bool

	// Sample captures call stacks for one in Sample allocations. Values
	// below 1 mean every allocation. Corruption events are never sampled.
	Sample int

	// HistorySize bounds the recently-freed ring. 0 means the classifier
	// default.
	HistorySize int

	// MaxLive caps the registry, 0 means unbounded. Allocations beyond
	// the cap still succeed but go untracked.
	MaxLive int

	// Suspect overrides the suspicious-allocation policy. nil marks only
	// allocations observed before the tracker was declared ready.
	Suspect SuspectFunc
}

// DefaultOptions returns the options used when nothing is configured:
// stderr output, default backend, full stack capture.
func DefaultOptions() Options {
	return Options{Stacks: true, Sample: 1}
}

// FromEnv builds options from the EnvVar environment variable.
func FromEnv() Options {
	return ParseOptions(os.Getenv(EnvVar))
}

// ParseOptions parses space-separated key=value pairs on top of
// DefaultOptions. Malformed or unknown pairs are skipped with a
// diagnostic; they never fail startup.
func ParseOptions(s string) Options {
	opts := DefaultOptions()

	for _, tok := range strings.Fields(s) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "memtrace: ignoring malformed %s option %q\n", EnvVar, tok)
			continue
		}

		switch key {
		case "output":
			opts.Output = val
		case "backend":
			opts.Backend = val
		case "stacks":
			b, err := strconv.ParseBool(val)
			if err != nil {
				fmt.Fprintf(os.Stderr, "memtrace: ignoring %s option %q: %v\n", EnvVar, tok, err)
				continue
			}
			opts.Stacks = b
		case "sample":
			opts.Sample = parsePositive(tok, val, opts.Sample)
		case "history":
			opts.HistorySize = parsePositive(tok, val, opts.HistorySize)
		case "max_live":
			opts.MaxLive = parsePositive(tok, val, opts.MaxLive)
		default:
			fmt.Fprintf(os.Stderr, "memtrace: ignoring unknown %s option %q\n", EnvVar, tok)
		}
	}
	return opts
}

func parsePositive(tok, val string, fallback int) int {
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		fmt.Fprintf(os.Stderr, "memtrace: ignoring %s option %q: want a non-negative integer\n", EnvVar, tok)
		return fallback
	}
	return n
}
