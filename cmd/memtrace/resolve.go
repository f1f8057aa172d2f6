// resolve.go implements the 'memtrace resolve' command.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// resolveCommand implements the 'memtrace resolve' command.
//
// It reads a report from a file or stdin, resolves frame addresses
// against the traced binary, and prints findings in a readable form.
// Lines that are not report records pass through untouched, so a report
// mixed into the program's stderr stays intact.
//
// By default only frames resolved to user code are shown; runtime
// frames are filtered out. MEMTRACE_FULL_STACK=1 shows every frame with
// [USR]/[SYS] tags.
//
// Example:
//
//	memtrace resolve trace.ndjson ./myapp
//	memtrace resolve -bin ./myapp trace.ndjson
//	./myapp 2>&1 | memtrace resolve - ./myapp
func resolveCommand(args []string) {
	opts, err := parseResolveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	in := os.Stdin
	if opts.input != "" && opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	sym, err := newSymbolizer(opts.binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot start symbolizer: %v\n", err)
	}
	defer sym.close()

	p := newPrinter(os.Stdout, sym, opts.binary, fullStacks())
	if err := p.stream(in); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading report: %v\n", err)
		os.Exit(1)
	}
	if !p.sawSummary {
		fmt.Fprintln(os.Stderr, "Warning: report ended without a summary record")
	}
}

type resolveOpts struct {
	binary string
	input  string
}

// parseResolveArgs accepts the report as the first positional argument
// ('-' or empty means stdin) and the binary either as the second
// positional argument or through -bin.
func parseResolveArgs(args []string) (resolveOpts, error) {
	var opts resolveOpts
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-bin" || arg == "--bin":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("-bin requires an argument")
			}
			i++
			opts.binary = args[i]
		case strings.HasPrefix(arg, "-bin="):
			opts.binary = strings.TrimPrefix(arg, "-bin=")
		case strings.HasPrefix(arg, "-") && arg != "-":
			return opts, fmt.Errorf("unknown flag %s", arg)
		default:
			positional = append(positional, arg)
		}
	}

	switch len(positional) {
	case 0:
	case 1:
		opts.input = positional[0]
	case 2:
		opts.input = positional[0]
		if opts.binary != "" {
			return opts, fmt.Errorf("binary given twice")
		}
		opts.binary = positional[1]
	default:
		return opts, fmt.Errorf("too many arguments")
	}

	return opts, nil
}

func fullStacks() bool {
	v := os.Getenv("MEMTRACE_FULL_STACK")
	return v == "1" || strings.EqualFold(v, "true")
}

// traceFrame is one reported stack frame.
type traceFrame struct {
	Addr string `json:"addr"`
	Bin  string `json:"bin"`
}

// traceEvent is one report record. The same shape covers headers, leaks,
// corruption events and the summary; fields a record does not carry stay
// zero.
type traceEvent struct {
	Type       string       `json:"type"`
	Addr       string       `json:"addr"`
	Size       uint64       `json:"size"`
	Frames     []traceFrame `json:"frames"`
	LeaksCount int          `json:"leaks_count"`
	TotalBytes uint64       `json:"total_bytes"`
	RealLeaks  int          `json:"real_leaks"`
	RealBytes  uint64       `json:"real_bytes"`
	LibcLeaks  int          `json:"libc_leaks"`
	LibcBytes  uint64       `json:"libc_bytes"`
}

// decodeEvent parses one report line. Anything that is not a typed JSON
// record reports ok=false and is the caller's to pass through.
func decodeEvent(line string) (traceEvent, bool) {
	if !strings.HasPrefix(line, "{") {
		return traceEvent{}, false
	}
	var ev traceEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
		return traceEvent{}, false
	}
	return ev, true
}

// printer renders report records for humans, resolving addresses when a
// symbolizer is available.
type printer struct {
	w          io.Writer
	sym        *symbolizer
	targetName string
	full       bool

	began            bool
	corruptionHeader bool
	freeErrors       int
	sawSummary       bool
}

func newPrinter(w io.Writer, sym *symbolizer, binary string, full bool) *printer {
	name := ""
	if binary != "" {
		name = filepath.Base(binary)
	}
	return &printer{w: w, sym: sym, targetName: name, full: full}
}

// begin prints the full-stack mode banner once.
func (p *printer) begin() {
	if p.began {
		return
	}
	p.began = true
	if p.full {
		bar := strings.Repeat("=", 60)
		fmt.Fprintln(p.w, bar)
		fmt.Fprintln(p.w, "TRACKER MODE: FULL SYSTEM STACK DUMP")
		fmt.Fprintln(p.w, "(All frames including runtime internals will be shown)")
		fmt.Fprintln(p.w, bar)
		fmt.Fprintln(p.w)
	}
}

// stream decodes and prints every line on r.
func (p *printer) stream(r io.Reader) error {
	p.begin()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.line(sc.Text())
	}
	return sc.Err()
}

// line handles one report line. Records are formatted; empty lines are
// dropped; everything else, like the program's own stderr output, passes
// through untouched.
func (p *printer) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if ev, ok := decodeEvent(s); ok {
		p.event(ev)
		return
	}
	fmt.Fprintln(p.w, s)
}

// event prints one record. Anything that is neither header, leak nor
// summary is a corruption event and counts toward the free-error total.
func (p *printer) event(ev traceEvent) {
	switch ev.Type {
	case "header":
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, "========== MEMORY LEAKS ==========")
		fmt.Fprintf(p.w, "Found %d leak(s), %d bytes total\n", ev.LeaksCount, ev.TotalBytes)
		fmt.Fprintln(p.w)
	case "leak":
		fmt.Fprintf(p.w, "[LEAK] %s: %d bytes\n", ev.Addr, ev.Size)
		p.frames(ev.Frames)
	case "summary":
		p.sawSummary = true
		fmt.Fprintln(p.w, "Summary:")
		fmt.Fprintf(p.w, "  Real leaks: %d allocation(s), %d bytes\n", ev.RealLeaks, ev.RealBytes)
		if ev.LibcLeaks > 0 {
			fmt.Fprintf(p.w, "  Runtime infrastructure: %d allocation(s), %d bytes (ignored)\n",
				ev.LibcLeaks, ev.LibcBytes)
		}
		fmt.Fprintf(p.w, "  Free errors: %d\n", p.freeErrors)
		fmt.Fprintln(p.w, "==================================")
		fmt.Fprintln(p.w)
	default:
		if !p.corruptionHeader {
			p.corruptionHeader = true
			fmt.Fprintln(p.w)
			fmt.Fprintln(p.w, "========== DOUBLE/INVALID FREE ERRORS ==========")
			fmt.Fprintln(p.w)
		}
		p.freeErrors++
		fmt.Fprintf(p.w, "[CORRUPTION] %s at %s\n", ev.Type, ev.Addr)
		p.frames(ev.Frames)
	}
}

// frames prints one event's stack.
//
// Resolved frames print as 'at: file; line: N'. Frames inside the Go
// runtime count as system frames: they are hidden by default and tagged
// [SYS] in full mode. Unresolved frames are hidden by default too,
// unless no symbolizer is available at all, in which case the raw
// address is better than nothing.
func (p *printer) frames(frames []traceFrame) {
	for _, f := range frames {
		if fn, loc, ok := p.sym.resolve(f.Addr); ok {
			system := strings.HasPrefix(fn, "runtime.")
			if system && !p.full {
				continue
			}
			file, line := splitLocation(loc)
			if p.full {
				label := "[USR]"
				if system {
					label = "[SYS]"
				}
				fmt.Fprintf(p.w, "  %s at: %s; line: %s\n", label, file, line)
			} else {
				fmt.Fprintf(p.w, "  at: %s; line: %s\n", file, line)
			}
			continue
		}

		if p.sym == nil {
			fmt.Fprintf(p.w, "  <%s+%s>\n", f.Bin, f.Addr)
			continue
		}
		if p.full {
			label := "[???]"
			if f.Bin == p.targetName {
				label = "[CRT]"
			}
			fmt.Fprintf(p.w, "  %s <%s+%s>\n", label, f.Bin, f.Addr)
		}
	}
	fmt.Fprintln(p.w)
}

// splitLocation cuts an addr2line 'file:line' answer at the last colon,
// which keeps Windows drive letters intact.
func splitLocation(loc string) (file, line string) {
	i := strings.LastIndex(loc, ":")
	if i < 0 {
		return loc, "?"
	}
	return loc[:i], loc[i+1:]
}

// symbolizer resolves hex addresses to source locations by driving
// 'go tool addr2line' over the traced binary. addr2line answers each
// address with two lines, the function name and file:line.
type symbolizer struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Scanner
}

// newSymbolizer starts addr2line for the binary. An empty binary path
// yields a nil symbolizer, which resolves nothing but is safe to use.
func newSymbolizer(binary string) (*symbolizer, error) {
	if binary == "" {
		return nil, nil
	}

	cmd := exec.Command("go", "tool", "addr2line", binary)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting addr2line: %w", err)
	}
	return &symbolizer{cmd: cmd, in: in, out: bufio.NewScanner(out)}, nil
}

// resolve maps one hex address to a function name and location.
func (s *symbolizer) resolve(addr string) (fn, loc string, ok bool) {
	if s == nil {
		return "", "", false
	}
	if _, err := fmt.Fprintln(s.in, addr); err != nil {
		return "", "", false
	}
	if !s.out.Scan() {
		return "", "", false
	}
	fn = s.out.Text()
	if !s.out.Scan() {
		return "", "", false
	}
	loc = s.out.Text()
	if fn == "?" || fn == "" || strings.HasPrefix(loc, "?") {
		return "", "", false
	}
	return fn, loc, true
}

func (s *symbolizer) close() {
	if s == nil {
		return
	}
	_ = s.in.Close()
	_ = s.cmd.Wait()
}
