// watch.go implements the 'memtrace watch' command.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchCommand implements the 'memtrace watch' command.
//
// It follows a report file while the traced program is still running
// and prints findings as they are written. Corruption events arrive the
// moment a bad free happens, so this surfaces them long before the
// shutdown report. The command exits once the summary record arrives,
// which the tracker writes last.
//
// Example:
//
//	MEMTRACE="output=trace.ndjson" ./myapp &
//	memtrace watch -bin ./myapp trace.ndjson
func watchCommand(args []string) {
	opts, err := parseResolveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if opts.input == "" {
		fmt.Fprintln(os.Stderr, "Error: watch requires a report file")
		os.Exit(1)
	}

	sym, err := newSymbolizer(opts.binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot start symbolizer: %v\n", err)
	}
	defer sym.close()

	p := newPrinter(os.Stdout, sym, opts.binary, fullStacks())
	if err := followReport(opts.input, p); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// followReport tails the report file through filesystem notifications,
// feeding completed lines to the printer until the summary ends the
// stream. The parent directory is watched so a file that does not exist
// yet is picked up on creation.
func followReport(path string, p *printer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	p.begin()
	tail := &tailReader{path: path}
	if err := tail.drain(p); err != nil {
		return err
	}

	for !p.sawSummary {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := tail.drain(p); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Warning: watch error: %v\n", err)
		}
	}

	return nil
}

// tailReader reads a growing file line by line across events, keeping a
// partial trailing line until the rest of it arrives.
type tailReader struct {
	path    string
	offset  int64
	partial []byte
}

// drain reads everything appended since the last call and hands
// complete lines to the printer. A file that shrank was recreated, so
// reading restarts from the top.
func (t *tailReader) drain(p *printer) error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		p.line(string(buf[:i]))
		buf = buf[i+1:]
	}
	t.partial = append([]byte(nil), buf...)

	return nil
}
