package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter keeps log output from clobbering the prompt
type readlineWriter struct {
	mu  sync.Mutex
	out io.Writer
	rl  *readline.Instance
}

func (w *readlineWriter) setReadline(rl *readline.Instance) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rl = rl
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = w.out.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// DebugState manages the list of watched paths
type DebugState struct {
	out           io.Writer
	watches       []string
	headerPrinted bool
	columnWidths  []int
	latest        *charger.Snapshot
	rl            *readline.Instance
	prevValues    map[string]string
}

func NewDebugState(out io.Writer) *DebugState {
	return &DebugState{
		out:        out,
		prevValues: make(map[string]string),
	}
}

func (s *DebugState) print(format string, args ...any) {
	if s.rl != nil {
		s.rl.Clean()
		defer s.rl.Refresh()
	}
	fmt.Fprintf(s.out, format+"\n", args...)
}

// AddWatch adds a path, keeping the list sorted
func (s *DebugState) AddWatch(path string) {
	if slices.Contains(s.watches, path) {
		s.print("Already watching: %s", path)
		return
	}
	if s.latest != nil {
		if _, ok := s.latest.Values[path]; !ok {
			s.print("Unknown path: %s (try 'list')", path)
			return
		}
	}

	s.watches = append(s.watches, path)
	slices.Sort(s.watches)
	s.headerPrinted = false
	s.print("Watching: %s", path)
}

// RemoveWatch removes path, reporting whether it was watched
func (s *DebugState) RemoveWatch(path string) bool {
	i := slices.Index(s.watches, path)
	if i < 0 {
		s.print("No watch found for: %s", path)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerPrinted = false
	s.print("Unwatched: %s", path)
	return true
}

func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	s.print("All watches removed")
}

// UpdateData stores the latest snapshot and prints a row when a watched value changed
func (s *DebugState) UpdateData(snap charger.Snapshot) {
	s.latest = &snap
	if len(s.watches) > 0 {
		s.PrintRow(snap)
	}
}

// ListPaths prints every path with its formatted value
func (s *DebugState) ListPaths() {
	if s.latest == nil {
		s.print("No data received yet")
		return
	}

	paths := make([]string, 0, len(s.latest.Text))
	for p := range s.latest.Text {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	s.print("Paths (%d), update index %d:", len(paths), s.latest.Index)
	for _, p := range paths {
		s.print("  %-20s %s", p, s.latest.Text[p])
	}
}

func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w)
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], w))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the watched values, only if one of them changed
func (s *DebugState) PrintRow(snap charger.Snapshot) {
	if len(s.watches) == 0 {
		return
	}
	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, w := range s.watches {
		value, ok := snap.Text[w]
		if !ok {
			value = "-"
		}
		newValues[w] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		prev, hasPrev := s.prevValues[w]
		if !hasPrev || prev != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		if len(parts) < 2 {
			state.print("Usage: watch <path>...")
			return
		}
		for _, p := range parts[1:] {
			state.AddWatch(p)
		}

	case "unwatch":
		if len(parts) < 2 {
			state.print("Usage: unwatch <path> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		for _, p := range parts[1:] {
			state.RemoveWatch(p)
		}

	case "list":
		state.ListPaths()

	case "help":
		state.print("Commands:")
		state.print("  list              - List all paths with their current text")
		state.print("  watch <path>...   - Print a row whenever a watched value changes")
		state.print("  unwatch <path>    - Remove a watch")
		state.print("  unwatch --all     - Remove all watches")
		state.print("  help              - Show this help")

	default:
		state.print("Unknown command: %s (try 'help')", parts[0])
	}
}

func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line != "" {
			select {
			case commandChan <- line:
			case <-ctx.Done():
				return
			}
		}
	}
}

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "dbus-mqtt-evcharger")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "debug_history")
}

// debugWorker provides interactive inspection of the registry snapshots
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	logOut *readlineWriter,
	snapshots <-chan charger.Snapshot,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		fmt.Fprintf(logOut, "Debug console: readline init failed: %v\n", err)
		return
	}
	defer func() {
		logOut.setReadline(nil)
		_ = rl.Close()
	}()
	logOut.setReadline(rl)

	state := NewDebugState(os.Stdout)
	state.rl = rl
	state.print("Debug console started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case snap := <-snapshots:
			state.UpdateData(snap)
		case <-ctx.Done():
			return
		}
	}
}
