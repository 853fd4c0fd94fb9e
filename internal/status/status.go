// Package status tracks the state of every unit in a build and renders it
// as a one-line live display on interactive terminals.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// State is the lifecycle state of a unit.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := Pending; st <= Cancelled; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Entry is one unit and its state.
type Entry struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}

// Board holds unit states in a fixed order. It is safe for concurrent use.
type Board struct {
	mu     sync.RWMutex
	order  []string
	states map[string]State
}

// NewBoard creates a Board with every name pending.
func NewBoard(names []string) *Board {
	b := &Board{states: make(map[string]State, len(names))}
	for _, name := range names {
		if _, ok := b.states[name]; ok {
			continue
		}
		b.order = append(b.order, name)
		b.states[name] = Pending
	}
	return b
}

// Set records the state of name. Unknown names are appended.
func (b *Board) Set(name string, s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.states[name]; !ok {
		b.order = append(b.order, name)
	}
	b.states[name] = s
}

// get returns the state of name.
func (b *Board) get(name string) (State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[name]
	return s, ok
}

// Entries returns a snapshot in board order.
func (b *Board) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, Entry{Name: name, State: b.states[name]})
	}
	return out
}

// MarshalJSON encodes the snapshot returned by Entries.
func (b *Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Entries())
}

var styles = map[State]lipgloss.Style{
	Pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	Cancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Strikethrough(true),
}

// Render formats entries as a single line.
func Render(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, styles[e.State].Render(e.Name))
	}
	return strings.Join(parts, " ")
}

// Display redraws a Board in place on a terminal.
type Display struct {
	w       io.Writer
	enabled bool
	mu      sync.Mutex
	drawn   bool
}

// NewDisplay creates a Display writing to w. It is enabled only when w is
// a terminal and the CI environment variable is unset.
func NewDisplay(w io.Writer) *Display {
	return newDisplay(w, Interactive(w))
}

func newDisplay(w io.Writer, enabled bool) *Display {
	return &Display{w: w, enabled: enabled}
}

// Interactive reports whether w is a terminal outside CI.
func Interactive(w io.Writer) bool {
	if _, ci := os.LookupEnv("CI"); ci {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled reports whether Refresh draws anything.
func (d *Display) Enabled() bool {
	return d != nil && d.enabled
}

// Refresh redraws the board on the current line.
func (d *Display) Refresh(b *Board) {
	if !d.Enabled() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.w, "\r\x1b[2K%s", Render(b.Entries()))
	d.drawn = true
}

// Finish draws the board a last time and ends the line.
func (d *Display) Finish(b *Board) {
	if !d.Enabled() {
		return
	}
	d.Refresh(b)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drawn {
		fmt.Fprintln(d.w)
		d.drawn = false
	}
}
