// Package waveform models the lookup tables that turn grayscale transitions
// into the 2-bit drive phases an EPD column driver understands.
//
// A waveform is a sequence of per-step matrices. For a pixel moving from
// intensity `from` to intensity `to`, frame k of the transition drives the
// pixel with Waveform[k][from][to]. Which waveform applies depends on the
// rendering mode and on the panel temperature, so the table is indexed by
// (mode, temperature range).
package waveform

import (
	"fmt"
	"sort"
)

// Levels is the number of grayscale intensity values a pixel can take.
// Intensities are always in [0, Levels).
const Levels = 32

// Phase is a 2-bit drive code for one pixel during one frame.
type Phase uint8

const (
	// Noop leaves the pixel charge untouched.
	Noop Phase = 0b00
	// Black drives the pixel toward black.
	Black Phase = 0b01
	// White drives the pixel toward white.
	White Phase = 0b10
)

// ModeKind is a symbolic rendering mode requested by producers.
type ModeKind int

const (
	// Init clears the panel with a full flash sequence.
	Init ModeKind = iota
	// Du is a fast monochrome (direct update) mode.
	Du
	// Gc16 is the full-quality 16-plus-level grayscale mode.
	Gc16
	// Gl16 is a reduced-flashing grayscale mode.
	Gl16
	// A2 is the fastest animation mode, black/white only.
	A2
)

var modeKindNames = map[ModeKind]string{
	Init: "INIT",
	Du:   "DU",
	Gc16: "GC16",
	Gl16: "GL16",
	A2:   "A2",
}

func (k ModeKind) String() string {
	if s, ok := modeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ModeKind(%d)", int(k))
}

// ParseModeKind maps a mode name from a waveform file or a command line to
// its ModeKind.
func ParseModeKind(s string) (ModeKind, error) {
	for k, name := range modeKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("waveform: unknown mode kind %q", s)
}

// ModeID identifies a mode inside a specific Table. IDs are only meaningful
// for the table that produced them.
type ModeID int

// Matrix maps a (from, to) intensity pair to the phase driven during one
// frame of a transition.
type Matrix [Levels][Levels]Phase

// MatrixFunc builds a Matrix by evaluating f for every (from, to) pair.
func MatrixFunc(f func(from, to uint8) Phase) Matrix {
	var m Matrix
	for from := 0; from < Levels; from++ {
		for to := 0; to < Levels; to++ {
			m[from][to] = f(uint8(from), uint8(to))
		}
	}
	return m
}

// Waveform is the full phase sequence for one transition, one Matrix per
// frame.
type Waveform []Matrix

// tempRange holds the waveform valid for temperatures in [From, To).
type tempRange struct {
	From, To int
	Seq      Waveform
}

// Mode is one rendering mode with its temperature-dependent waveforms.
type Mode struct {
	Kind   ModeKind
	ranges []tempRange
}

// AddRange registers seq for panel temperatures in [from, to) degrees
// Celsius. Ranges are kept sorted; overlaps are rejected.
func (m *Mode) AddRange(from, to int, seq Waveform) error {
	if from >= to {
		return fmt.Errorf("waveform: empty temperature range [%d, %d)", from, to)
	}
	if len(seq) == 0 {
		return fmt.Errorf("waveform: mode %s has an empty sequence", m.Kind)
	}
	for _, r := range m.ranges {
		if from < r.To && r.From < to {
			return fmt.Errorf(
				"waveform: mode %s ranges [%d, %d) and [%d, %d) overlap",
				m.Kind, r.From, r.To, from, to,
			)
		}
	}
	m.ranges = append(m.ranges, tempRange{From: from, To: to, Seq: seq})
	sort.Slice(m.ranges, func(i, j int) bool {
		return m.ranges[i].From < m.ranges[j].From
	})
	return nil
}

// Table is a read-only collection of modes, shared by every component that
// needs to resolve transitions into phases.
type Table struct {
	modes  []*Mode
	byKind map[ModeKind]ModeID
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byKind: make(map[ModeKind]ModeID)}
}

// AddMode registers a new mode and returns it for range population.
// Registering the same kind twice is an error.
func (t *Table) AddMode(kind ModeKind) (*Mode, error) {
	if _, dup := t.byKind[kind]; dup {
		return nil, fmt.Errorf("waveform: duplicate mode %s", kind)
	}
	m := &Mode{Kind: kind}
	t.byKind[kind] = ModeID(len(t.modes))
	t.modes = append(t.modes, m)
	return m, nil
}

// GetModeID resolves a symbolic mode kind to this table's mode ID.
func (t *Table) GetModeID(kind ModeKind) (ModeID, error) {
	id, ok := t.byKind[kind]
	if !ok {
		return 0, fmt.Errorf("waveform: table has no %s mode", kind)
	}
	return id, nil
}

// ModeCount reports how many modes the table carries.
func (t *Table) ModeCount() int {
	return len(t.modes)
}

// Kinds lists the registered mode kinds in ID order.
func (t *Table) Kinds() []ModeKind {
	kinds := make([]ModeKind, len(t.modes))
	for i, m := range t.modes {
		kinds[i] = m.Kind
	}
	return kinds
}

// Lookup returns the waveform for the given mode at the given panel
// temperature in degrees Celsius. Temperatures outside the covered span are
// clamped to the nearest range, so a cold or hot panel still renders with
// the closest calibration instead of failing mid-update.
func (t *Table) Lookup(id ModeID, temperature int) (Waveform, error) {
	if int(id) < 0 || int(id) >= len(t.modes) {
		return nil, fmt.Errorf("waveform: mode id %d out of range", id)
	}
	m := t.modes[id]
	if len(m.ranges) == 0 {
		return nil, fmt.Errorf("waveform: mode %s has no temperature ranges", m.Kind)
	}
	for _, r := range m.ranges {
		if temperature >= r.From && temperature < r.To {
			return r.Seq, nil
		}
	}
	if temperature < m.ranges[0].From {
		return m.ranges[0].Seq, nil
	}
	last := m.ranges[len(m.ranges)-1]
	if temperature >= last.To {
		return last.Seq, nil
	}
	return nil, fmt.Errorf(
		"waveform: mode %s has no range covering %d°C", m.Kind, temperature,
	)
}
