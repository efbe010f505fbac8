package waveform

import (
	"testing"
)

func TestTableLookupRanges(t *testing.T) {
	table := NewTable()
	mode, err := table.AddMode(Du)
	if err != nil {
		t.Fatal(err)
	}

	cold := Waveform{MatrixFunc(func(from, to uint8) Phase { return Black })}
	warm := Waveform{
		MatrixFunc(func(from, to uint8) Phase { return White }),
		MatrixFunc(func(from, to uint8) Phase { return White }),
	}
	if err := mode.AddRange(0, 20, cold); err != nil {
		t.Fatal(err)
	}
	if err := mode.AddRange(20, 40, warm); err != nil {
		t.Fatal(err)
	}

	id, err := table.GetModeID(Du)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		temp      int
		wantSteps int
	}{
		{0, 1},
		{19, 1},
		{20, 2},
		{39, 2},
		// Outside the covered span, the nearest range applies.
		{-5, 1},
		{80, 2},
	} {
		seq, err := table.Lookup(id, tc.temp)
		if err != nil {
			t.Fatalf("Lookup(%d°C) = %v", tc.temp, err)
		}
		if len(seq) != tc.wantSteps {
			t.Errorf("Lookup(%d°C) has %d steps, want %d", tc.temp, len(seq), tc.wantSteps)
		}
	}
}

func TestTableLookupErrors(t *testing.T) {
	table := NewTable()
	if _, err := table.GetModeID(Gc16); err == nil {
		t.Error("GetModeID on empty table succeeded")
	}

	mode, err := table.AddMode(Gc16)
	if err != nil {
		t.Fatal(err)
	}
	id, err := table.GetModeID(Gc16)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := table.Lookup(id, 25); err == nil {
		t.Error("Lookup succeeded on a mode with no ranges")
	}
	if _, err := table.Lookup(ModeID(99), 25); err == nil {
		t.Error("Lookup succeeded on an invalid mode id")
	}

	if _, err := table.AddMode(Gc16); err == nil {
		t.Error("AddMode accepted a duplicate kind")
	}
	if err := mode.AddRange(30, 30, Waveform{Matrix{}}); err == nil {
		t.Error("AddRange accepted an empty temperature range")
	}
	if err := mode.AddRange(0, 10, nil); err == nil {
		t.Error("AddRange accepted an empty sequence")
	}
	if err := mode.AddRange(0, 30, Waveform{Matrix{}}); err != nil {
		t.Fatal(err)
	}
	if err := mode.AddRange(20, 40, Waveform{Matrix{}}); err == nil {
		t.Error("AddRange accepted an overlapping range")
	}
}

func TestParseModeKind(t *testing.T) {
	for _, tc := range []struct {
		name string
		want ModeKind
	}{
		{"INIT", Init},
		{"DU", Du},
		{"GC16", Gc16},
		{"GL16", Gl16},
		{"A2", A2},
	} {
		got, err := ParseModeKind(tc.name)
		if err != nil {
			t.Errorf("ParseModeKind(%q) = %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseModeKind(%q) = %v, want %v", tc.name, got, tc.want)
		}
		if got.String() != tc.name {
			t.Errorf("%v.String() = %q, want %q", got, got.String(), tc.name)
		}
	}

	if _, err := ParseModeKind("GC32"); err == nil {
		t.Error("ParseModeKind accepted an unknown name")
	}
}

func TestBuiltinCoversAllModes(t *testing.T) {
	table := Builtin()

	for _, kind := range []ModeKind{Init, Du, Gc16, Gl16, A2} {
		id, err := table.GetModeID(kind)
		if err != nil {
			t.Errorf("builtin table is missing %s: %v", kind, err)
			continue
		}
		for _, temp := range []int{0, 24, 50} {
			seq, err := table.Lookup(id, temp)
			if err != nil {
				t.Errorf("Lookup(%s, %d°C) = %v", kind, temp, err)
				continue
			}
			if len(seq) == 0 {
				t.Errorf("Lookup(%s, %d°C) returned an empty sequence", kind, temp)
			}
		}
	}
}

func TestBuiltinSettledPixelsIdle(t *testing.T) {
	table := Builtin()

	// In every non-flash mode, a pixel already at its target must not be
	// driven.
	for _, kind := range []ModeKind{Du, Gc16, Gl16, A2} {
		id, err := table.GetModeID(kind)
		if err != nil {
			t.Fatal(err)
		}
		seq, err := table.Lookup(id, 24)
		if err != nil {
			t.Fatal(err)
		}
		for k, m := range seq {
			for v := 0; v < Levels; v++ {
				if got := m[v][v]; got != Noop {
					t.Fatalf("%s step %d drives settled intensity %d with %d",
						kind, k, v, got)
				}
			}
		}
	}
}

func TestRampSequenceDrivesProportionally(t *testing.T) {
	seq := rampSequence(16)

	// A pixel crossing the full range is driven on every step; a short
	// hop is driven briefly and then left alone.
	for k, m := range seq {
		if got := m[0][Levels-1]; got != White {
			t.Errorf("step %d full rise = %d, want White", k, got)
		}
		if got := m[Levels-1][0]; got != Black {
			t.Errorf("step %d full fall = %d, want Black", k, got)
		}
	}
	if got := seq[0][10][11]; got != White {
		t.Errorf("first step of short rise = %d, want White", got)
	}
	if got := seq[15][10][11]; got != Noop {
		t.Errorf("last step of short rise = %d, want Noop", got)
	}
}
