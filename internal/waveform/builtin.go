package waveform

// Builtin returns a table with hand-written waveforms for every supported
// mode. The sequences are far simpler than vendor calibration data and are
// meant for demos, tests, and bring-up on panels whose real tables are not
// available; image quality is accordingly rough.
func Builtin() *Table {
	t := NewTable()

	// Ranges are deliberately coarse: one calibration below room
	// temperature, one above.
	addBuiltin(t, Init, flashSequence(8))
	addBuiltin(t, Du, directSequence(4))
	addBuiltin(t, Gc16, rampSequence(16))
	addBuiltin(t, Gl16, rampSequence(10))
	addBuiltin(t, A2, directSequence(2))
	return t
}

func addBuiltin(t *Table, kind ModeKind, seq Waveform) {
	m, err := t.AddMode(kind)
	if err != nil {
		// Builtin registers each kind exactly once.
		panic(err)
	}
	if err := m.AddRange(-10, 18, seq); err != nil {
		panic(err)
	}
	if err := m.AddRange(18, 60, seq); err != nil {
		panic(err)
	}
}

// flashSequence drives full black for the first half of the sequence and
// full white for the second half to shake loose any residual charge, ending
// on white. Every pixel is driven regardless of its source value.
func flashSequence(steps int) Waveform {
	seq := make(Waveform, steps)
	for k := range seq {
		phase := Black
		if k >= steps/2 {
			phase = White
		}
		seq[k] = MatrixFunc(func(from, to uint8) Phase {
			return phase
		})
	}
	return seq
}

// directSequence drives changed pixels straight toward their target side,
// treating intensities below the midpoint as black.
func directSequence(steps int) Waveform {
	seq := make(Waveform, steps)
	for k := range seq {
		seq[k] = MatrixFunc(func(from, to uint8) Phase {
			if from == to {
				return Noop
			}
			if to < Levels/2 {
				return Black
			}
			return White
		})
	}
	return seq
}

// rampSequence approximates grayscale by driving each pixel for a number of
// frames proportional to the distance it has to travel, then letting it
// rest.
func rampSequence(steps int) Waveform {
	seq := make(Waveform, steps)
	for k := range seq {
		step := k
		seq[k] = MatrixFunc(func(from, to uint8) Phase {
			if from == to {
				return Noop
			}
			var distance int
			var phase Phase
			if to > from {
				distance = int(to - from)
				phase = White
			} else {
				distance = int(from - to)
				phase = Black
			}
			// Scale travel distance into drive frames.
			drive := (distance*steps + Levels - 1) / Levels
			if step < drive {
				return phase
			}
			return Noop
		})
	}
	return seq
}
