package epd

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"epdfb/internal/waveform"
)

// testTable builds a table with a single GC16 mode whose waveform has the
// given number of steps: white drive for rising pixels, black for falling,
// noop for settled ones.
func testTable(t *testing.T, steps int) (*waveform.Table, waveform.ModeID) {
	t.Helper()

	table := waveform.NewTable()
	mode, err := table.AddMode(waveform.Gc16)
	if err != nil {
		t.Fatal(err)
	}

	seq := make(waveform.Waveform, steps)
	for k := range seq {
		seq[k] = waveform.MatrixFunc(func(from, to uint8) waveform.Phase {
			switch {
			case from == to:
				return waveform.Noop
			case to > from:
				return waveform.White
			default:
				return waveform.Black
			}
		})
	}
	if err := mode.AddRange(-10, 60, seq); err != nil {
		t.Fatal(err)
	}

	id, err := table.GetModeID(waveform.Gc16)
	if err != nil {
		t.Fatal(err)
	}
	return table, id
}

func newDryDisplay(t *testing.T, steps int) (*Display, waveform.ModeID) {
	t.Helper()
	table, mode := testTable(t, steps)
	d := New(Options{DryRun: true}, table)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(d.Stop)
	return d, mode
}

func TestPushUpdateValidation(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	// Buffer length must match the region.
	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	if d.PushUpdateMode(mode, false, region, make([]Intensity, 7)) {
		t.Error("PushUpdateMode accepted a short buffer")
	}

	// A region outside the panel must be rejected without queueing.
	oob := Region{Top: 0, Left: EPDWidth, Width: 1, Height: 1}
	if d.PushUpdateMode(mode, false, oob, make([]Intensity, 1)) {
		t.Error("PushUpdateMode accepted an out-of-bounds region")
	}
	if got := d.queue.len(); got != 0 {
		t.Errorf("queue has %d entries after rejected updates, want 0", got)
	}
	if len(d.dryBatches) != 0 {
		t.Errorf("rejected updates produced %d frame batches", len(d.dryBatches))
	}

	if !d.PushUpdateMode(mode, false, region, make([]Intensity, 8)) {
		t.Error("PushUpdateMode rejected a valid update")
	}
}

func TestBatchUpdate(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	buffer := []Intensity{0, 1, 2, 3, 4, 5, 6, 7}
	if !d.PushUpdateMode(mode, false, region, buffer) {
		t.Fatal("PushUpdateMode rejected the update")
	}

	if len(d.dryBatches) != 1 {
		t.Fatalf("generated %d batches, want 1", len(d.dryBatches))
	}
	if got := len(d.dryBatches[0].frames); got != 3 {
		t.Fatalf("generated %d frames, want one per waveform step (3)", got)
	}

	// The 1×8 producer row lands transposed and double-flipped: EPD
	// column 1871, rows 1396–1403, values reversed.
	for r := 0; r < 8; r++ {
		p := (EPDHeight-8+r)*EPDWidth + (EPDWidth - 1)
		want := Intensity(7 - r)
		if got := d.currentIntensity[p]; got != want {
			t.Errorf("currentIntensity row %d = %d, want %d", r, got, want)
		}
	}

	// An untouched pixel keeps its value.
	if got := d.currentIntensity[0]; got != 0 {
		t.Errorf("pixel outside the update changed to %d", got)
	}
}

func TestBatchFramePreservesNullFrame(t *testing.T) {
	d, mode := newDryDisplay(t, 2)

	// EPD-space region with unaligned left/width; the aligned region is
	// {Left: 0, Width: 8}, one packed cell per row.
	u := &Update{
		ids:    []uint64{1},
		mode:   mode,
		region: Region{Top: 10, Left: 1, Width: 5, Height: 2},
		buffer: []Intensity{9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
	}
	d.queue.push(u)
	if !d.processOne() {
		t.Fatal("processOne() found no update")
	}

	if len(d.dryBatches) != 1 {
		t.Fatalf("generated %d batches, want 1", len(d.dryBatches))
	}

	// Every changed pixel rises from 0, so each contained pixel encodes
	// White (0b10) and the padding pixels encode Noop.
	const wantWord = 0x2AA0
	wantLow, wantHigh := byte(wantWord&0xff), byte(wantWord>>8)

	touched := map[int]bool{}
	for _, y := range []int{10, 11} {
		off := (marginTop+y)*bufStride + marginLeft*bufDepth
		touched[off] = true
		touched[off+1] = true
	}

	for _, frame := range d.dryBatches[0].frames {
		for off := range touched {
			want := wantLow
			if off%2 == 1 {
				want = wantHigh
			}
			if frame[off] != want {
				t.Fatalf("pixel byte at %d = %#02x, want %#02x", off, frame[off], want)
			}
		}
		for i := range frame {
			if touched[i] {
				continue
			}
			if frame[i] != d.nullFrame[i] {
				t.Fatalf("byte %d = %#02x differs from null frame %#02x",
					i, frame[i], d.nullFrame[i])
			}
		}
	}
}

func TestImmediateNoChange(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 2}
	if !d.PushUpdateMode(mode, true, region, make([]Intensity, 16)) {
		t.Fatal("PushUpdateMode rejected the update")
	}

	if len(d.dryBatches) != 0 {
		t.Errorf("no-op immediate update generated %d batches, want 0", len(d.dryBatches))
	}
	for i, step := range d.waveformSteps {
		if step != 0 {
			t.Fatalf("waveformSteps[%d] = %d after idle update", i, step)
		}
	}
}

func TestImmediateCompletes(t *testing.T) {
	const steps = 3
	d, mode := newDryDisplay(t, steps)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	buffer := []Intensity{5, 5, 5, 5, 5, 5, 5, 5}
	if !d.PushUpdateMode(mode, true, region, buffer) {
		t.Fatal("PushUpdateMode rejected the update")
	}

	// One frame per step, sent individually.
	if len(d.dryBatches) != steps {
		t.Fatalf("generated %d batches, want %d", len(d.dryBatches), steps)
	}
	for i, batch := range d.dryBatches {
		if len(batch.frames) != 1 {
			t.Errorf("batch %d carries %d frames, want 1", i, len(batch.frames))
		}
	}

	// All transitions completed: planes agree and every step counter is
	// back to idle.
	if diff := cmp.Diff(d.nextIntensity, d.currentIntensity); diff != "" {
		t.Errorf("intensity planes diverge (-next +current):\n%s", diff)
	}
	for i, step := range d.waveformSteps {
		if step != 0 {
			t.Fatalf("waveformSteps[%d] = %d after completion", i, step)
		}
	}

	p := (EPDHeight-8)*EPDWidth + (EPDWidth - 1)
	if got := d.currentIntensity[p]; got != 5 {
		t.Errorf("target pixel = %d, want 5", got)
	}
}

func TestImmediateLastWins(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	first := []Intensity{3, 3, 3, 3, 3, 3, 3, 3}
	second := []Intensity{9, 9, 9, 9, 9, 9, 9, 9}

	if !d.PushUpdateMode(mode, true, region, first) {
		t.Fatal("first update rejected")
	}
	if !d.PushUpdateMode(mode, true, region, second) {
		t.Fatal("second update rejected")
	}

	p := (EPDHeight-8)*EPDWidth + (EPDWidth - 1)
	if got := d.currentIntensity[p]; got != 9 {
		t.Errorf("pixel = %d after sequential updates, want last target 9", got)
	}
}

func TestMergeBatchUpdates(t *testing.T) {
	d, mode := newDryDisplay(t, 2)

	a := &Update{
		ids:    []uint64{1},
		mode:   mode,
		region: Region{Top: 0, Left: 0, Width: 8, Height: 1},
		buffer: []Intensity{1, 1, 1, 1, 1, 1, 1, 1},
	}
	b := &Update{
		ids:    []uint64{2},
		mode:   mode,
		region: Region{Top: 4, Left: 8, Width: 8, Height: 1},
		buffer: []Intensity{2, 2, 2, 2, 2, 2, 2, 2},
	}
	d.queue.push(a)
	d.queue.push(b)

	if !d.processOne() {
		t.Fatal("processOne() found no update")
	}

	// Both updates render as one pass over the merged bounding box.
	if len(d.dryBatches) != 1 {
		t.Fatalf("generated %d batches, want 1 merged batch", len(d.dryBatches))
	}
	merged := d.dryBatches[0].update
	if diff := cmp.Diff([]uint64{1, 2}, merged.ids); diff != "" {
		t.Errorf("merged ids difference (-want +got):\n%s", diff)
	}
	wantRegion := Region{Top: 0, Left: 0, Width: 16, Height: 5}
	if merged.region != wantRegion {
		t.Errorf("merged region = %+v, want %+v", merged.region, wantRegion)
	}
	if got := d.queue.len(); got != 0 {
		t.Errorf("queue still has %d entries after merge", got)
	}

	if got := d.currentIntensity[0]; got != 1 {
		t.Errorf("pixel from first update = %d, want 1", got)
	}
	if got := d.currentIntensity[4*EPDWidth+8]; got != 2 {
		t.Errorf("pixel from second update = %d, want 2", got)
	}
}

func TestMergeRefusedAcrossPipelines(t *testing.T) {
	d, mode := newDryDisplay(t, 2)

	cur := &Update{
		ids:    []uint64{1},
		mode:   mode,
		region: Region{Top: 0, Left: 0, Width: 8, Height: 1},
		buffer: make([]Intensity, 8),
	}
	queued := &Update{
		ids:       []uint64{2},
		mode:      mode,
		immediate: true,
		region:    Region{Top: 0, Left: 0, Width: 8, Height: 1},
		buffer:    make([]Intensity, 8),
	}
	d.queue.push(queued)

	d.mergeUpdates(cur)

	if got := d.queue.len(); got != 1 {
		t.Errorf("immediate update merged into batch update, queue len %d", got)
	}
}

func TestMergeImmediateRefusedMidTransition(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	cur := &Update{
		ids:       []uint64{1},
		mode:      mode,
		immediate: true,
		region:    region,
		buffer:    make([]Intensity, 8),
	}

	// Pixel 3 is mid-waveform toward 5.
	d.nextIntensity[3] = 5
	d.waveformSteps[3] = 1

	retarget := &Update{
		ids:       []uint64{2},
		mode:      mode,
		immediate: true,
		region:    region,
		buffer:    []Intensity{0, 0, 0, 7, 0, 0, 0, 0},
	}
	d.queue.push(retarget)

	d.mergeUpdates(cur)

	if got := d.queue.len(); got != 1 {
		t.Fatalf("merge retargeted an in-flight pixel, queue len %d", got)
	}
	if got := d.nextIntensity[3]; got != 5 {
		t.Errorf("in-flight target changed to %d", got)
	}

	// The same update merges fine once the pixel has no transition in
	// flight.
	d.waveformSteps[3] = 0
	d.mergeUpdates(cur)
	if got := d.queue.len(); got != 0 {
		t.Errorf("merge refused with no transition in flight, queue len %d", got)
	}
	if got := d.nextIntensity[3]; got != 7 {
		t.Errorf("merged target = %d, want 7", got)
	}
}

func TestMergeImmediateAllowedSameTarget(t *testing.T) {
	d, mode := newDryDisplay(t, 3)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	cur := &Update{
		ids:       []uint64{1},
		mode:      mode,
		immediate: true,
		region:    region,
		buffer:    make([]Intensity, 8),
	}

	// In-flight pixel, but the queued update agrees on its target.
	d.nextIntensity[3] = 5
	d.waveformSteps[3] = 2

	agreeing := &Update{
		ids:       []uint64{2},
		mode:      mode,
		immediate: true,
		region:    region,
		buffer:    []Intensity{1, 1, 1, 5, 1, 1, 1, 1},
	}
	d.queue.push(agreeing)

	d.mergeUpdates(cur)

	if got := d.queue.len(); got != 0 {
		t.Errorf("merge refused although targets agree, queue len %d", got)
	}
	if diff := cmp.Diff([]uint64{1, 2}, cur.ids); diff != "" {
		t.Errorf("merged ids difference (-want +got):\n%s", diff)
	}
}

func TestPerfReport(t *testing.T) {
	table, mode := testTable(t, 2)
	d := New(Options{DryRun: true, PerfReport: true}, table)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(d.Stop)

	region := Region{Top: 0, Left: 0, Width: 8, Height: 1}
	if !d.PushUpdateMode(mode, false, region, make([]Intensity, 8)) {
		t.Fatal("PushUpdateMode rejected the update")
	}

	report := d.PerfReport()
	lines := strings.Split(strings.TrimRight(report, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("report has %d lines, want header plus one row:\n%s", len(lines), report)
	}
	if lines[0] != strings.TrimRight(perfHeader, "\n") {
		t.Errorf("report header = %q", lines[0])
	}
	fields := strings.Split(lines[1], ",")
	if len(fields) != 8 {
		t.Fatalf("row has %d fields, want 8: %q", len(fields), lines[1])
	}
	// Transposed region: the 8×1 producer row is 1×8 on the panel.
	if fields[2] != "1" || fields[3] != "8" {
		t.Errorf("row width/height = %s/%s, want 1/8", fields[2], fields[3])
	}
	if fields[4] == "" || fields[5] == "" || fields[6] == "" {
		t.Errorf("row is missing timing fields: %q", lines[1])
	}
}
