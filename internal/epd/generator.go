package epd

import (
	"encoding/binary"
	"time"

	"epdfb/internal/log"
	"epdfb/internal/waveform"
)

// runGenerator is the generator worker: dequeue, render, repeat until the
// queue is closed.
func (d *Display) runGenerator() {
	defer d.wg.Done()
	for {
		u := d.queue.pop()
		if u == nil {
			return
		}
		d.process(u)
	}
}

// generateBatch renders a complete waveform sequence for an update and
// hands all frames over at once.
func (d *Display) generateBatch(u *Update) {
	if d.sensor != nil {
		if err := d.updateTemperature(); err != nil {
			log.Error("temperature update failed", err)
		}
	}
	wf, err := d.table.Lookup(u.mode, d.Temperature())
	if err != nil {
		log.Error("dropping update: waveform lookup failed", err,
			"ids", formatIDs(u.ids))
		return
	}

	copy(d.nextIntensity, d.currentIntensity)
	u.apply(d.nextIntensity)

	// Fold in whatever else is queued and compatible before committing
	// to a full render.
	d.mergeUpdates(u)

	aligned := alignRegion(u.region)

	if d.perf != nil {
		u.generateTimes = append(u.generateTimes, time.Now())
	}

	frames := make([][]byte, 0, len(wf))
	for k := range wf {
		frame := make([]byte, bufFrame)
		copy(frame, d.nullFrame)
		d.encodeFrame(frame, &wf[k], u.region, aligned)
		frames = append(frames, frame)

		if d.perf != nil {
			u.generateTimes = append(u.generateTimes, time.Now())
		}
	}

	d.sendFrames(u, frames)
	copy(d.currentIntensity, d.nextIntensity)
}

// generateImmediate renders one frame at a time, advancing a per-pixel step
// counter, so new updates can be folded in mid-transition. The loop ends on
// the first frame in which no pixel moved; that frame is not sent.
func (d *Display) generateImmediate(u *Update) {
	wf, err := d.table.Lookup(u.mode, d.Temperature())
	if err != nil {
		log.Error("dropping update: waveform lookup failed", err,
			"ids", formatIDs(u.ids))
		return
	}
	stepCount := uint16(len(wf))

	for i := range d.waveformSteps {
		d.waveformSteps[i] = 0
	}

	copy(d.nextIntensity, d.currentIntensity)
	u.apply(d.nextIntensity)

	for {
		d.mergeUpdates(u)

		if d.perf != nil {
			u.generateTimes = append(u.generateTimes, time.Now())
		}

		frame := make([]byte, bufFrame)
		copy(frame, d.nullFrame)

		aligned := alignRegion(u.region)
		var active Region
		finished := true

		base := u.region.Top*EPDWidth + u.region.Left
		pi := base
		off := (marginTop+aligned.Top)*bufStride +
			(marginLeft+aligned.Left/bufActualDepth)*bufDepth

		for y := aligned.Top; y < aligned.Top+aligned.Height; y++ {
			cellOff := off
			for sx := aligned.Left; sx < aligned.Left+aligned.Width; sx += bufActualDepth {
				var phases uint16
				for x := sx; x < sx+bufActualDepth; x++ {
					phases <<= 2
					if !u.region.Contains(x, y) {
						continue
					}

					phase := waveform.Noop
					if d.currentIntensity[pi] != d.nextIntensity[pi] {
						finished = false

						// Advance this pixel to its next step.
						step := d.waveformSteps[pi]
						phase = wf[step][d.currentIntensity[pi]][d.nextIntensity[pi]]
						active.ExtendPoint(x, y)
						step++

						if step == stepCount {
							// Transition complete: idle the pixel and
							// commit its final value.
							step = 0
							d.currentIntensity[pi] = d.nextIntensity[pi]
						}
						d.waveformSteps[pi] = step
					}

					phases |= uint16(phase)
					pi++
				}
				binary.LittleEndian.PutUint16(frame[cellOff:], phases)
				cellOff += bufDepth
			}
			pi += EPDWidth - u.region.Width
			off += bufStride
		}

		if finished {
			return
		}

		d.sendFrames(u, [][]byte{frame})
		// Later iterations only need to cover pixels still moving.
		u.region = active
	}
}

// encodeFrame packs one phase matrix into the pixel words of frame for the
// batch pipeline. region is the true update region, aligned its packing
// alignment; aligned-but-outside pixels keep the noop phase.
func (d *Display) encodeFrame(frame []byte, matrix *waveform.Matrix, region, aligned Region) {
	prev := d.currentIntensity
	next := d.nextIntensity

	pi := region.Top*EPDWidth + region.Left
	off := (marginTop+aligned.Top)*bufStride +
		(marginLeft+aligned.Left/bufActualDepth)*bufDepth

	for y := aligned.Top; y < aligned.Top+aligned.Height; y++ {
		cellOff := off
		for sx := aligned.Left; sx < aligned.Left+aligned.Width; sx += bufActualDepth {
			var phases uint16
			for x := sx; x < sx+bufActualDepth; x++ {
				phases <<= 2
				if region.Contains(x, y) {
					phases |= uint16(matrix[prev[pi]][next[pi]])
					pi++
				}
			}
			binary.LittleEndian.PutUint16(frame[cellOff:], phases)
			cellOff += bufDepth
		}
		pi += EPDWidth - region.Width
		off += bufStride
	}
}

// mergeUpdates absorbs queued updates into cur while they remain
// compatible: same pipeline, same mode, and — for immediate updates — no
// retargeting of any pixel whose transition is still in flight.
func (d *Display) mergeUpdates(cur *Update) {
	q := &d.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		next := q.items[0]

		if cur.immediate != next.immediate || cur.mode != next.mode {
			return
		}
		if cur.immediate && d.retargetsInFlight(next) {
			return
		}

		next.apply(d.nextIntensity)

		cur.region.Extend(next.region)
		cur.ids = append(cur.ids, next.ids...)
		q.items[0] = nil
		q.items = q.items[1:]
	}
}

// retargetsInFlight reports whether applying u would change the target
// value of any pixel that is mid-waveform. Such a merge would corrupt the
// transition, so the caller must refuse it.
func (d *Display) retargetsInFlight(u *Update) bool {
	src := 0
	base := u.region.Top*EPDWidth + u.region.Left
	for y := 0; y < u.region.Height; y++ {
		pi := base
		for x := 0; x < u.region.Width; x++ {
			if d.nextIntensity[pi] != u.buffer[src] && d.waveformSteps[pi] > 0 {
				return true
			}
			pi++
			src++
		}
		base += EPDWidth
	}
	return false
}

// sendFrames publishes a batch to the vsync worker and blocks until the
// worker takes it. In dry-run mode the batch is recorded instead.
func (d *Display) sendFrames(u *Update, frames [][]byte) {
	batch := frameBatch{update: u, frames: frames}
	if d.opts.DryRun {
		d.dryBatches = append(d.dryBatches, batch)
		if d.perf != nil {
			d.perf.record(u)
		}
		return
	}
	select {
	case d.frames <- batch:
	case <-d.stop:
	}
}
