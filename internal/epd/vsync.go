package epd

import (
	"time"

	"epdfb/internal/log"
)

// runVsync is the vsync worker. It takes frame batches from the generator,
// copies each frame into one of the two framebuffer slots, and pans the
// panel to it. The pan ioctl doubles as the clock: it blocks until the
// previous frame's vsync boundary, so frames leave at panel refresh rate.
//
// When no work arrives within PowerOffTimeout the panel is powered down;
// the next batch powers it back up before any frame is copied.
func (d *Display) runVsync() {
	defer d.wg.Done()

	slot := 0
	first := true
	idle := time.NewTimer(d.opts.PowerOffTimeout)
	defer idle.Stop()

	for {
		var batch frameBatch

		idle.Reset(d.opts.PowerOffTimeout)
		select {
		case batch = <-d.frames:
		case <-d.stop:
			return
		case <-idle.C:
			// No updates coming; stop burning battery on the panel
			// supply and wait without a deadline.
			d.setPower(false)
			select {
			case batch = <-d.frames:
			case <-d.stop:
				return
			}
		}

		if d.perf != nil {
			batch.update.vsyncTimes = append(batch.update.vsyncTimes, time.Now())
		}

		d.setPower(true)
		if err := d.updateTemperature(); err != nil {
			log.Error("temperature update failed", err)
		}

		for _, frame := range batch.frames {
			slot = (slot + 1) % bufTotalFrames
			d.dev.writeFrame(slot, frame)

			if err := d.dev.pan(slot, first); err != nil {
				// A failing pan means the device is gone; this is a
				// background worker, so log and bow out instead of
				// unwinding.
				log.Error("vsync worker exiting", err)
				return
			}
			first = false

			if d.perf != nil {
				batch.update.vsyncTimes = append(batch.update.vsyncTimes, time.Now())
			}
		}

		if d.perf != nil {
			d.perf.record(batch.update)
		}
	}
}
