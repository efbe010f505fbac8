// Package epd drives an electrophoretic panel through a Linux framebuffer
// that expects pre-encoded waveform frames instead of pixel intensities.
//
// The driver is a three-stage pipeline. Producers push rectangular updates
// into a queue; a generator goroutine turns each update into a sequence of
// packed frames using the waveform table; a vsync goroutine ping-pongs the
// frames through the framebuffer's two-slot virtual region in lock-step with
// the panel refresh. Frame synthesis for update N+1 overlaps scan-out of
// update N.
package epd

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"epdfb/internal/log"
	"epdfb/internal/waveform"
)

// Options configures a Display.
type Options struct {
	// FramebufferPath is the panel device. Empty means discover it.
	FramebufferPath string
	// SensorPath is the temperature attribute. Empty means discover it.
	SensorPath string

	// DryRun elides all device I/O and worker goroutines; updates are
	// processed synchronously inside PushUpdate and the generated frames
	// are kept for inspection.
	DryRun bool
	// PerfReport enables per-update timing collection, retrievable
	// through PerfReport().
	PerfReport bool

	// PowerOffTimeout is how long the vsync worker waits for work before
	// powering the panel down.
	PowerOffTimeout time.Duration
	// TemperatureReadInterval rate-limits sensor reads.
	TemperatureReadInterval time.Duration
}

func (o *Options) normalize() {
	if o.PowerOffTimeout <= 0 {
		o.PowerOffTimeout = defaultPowerOffTimeout
	}
	if o.TemperatureReadInterval <= 0 {
		o.TemperatureReadInterval = defaultTemperatureReadInterval
	}
}

// frameBatch is one hand-off unit between the generator and the vsync
// worker: the frames to scan out, plus the update they came from for
// timing attribution.
type frameBatch struct {
	update *Update
	frames [][]byte
}

// Display is the public façade of the driver. All methods are safe for
// concurrent use; PushUpdate may be called from any goroutine.
type Display struct {
	table *waveform.Table
	opts  Options

	dev    panelDevice
	sensor temperatureSensor

	queue  updateQueue
	nextID atomic.Uint64

	// Pixel planes, owned by the generator after Start.
	currentIntensity []Intensity
	nextIntensity    []Intensity
	waveformSteps    []uint16

	nullFrame []byte

	// Generator → vsync hand-off. The send is the "can write" edge, the
	// receive the "can read" edge; the vsync worker owns a batch from
	// receive until its next receive.
	frames chan frameBatch

	temperature  atomic.Int32
	tempMu       sync.Mutex
	tempLastRead time.Time

	// power is the cached panel power state. It is only touched by
	// Start/Stop and by the vsync worker, never concurrently.
	power bool

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	perf *perfRecorder

	// Dry-run only: batches that would have gone to the vsync worker.
	dryBatches []frameBatch
}

// New creates a Display backed by the given waveform table. The device is
// not touched until Start.
func New(opts Options, table *waveform.Table) *Display {
	opts.normalize()
	d := &Display{
		table:            table,
		opts:             opts,
		currentIntensity: make([]Intensity, epdSize),
		nextIntensity:    make([]Intensity, epdSize),
		waveformSteps:    make([]uint16, epdSize),
	}
	d.queue.init()
	if opts.PerfReport {
		d.perf = &perfRecorder{}
	}
	return d
}

// Start opens the devices, validates the framebuffer geometry, maps it,
// primes every frame slot with the null frame, and launches the generator
// and vsync workers. In dry-run mode it only prepares the in-memory state.
func (d *Display) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	d.nullFrame = newNullFrame()

	if d.opts.DryRun {
		if d.sensor == nil {
			d.sensor = fixedSensor(24)
		}
		if err := d.readTemperature(); err != nil {
			return err
		}
		d.started = true
		return nil
	}

	if err := d.openDevices(); err != nil {
		return err
	}

	d.setPower(true)
	if err := d.readTemperature(); err != nil {
		// Power off while the descriptor is still open, then release
		// everything so a retry reopens from scratch.
		d.setPower(false)
		d.closeDevices()
		return err
	}

	d.queue.reopen()
	d.frames = make(chan frameBatch)
	d.stop = make(chan struct{})

	d.wg.Add(2)
	go d.runGenerator()
	go d.runVsync()

	d.started = true
	return nil
}

// openDevices resolves and opens the framebuffer and the sensor. Tests
// preload d.dev and d.sensor with fakes, which skips discovery entirely.
func (d *Display) openDevices() error {
	if d.dev == nil {
		fbPath := d.opts.FramebufferPath
		if fbPath == "" {
			var err error
			if fbPath, err = DiscoverFramebuffer(); err != nil {
				return err
			}
		}
		d.dev = newFBDevice(fbPath)
	}
	if err := d.dev.open(d.nullFrame); err != nil {
		d.closeDevices()
		return err
	}

	if d.sensor == nil {
		sensorPath := d.opts.SensorPath
		if sensorPath == "" {
			var err error
			if sensorPath, err = DiscoverTemperatureSensor(); err != nil {
				d.closeDevices()
				return err
			}
		}
		sensor, err := openSysfsSensor(sensorPath)
		if err != nil {
			d.closeDevices()
			return err
		}
		d.sensor = sensor
	}
	return nil
}

// closeDevices releases both handles and clears them. The original design
// kept the descriptors open for the object's whole lifetime; here they are
// scoped to a started display, so they must be reset to nil or a later
// Start would keep using a closed file instead of reopening it.
func (d *Display) closeDevices() {
	if d.dev != nil {
		d.dev.close()
		d.dev = nil
	}
	if d.sensor != nil {
		d.sensor.close()
		d.sensor = nil
	}
}

// Stop signals both workers, waits for them, powers the panel off, and
// releases the devices. It is idempotent and is safe to call on a Display
// that failed to start.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false

	if d.opts.DryRun {
		return
	}

	close(d.stop)
	d.queue.close()
	d.wg.Wait()

	d.setPower(false)
	d.closeDevices()
}

// PushUpdate validates an update given in screen orientation, transforms it
// into EPD coordinates, and enqueues it. It reports false when the buffer
// size does not match the region or the region falls outside the panel.
func (d *Display) PushUpdate(kind waveform.ModeKind, immediate bool, region Region, buffer []Intensity) bool {
	mode, err := d.table.GetModeID(kind)
	if err != nil {
		log.Error("update rejected: unresolved mode", err, "mode", kind)
		return false
	}
	return d.PushUpdateMode(mode, immediate, region, buffer)
}

// PushUpdateMode is PushUpdate with an already-resolved mode ID.
func (d *Display) PushUpdateMode(mode waveform.ModeID, immediate bool, region Region, buffer []Intensity) bool {
	if len(buffer) != region.Width*region.Height {
		return false
	}

	// Transform from screen coordinates to EPD coordinates: transpose to
	// swap X and Y, then flip both axes. The transposed buffer stays
	// row-major in the transformed region.
	trans := make([]Intensity, len(buffer))
	for k := range buffer {
		i := region.Height - k%region.Height - 1
		j := region.Width - k/region.Height - 1
		trans[k] = buffer[i*region.Width+j] & (IntensityValues - 1)
	}

	region = Region{
		Top:    EPDHeight - region.Left - region.Width,
		Left:   EPDWidth - region.Top - region.Height,
		Width:  region.Height,
		Height: region.Width,
	}

	if region.Top < 0 || region.Left < 0 ||
		region.Left >= EPDWidth || region.Top >= EPDHeight ||
		region.Left+region.Width > EPDWidth ||
		region.Top+region.Height > EPDHeight {
		return false
	}

	u := &Update{
		ids:       []uint64{d.nextID.Add(1) - 1},
		mode:      mode,
		immediate: immediate,
		region:    region,
		buffer:    trans,
	}
	if d.perf != nil {
		u.queueTime = time.Now()
	}

	d.queue.push(u)
	if d.opts.DryRun {
		// Serialize dry-run processing: it runs on the caller's goroutine
		// and mutates the pixel planes directly.
		d.mu.Lock()
		d.processOne()
		d.mu.Unlock()
	}
	return true
}

// processOne dequeues and fully processes a single update. Dry runs call it
// synchronously; the generator worker calls it in a loop.
func (d *Display) processOne() bool {
	u := d.queue.tryPop()
	if u == nil {
		return false
	}
	d.process(u)
	return true
}

func (d *Display) process(u *Update) {
	if d.perf != nil {
		u.dequeueTime = time.Now()
	}
	if u.immediate {
		d.generateImmediate(u)
	} else {
		d.generateBatch(u)
	}
}

// setPower issues a blank ioctl only on state edges and caches the state
// only when the ioctl succeeds.
func (d *Display) setPower(on bool) {
	if d.opts.DryRun || on == d.power {
		return
	}
	if err := d.dev.blank(on); err != nil {
		log.Error("panel power change failed", err, "on", on)
		return
	}
	d.power = on
}

// updateTemperature re-reads the sensor at most once per
// TemperatureReadInterval.
func (d *Display) updateTemperature() error {
	d.tempMu.Lock()
	defer d.tempMu.Unlock()
	if time.Since(d.tempLastRead) <= d.opts.TemperatureReadInterval {
		return nil
	}
	return d.readTemperatureLocked()
}

// readTemperature forces a sensor read regardless of the interval.
func (d *Display) readTemperature() error {
	d.tempMu.Lock()
	defer d.tempMu.Unlock()
	return d.readTemperatureLocked()
}

func (d *Display) readTemperatureLocked() error {
	value, err := d.sensor.read()
	if err != nil {
		return err
	}
	d.temperature.Store(int32(value))
	d.tempLastRead = time.Now()
	return nil
}

// Temperature returns the cached panel temperature in degrees Celsius.
func (d *Display) Temperature() int {
	return int(d.temperature.Load())
}

// PerfReport returns the collected timing rows as CSV, or an empty string
// when perf reporting is disabled.
func (d *Display) PerfReport() string {
	if d.perf == nil {
		return ""
	}
	return d.perf.report()
}

// Table returns the waveform table the display renders with.
func (d *Display) Table() *waveform.Table {
	return d.table
}

// formatIDs renders an update's ID list the way perf rows and log lines
// expect it: colon-separated, in merge order.
func formatIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ":")
}
