package epd

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux framebuffer ioctl requests and blank levels, from linux/fb.h.
const (
	fbioGetVScreeninfo = 0x4600
	fbioPutVScreeninfo = 0x4601
	fbioGetFScreeninfo = 0x4602
	fbioPanDisplay     = 0x4606
	fbioBlank          = 0x4611

	fbBlankUnblank   = 0
	fbBlankPowerdown = 4
)

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

// varScreeninfo mirrors struct fb_var_screeninfo.
type varScreeninfo struct {
	Xres         uint32
	Yres         uint32
	XresVirtual  uint32
	YresVirtual  uint32
	Xoffset      uint32
	Yoffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	Nonstd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	Pixclock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HsyncLen     uint32
	VsyncLen     uint32
	Sync         uint32
	Vmode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

// fixScreeninfo mirrors struct fb_fix_screeninfo. The unsigned long fields
// are pointer-sized on every Linux target.
type fixScreeninfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	Xpanstep     uint16
	Ypanstep     uint16
	Ywrapstep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// panelDevice is the slice of the framebuffer interface the driver needs.
// The production implementation is fbDevice; tests substitute a fake to
// observe pan and blank traffic.
type panelDevice interface {
	// open fetches and validates the device geometry, maps the
	// framebuffer, and fills every frame slot with nullFrame.
	open(nullFrame []byte) error
	// writeFrame copies frame into the given slot of the virtual region.
	writeFrame(slot int, frame []byte)
	// pan points the panel at the given slot. The first call after open
	// programs the full variable info; later calls issue a pan, which
	// also blocks until the previous frame's vsync boundary.
	pan(slot int, first bool) error
	// blank powers the panel driver on or off.
	blank(on bool) error
	close() error
}

// fbDevice drives a real /dev/fbN character device.
type fbDevice struct {
	path  string
	fd    int
	vinfo varScreeninfo
	finfo fixScreeninfo
	mem   []byte
}

func newFBDevice(path string) *fbDevice {
	return &fbDevice{path: path, fd: -1}
}

func (d *fbDevice) open(nullFrame []byte) error {
	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("epd: open %s: %w", d.path, err)
	}
	d.fd = fd

	if err := d.ioctl(fbioGetVScreeninfo, unsafe.Pointer(&d.vinfo)); err != nil {
		d.close()
		return fmt.Errorf("epd: fetch display vscreeninfo: %w", err)
	}
	if err := d.ioctl(fbioGetFScreeninfo, unsafe.Pointer(&d.finfo)); err != nil {
		d.close()
		return fmt.Errorf("epd: fetch display fscreeninfo: %w", err)
	}

	if d.vinfo.Xres != bufWidth ||
		d.vinfo.Yres != bufHeight ||
		d.vinfo.XresVirtual != bufWidth ||
		d.vinfo.YresVirtual != bufHeight*bufTotalFrames ||
		d.finfo.SmemLen < bufFrame*bufTotalFrames {
		d.close()
		return fmt.Errorf(
			"epd: framebuffer has invalid dimensions %dx%d (virtual %dx%d, %d bytes)",
			d.vinfo.Xres, d.vinfo.Yres,
			d.vinfo.XresVirtual, d.vinfo.YresVirtual, d.finfo.SmemLen,
		)
	}

	d.mem, err = unix.Mmap(
		d.fd, 0, int(d.finfo.SmemLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		d.close()
		return fmt.Errorf("epd: map framebuffer to memory: %w", err)
	}

	for slot := 0; slot < bufTotalFrames; slot++ {
		d.writeFrame(slot, nullFrame)
	}
	return nil
}

func (d *fbDevice) writeFrame(slot int, frame []byte) {
	copy(d.mem[slot*bufFrame:], frame)
}

func (d *fbDevice) pan(slot int, first bool) error {
	d.vinfo.Yoffset = uint32(slot * bufHeight)

	req := uint(fbioPanDisplay)
	if first {
		req = fbioPutVScreeninfo
	}
	if err := d.ioctl(req, unsafe.Pointer(&d.vinfo)); err != nil {
		return fmt.Errorf("epd: vsync and flip: %w", err)
	}
	return nil
}

func (d *fbDevice) blank(on bool) error {
	level := uintptr(fbBlankPowerdown)
	if on {
		level = fbBlankUnblank
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), fbioBlank, level)
	if errno != 0 {
		return fmt.Errorf("epd: blank: %w", errno)
	}
	return nil
}

func (d *fbDevice) close() error {
	if d.mem != nil {
		unix.Munmap(d.mem)
		d.mem = nil
	}
	if d.fd >= 0 {
		err := unix.Close(d.fd)
		d.fd = -1
		return err
	}
	return nil
}

func (d *fbDevice) ioctl(req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
