package epd

import "time"

// Panel and framebuffer geometry. The controller scans the panel rotated
// 90° relative to the screen the user sees, so EPD dimensions are the
// transpose of the screen dimensions. Each framebuffer row starts with
// marginLeft control-only cells before the pixel cells, which is why
// bufWidth (260) is larger than the pixel width divided by the packing
// factor alone (1872/8 = 234).
const (
	// EPDWidth and EPDHeight are the panel dimensions in scan order.
	EPDWidth  = 1872
	EPDHeight = 1404
	epdSize   = EPDWidth * EPDHeight

	// ScreenWidth and ScreenHeight are the dimensions producers see.
	ScreenWidth  = EPDHeight
	ScreenHeight = EPDWidth

	// bufWidth × bufHeight cells of bufDepth bytes make up one frame.
	bufWidth  = 260
	bufHeight = 1408
	bufDepth  = 4

	// bufActualDepth pixels are packed into the low 16 bits of each cell.
	bufActualDepth = 8

	bufStride      = bufWidth * bufDepth
	bufFrame       = bufStride * bufHeight
	bufTotalFrames = 2

	// marginTop control rows and marginLeft control cells precede the
	// pixel data region in each frame.
	marginTop  = 3
	marginLeft = 26

	// IntensityValues is the number of grayscale levels a pixel can hold.
	IntensityValues = 32
)

// Intensity is one grayscale pixel value in [0, IntensityValues).
type Intensity = uint8

const (
	defaultTemperatureReadInterval = 30 * time.Second
	defaultPowerOffTimeout         = 3 * time.Second
)
