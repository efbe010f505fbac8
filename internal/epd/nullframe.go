package epd

// newNullFrame builds the do-nothing frame every real frame is cloned from.
// Byte 2 of each cell carries the row bookkeeping the panel's gate drivers
// expect: line counters, row start/end strobes, and gate on/off levels. The
// patterns are specific to this panel and must stay bit-exact; the pixel
// bytes (0 and 1) stay zero, which is the noop phase for every pixel.
func newNullFrame() []byte {
	frame := make([]byte, bufFrame)

	off := 2
	run := func(count int, value byte) {
		for i := 0; i < count; i++ {
			frame[off] = value
			off += bufDepth
		}
	}

	// First line.
	run(20, 0b01000011)
	run(20, 0b01000111)
	run(63, 0b01000101)
	run(40, 0b01000111)
	run(117, 0b01000011)

	// Second and third lines.
	for y := 1; y < 3; y++ {
		run(8, 0b01000001)
		run(11, 0b01100001)
		run(36, 0b01000001)
		run(200, 0b01000011)
		run(5, 0b01000001)
	}

	// Following lines.
	for y := 3; y < bufHeight; y++ {
		run(8, 0b01000001)
		run(11, 0b01100001)
		run(7, 0b01000001)
		run(29, 0b01010001)
		run(200, 0b01010011)
		run(5, 0b01010001)
	}

	return frame
}
