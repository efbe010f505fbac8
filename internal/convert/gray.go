// Package convert turns ordinary images into the grayscale intensity
// buffers the display driver consumes.
package convert

import (
	"fmt"
	"image"
	"image/color"

	"github.com/makeworld-the-better-one/dither"
	"golang.org/x/image/draw"
)

// Levels is the number of gray levels the panel distinguishes.
const Levels = 32

// grayPalette lists the panel's levels darkest-first, so a paletted pixel's
// index is its intensity.
var grayPalette = makeGrayPalette()

func makeGrayPalette() []color.Color {
	p := make([]color.Color, Levels)
	for i := range p {
		v := uint8(i * 255 / (Levels - 1))
		p[i] = color.Gray{Y: v}
	}
	return p
}

// Intensities scales img to w×h and maps it to intensity values by plain
// luminance truncation. Fast, but banding is visible on gradients; prefer
// Dithered for photographic content.
func Intensities(img image.Image, w, h int) ([]uint8, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("convert: invalid target size %dx%d", w, h)
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	buf := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			buf[y*w+x] = uint8(int(row[x]) * Levels / 256)
		}
	}
	return buf, nil
}

// Dithered scales img to w×h and quantizes it to the panel's gray levels
// with serpentine Floyd–Steinberg error diffusion.
func Dithered(img image.Image, w, h int) ([]uint8, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("convert: invalid target size %dx%d", w, h)
	}

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	d := dither.NewDitherer(grayPalette)
	d.Matrix = dither.FloydSteinberg
	d.Serpentine = true

	paletted := d.DitherPaletted(scaled)
	if paletted == nil {
		return nil, fmt.Errorf("convert: dithering failed")
	}

	buf := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := paletted.Pix[y*paletted.Stride:]
		copy(buf[y*w:(y+1)*w], row[:w])
	}
	return buf, nil
}
