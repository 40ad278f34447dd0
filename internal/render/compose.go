package render

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

var (
	dark  = color.RGBA{A: 0xff}
	light = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// symbol is a QR bitmap together with the geometry needed to blend it.
type symbol struct {
	bits    [][]bool // quiet zone included, bits[y][x]
	version int
	quiet   int
	mask    [][]bool // function patterns, quiet zone excluded
}

func newSymbol(bits [][]bool, version int) symbol {
	quiet := (len(bits) - symbolSize(version)) / 2
	if quiet < 0 {
		quiet = 0
	}
	return symbol{bits: bits, version: version, quiet: quiet, mask: functionMask(version)}
}

// canvasSize is the pixel width of the rendered code for a module size.
func (s symbol) canvasSize(modulePixels int) int {
	return len(s.bits) * modulePixels
}

// compose paints the symbol over bg. The quiet zone stays light, function
// patterns are solid, every other module keeps bg except its center third,
// which carries the module color.
func (s symbol) compose(bg image.Image, modulePixels int) *image.RGBA {
	n := len(s.bits)
	size := s.canvasSize(modulePixels)
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: light}, image.Point{}, draw.Src)

	inner := image.Rect(s.quiet*modulePixels, s.quiet*modulePixels, (n-s.quiet)*modulePixels, (n-s.quiet)*modulePixels)
	xdraw.CatmullRom.Scale(out, inner, bg, bg.Bounds(), xdraw.Src, nil)

	third := modulePixels / 3
	for y := s.quiet; y < n-s.quiet; y++ {
		for x := s.quiet; x < n-s.quiet; x++ {
			c := light
			if s.bits[y][x] {
				c = dark
			}
			x0, y0 := x*modulePixels, y*modulePixels
			cell := image.Rect(x0, y0, x0+modulePixels, y0+modulePixels)
			if !s.protected(y-s.quiet, x-s.quiet) {
				cell = image.Rect(x0+third, y0+third, x0+2*third, y0+2*third)
			}
			draw.Draw(out, cell, &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}
	return out
}

func (s symbol) protected(row, col int) bool {
	if row < 0 || row >= len(s.mask) || col < 0 || col >= len(s.mask) {
		return true
	}
	return s.mask[row][col]
}

// toPaletted converts a composed frame for GIF encoding. Grayscale frames map
// exactly onto a gray ramp; colorized frames are dithered onto Plan9.
func toPaletted(img *image.RGBA, p color.Palette, dither bool) *image.Paletted {
	out := image.NewPaletted(img.Bounds(), p)
	if dither {
		draw.FloydSteinberg.Draw(out, img.Bounds(), img, img.Bounds().Min)
		return out
	}
	draw.Draw(out, img.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
