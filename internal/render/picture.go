package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"qrservice/internal/domain"
)

// checkDimensions reads only the image header of r and rejects pictures
// whose pixel area exceeds maxPixels. It returns the declared size.
func checkDimensions(r io.Reader, maxPixels int64) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return cfg, fmt.Errorf("%w: unable to process image: %v", domain.ErrInvalidParameter, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, fmt.Errorf("%w: image has no pixels", domain.ErrInvalidParameter)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return cfg, fmt.Errorf("%w: image is %dx%d, limit is %d pixels",
			domain.ErrInvalidParameter, cfg.Width, cfg.Height, maxPixels)
	}
	return cfg, nil
}

// decodeStill decodes the first frame of any registered image format after
// checking its declared size against maxPixels.
func decodeStill(path string, maxPixels int64) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open picture: %v", domain.ErrInternal, err)
	}
	defer f.Close()

	if _, err := checkDimensions(f, maxPixels); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: cannot read picture: %v", domain.ErrInternal, err)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to process image: %v", domain.ErrInvalidParameter, err)
	}
	return img, nil
}

// animationFrame is one composited GIF frame, already thumbnailed, and its
// delay in 1/100s.
type animationFrame struct {
	img   *image.RGBA
	delay int
}

// animationLimits bound the memory spent on one animated upload.
type animationLimits struct {
	maxFrames int
	maxSide   int
	// maxPixels bounds the logical screen area.
	maxPixels int64
	// framePixels bounds screen area times decoded frames.
	framePixels int64
}

// keptFrames is how many frames of a screen of the given area may be decoded.
func (l animationLimits) keptFrames(area int64) int {
	n := l.maxFrames
	if l.framePixels > 0 && area > 0 {
		if byBudget := l.framePixels / area; byBudget < int64(n) {
			n = int(byBudget)
		}
	}
	return max(1, n)
}

// decodeAnimation decodes the first frames of the GIF at path, applying each
// frame's disposal on a full-screen canvas and keeping a thumbnail of every
// composited frame. Frames past the limit are cut from the stream before
// decoding.
func decodeAnimation(path string, lim animationLimits) ([]animationFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open picture: %v", domain.ErrInternal, err)
	}

	cfg, err := checkDimensions(bytes.NewReader(data), lim.maxPixels)
	if err != nil {
		return nil, err
	}
	data = truncateGIF(data, lim.keptFrames(int64(cfg.Width)*int64(cfg.Height)))

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to process GIF: %v", domain.ErrInvalidParameter, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%w: GIF has no frames", domain.ErrInvalidParameter)
	}

	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	canvas := image.NewRGBA(screen)
	draw.Draw(canvas, screen, image.White, image.Point{}, draw.Src)

	frames := make([]animationFrame, 0, len(g.Image))
	for i, fr := range g.Image {
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.RGBA
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)

		delay := 10
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = g.Delay[i]
		}
		frames = append(frames, animationFrame{img: flatten(canvas, lim.maxSide), delay: delay})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, fr.Bounds(), image.White, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames, nil
}

// truncateGIF returns data cut right before its (maxFrames+1)-th image
// descriptor and closed with a trailer. Streams it cannot walk are returned
// unchanged for the decoder to reject.
func truncateGIF(data []byte, maxFrames int) []byte {
	const (
		headerLen  = 13 // signature + logical screen descriptor
		extension  = 0x21
		descriptor = 0x2C
		trailer    = 0x3B
	)
	if len(data) < headerLen {
		return data
	}
	pos := headerLen
	if flags := data[10]; flags&0x80 != 0 {
		pos += 3 << ((flags & 0x07) + 1)
	}

	frames := 0
	for pos < len(data) {
		switch data[pos] {
		case extension:
			pos = skipSubBlocks(data, pos+2)
		case descriptor:
			if frames == maxFrames {
				out := make([]byte, pos+1)
				copy(out, data[:pos])
				out[pos] = trailer
				return out
			}
			if pos+10 > len(data) {
				return data
			}
			flags := data[pos+9]
			pos += 10
			if flags&0x80 != 0 {
				pos += 3 << ((flags & 0x07) + 1)
			}
			// LZW minimum code size precedes the data sub-blocks.
			pos = skipSubBlocks(data, pos+1)
			frames++
		default:
			return data
		}
	}
	return data
}

func skipSubBlocks(data []byte, pos int) int {
	for pos < len(data) {
		n := int(data[pos])
		pos++
		if n == 0 {
			return pos
		}
		pos += n
	}
	return pos
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// flatten composites src over white and shrinks it so neither side exceeds
// maxSide, keeping the aspect ratio.
func flatten(src image.Image, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// enhance applies the grayscale, contrast and brightness adjustments in place.
// Contrast scales each channel around the mean luminance; brightness
// multiplies each channel.
func enhance(img *image.RGBA, colorized bool, contrast, brightness float64) {
	pix := img.Pix
	if !colorized {
		for i := 0; i+3 < len(pix); i += 4 {
			y := luma(pix[i], pix[i+1], pix[i+2])
			pix[i], pix[i+1], pix[i+2] = y, y, y
		}
	}

	if contrast != 1 {
		var sum, count float64
		for i := 0; i+3 < len(pix); i += 4 {
			sum += float64(luma(pix[i], pix[i+1], pix[i+2]))
			count++
		}
		mean := 0.0
		if count > 0 {
			mean = float64(int(sum/count + 0.5))
		}
		for i := 0; i+3 < len(pix); i += 4 {
			for c := 0; c < 3; c++ {
				pix[i+c] = clamp8(mean + contrast*(float64(pix[i+c])-mean))
			}
		}
	}

	if brightness != 1 {
		for i := 0; i+3 < len(pix); i += 4 {
			for c := 0; c < 3; c++ {
				pix[i+c] = clamp8(brightness * float64(pix[i+c]))
			}
		}
	}
}

// luma is the ITU-R 601-2 transform.
func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()
