// Package render turns validated QR requests into PNG or GIF files.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"qrservice/internal/config"
	"qrservice/internal/domain"
)

// Mode selects the rendering pipeline.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeArtistic Mode = "artistic"
	ModeAnimated Mode = "animated"
)

// Options tune output geometry and input limits.
type Options struct {
	ModulePixels int
	MaxGIFFrames int
	MaxImageSide int
	// MaxImagePixels bounds the declared width*height of an upload.
	MaxImagePixels int64
	// MaxGIFPixels bounds screen area times decoded frames of an animation.
	MaxGIFPixels int64
}

// OptionsFromConfig extracts rendering options from the service config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ModulePixels: cfg.Render.ModulePixels,
		MaxGIFFrames: cfg.Limits.MaxGIFFrames,
		MaxImageSide: cfg.Limits.MaxImageSide,

		MaxImagePixels: cfg.Limits.MaxImagePixels,
		MaxGIFPixels:   cfg.Limits.MaxGIFPixels,
	}
}

// Request is one render job. PicturePath is optional; SaveDir receives the output file.
type Request struct {
	domain.QRRequest
	PicturePath string
	SaveDir     string
}

// Mode derives the pipeline from the picture extension.
func (r Request) Mode() Mode {
	if r.PicturePath == "" {
		return ModeStatic
	}
	if domain.IsAnimated(strings.ToLower(filepath.Ext(r.PicturePath))) {
		return ModeAnimated
	}
	return ModeArtistic
}

// Result describes the written output.
type Result struct {
	Mode        Mode
	Name        string
	Path        string
	ContentType string
	Version     int
	Level       domain.Level
	Frames      int
}

// Default pixel budgets for uploads.
const (
	DefaultMaxImagePixels int64 = 16_000_000
	DefaultMaxGIFPixels   int64 = 128_000_000
)

// Engine renders QR codes. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine, filling zero options with defaults.
func NewEngine(opts Options) *Engine {
	if opts.ModulePixels <= 0 || opts.ModulePixels%3 != 0 {
		opts.ModulePixels = 9
	}
	if opts.MaxGIFFrames <= 0 {
		opts.MaxGIFFrames = 50
	}
	if opts.MaxImageSide <= 0 {
		opts.MaxImageSide = 600
	}
	if opts.MaxImagePixels <= 0 {
		opts.MaxImagePixels = DefaultMaxImagePixels
	}
	if opts.MaxGIFPixels <= 0 {
		opts.MaxGIFPixels = DefaultMaxGIFPixels
	}
	return &Engine{opts: opts}
}

// Render encodes req.Words, blends it with the picture if any and writes the
// result into req.SaveDir.
func (e *Engine) Render(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.SaveDir == "" {
		return nil, fmt.Errorf("%w: no output directory", domain.ErrInternal)
	}

	q, err := encode(req.Words, req.Version, req.Level)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Mode:        req.Mode(),
		Name:        req.SafeName() + ".png",
		ContentType: "image/png",
		Version:     q.VersionNumber,
		Level:       req.Level,
		Frames:      1,
	}

	var data []byte
	switch res.Mode {
	case ModeStatic:
		data, err = q.PNG(-e.opts.ModulePixels)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
		}
	case ModeArtistic:
		data, err = e.renderArtistic(ctx, newSymbol(q.Bitmap(), q.VersionNumber), req)
	case ModeAnimated:
		res.Name = req.SafeName() + ".gif"
		res.ContentType = "image/gif"
		data, res.Frames, err = e.renderAnimated(ctx, newSymbol(q.Bitmap(), q.VersionNumber), req)
	}
	if err != nil {
		return nil, err
	}

	res.Path = filepath.Join(req.SaveDir, res.Name)
	if err := os.WriteFile(res.Path, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: cannot write output: %v", domain.ErrInternal, err)
	}
	return res, nil
}

func (e *Engine) renderArtistic(ctx context.Context, sym symbol, req Request) ([]byte, error) {
	src, err := decodeStill(req.PicturePath, e.opts.MaxImagePixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bg := flatten(src, e.opts.MaxImageSide)
	enhance(bg, req.Colorized, req.Contrast, req.Brightness)
	out := sym.compose(bg, e.opts.ModulePixels)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
	}
	return buf.Bytes(), nil
}

func (e *Engine) renderAnimated(ctx context.Context, sym symbol, req Request) ([]byte, int, error) {
	frames, err := decodeAnimation(req.PicturePath, animationLimits{
		maxFrames:   e.opts.MaxGIFFrames,
		maxSide:     e.opts.MaxImageSide,
		maxPixels:   e.opts.MaxImagePixels,
		framePixels: e.opts.MaxGIFPixels,
	})
	if err != nil {
		return nil, 0, err
	}

	pal, dither := grayPalette, false
	if req.Colorized {
		pal, dither = palette.Plan9, true
	}

	out := &gif.GIF{LoopCount: 0}
	for _, fr := range frames {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		enhance(fr.img, req.Colorized, req.Contrast, req.Brightness)
		composed := sym.compose(fr.img, e.opts.ModulePixels)
		out.Image = append(out.Image, toPaletted(composed, pal, dither))
		out.Delay = append(out.Delay, fr.delay)
		out.Disposal = append(out.Disposal, gif.DisposalNone)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
	}
	return buf.Bytes(), len(out.Image), nil
}
