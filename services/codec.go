package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"webpconverter/config"
)

type CodecOptions struct {
	MaxPixels       int
	DownsampleBound int
	ReducedQuality  int
	DefaultQuality  int
	TieredQuality   bool
	TierThreshold   int
	TierQuality     int
}

func CodecOptionsFromConfig(cfg *config.Config) CodecOptions {
	return CodecOptions{
		MaxPixels:       cfg.MaxPixels,
		DownsampleBound: cfg.DownsampleBound,
		ReducedQuality:  cfg.ReducedQuality,
		DefaultQuality:  cfg.DefaultQuality,
		TieredQuality:   cfg.TieredQuality,
		TierThreshold:   cfg.TierThreshold,
		TierQuality:     cfg.TierQuality,
	}
}

// ConvertResult describes one finished conversion.
type ConvertResult struct {
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Format       string
	Quality      int
	Downsampled  bool
	InputBytes   int64
	OutputBytes  int64
	Duration     time.Duration
}

// Codec decodes any registered image format and re-encodes it as lossy WebP.
// It keeps no state between calls.
type Codec struct {
	opts   CodecOptions
	logger *slog.Logger
}

func NewCodec(opts CodecOptions, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{opts: opts, logger: logger}
}

// Convert decodes src, downsamples it when it exceeds the pixel ceiling and
// writes the WebP encoding to dst. requestedQuality <= 0 selects the default.
// When ctx carries a deadline the call returns a timeout error once it
// passes. dst must not be used by the caller after a timeout.
func (c *Codec) Convert(ctx context.Context, src io.Reader, dst io.Writer, requestedQuality int) (ConvertResult, error) {
	type outcome struct {
		res ConvertResult
		err error
	}

	if _, ok := ctx.Deadline(); !ok {
		return c.convert(src, dst, requestedQuality)
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := c.convert(src, dst, requestedQuality)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return ConvertResult{}, &CodecError{Kind: KindTimeout, Err: ctx.Err()}
	}
}

func (c *Codec) convert(src io.Reader, dst io.Writer, requestedQuality int) (res ConvertResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &CodecError{Kind: KindEncode, Err: fmt.Errorf("panic: %v", r)}
		}
		res.Duration = time.Since(start)
		if err != nil {
			c.logger.Error("conversion failed", "error", err, "duration", res.Duration)
			return
		}
		c.logger.Info("conversion completed",
			"format", res.Format,
			"width", res.Width,
			"height", res.Height,
			"quality", res.Quality,
			"downsampled", res.Downsampled,
			"duration", res.Duration,
		)
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		return res, &CodecError{Kind: KindDecode, Err: fmt.Errorf("failed to read source: %w", err)}
	}
	res.InputBytes = int64(len(data))

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return res, &CodecError{Kind: KindNotAnImage, Err: ErrNotAnImage}
		}
		return res, &CodecError{Kind: KindDecode, Err: err}
	}
	res.Format = format
	res.SourceWidth, res.SourceHeight = cfg.Width, cfg.Height

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return res, &CodecError{Kind: KindDecode, Err: err}
	}

	quality, downsample := c.chooseQuality(cfg.Width, cfg.Height, requestedQuality)
	if downsample {
		img = imaging.Fit(img, c.opts.DownsampleBound, c.opts.DownsampleBound, imaging.Lanczos)
		c.logger.Info("image downsampled to fit limits",
			"source_width", cfg.Width,
			"source_height", cfg.Height,
			"bound", c.opts.DownsampleBound,
		)
	}
	res.Quality = quality
	res.Downsampled = downsample
	res.Width, res.Height = img.Bounds().Dx(), img.Bounds().Dy()

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return res, &CodecError{Kind: KindEncode, Err: err}
	}

	w := &trackingWriter{w: dst}
	if err := webp.Encode(w, img, options); err != nil {
		if w.err != nil {
			return res, &CodecError{Kind: KindWrite, Err: w.err}
		}
		return res, &CodecError{Kind: KindEncode, Err: err}
	}
	res.OutputBytes = w.n
	return res, nil
}

// chooseQuality picks the encode quality and whether the image must be
// downsampled first.
func (c *Codec) chooseQuality(width, height, requested int) (int, bool) {
	if width*height > c.opts.MaxPixels {
		return c.opts.ReducedQuality, true
	}
	if requested > 0 {
		return requested, false
	}
	if c.opts.TieredQuality && max(width, height) > c.opts.TierThreshold {
		return c.opts.TierQuality, false
	}
	return c.opts.DefaultQuality, false
}

// trackingWriter remembers the first write error so it can be told apart
// from encoder failures.
type trackingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.n += int64(n)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}
