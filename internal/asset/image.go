package asset

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	minDimension = 100
	jpegQuality  = 95
	// MaxPixels bounds the canvas a single asset may decode into.
	MaxPixels    = 89_478_485
)

// Canonicalize returns data as JPEG bytes. Data that cannot be decoded is
// returned unchanged. Images claiming more than MaxPixels are rejected with
// ErrRejected before any pixel is decoded. With checkSize set, images under
// 100px on either side are rejected too.
func Canonicalize(data []byte, checkSize bool) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("asset not decodable; keeping original bytes")
		return data, nil
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrRejected, cfg.Width, cfg.Height, MaxPixels)
	}
	if checkSize && (cfg.Width < minDimension || cfg.Height < minDimension) {
		return nil, fmt.Errorf("%w: %dx%d below %dpx", ErrRejected, cfg.Width, cfg.Height, minDimension)
	}
	if format == "jpeg" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// header decoded but the pixels did not, e.g. a truncated body
		log.Debug().Str("format", format).Err(err).Msg("asset pixels not decodable; keeping original bytes")
		return data, nil
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, flatten(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// flatten composites src over an opaque white canvas.
func flatten(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)
	return dst
}
