// Package raster post-processes element screenshots before they are persisted.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	nativewebp "github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
)

type Format string

const (
	PNG  Format = "png"
	WebP Format = "webp"
)

// ParseFormat maps a configured format name to a [Format]; an empty name means PNG.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", PNG:
		return PNG, nil
	case WebP:
		return WebP, nil
	}
	return "", fmt.Errorf("unsupported image format %q", name)
}

// Encoder converts the PNG bytes produced by Chrome into the persisted asset.
//
// Transparent regions are always flattened onto white, so that a screenshot looks the same
// regardless of the page background it was cut out of. Images wider than MaxWidth are scaled
// down proportionally; a zero MaxWidth keeps the original size.
type Encoder struct {
	Format   Format
	MaxWidth int
}

// Extension returns the file extension, including the leading dot, for encoded assets.
func (e *Encoder) Extension() string {
	if e.Format == WebP {
		return ".webp"
	}
	return ".png"
}

func (e *Encoder) Encode(input []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	img = Flatten(img)
	if e.MaxWidth > 0 && img.Bounds().Dx() > e.MaxWidth {
		// Lanczos, since text in screenshots degrades visibly with cheaper filters.
		img = imaging.Resize(img, e.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch e.Format {
	case WebP:
		if err := nativewebp.Encode(&buf, img, &nativewebp.Options{}); err != nil {
			return nil, fmt.Errorf("failed to encode WebP: %w", err)
		}
	default:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Flatten composites img onto an opaque white canvas of the same size.
func Flatten(img image.Image) image.Image {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}
