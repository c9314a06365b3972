// Package region crops the timer area out of a frame and prepares it for OCR.
//
// An Extractor holds a fixed rectangle and a fixed preprocessing chain that is
// applied in this order: crop, grayscale, contrast, invert, scale, sharpen.
// Extractors are stateless after construction and safe for concurrent use.
package region

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ErrInvalidRegion is returned when the configured rectangle is empty or does
// not lie inside the frame.
var ErrInvalidRegion = errors.New("region: invalid region")

// Rect is the region of interest. With Normalized set, all values are
// fractions of the frame size in [0, 1]; otherwise they are pixels.
type Rect struct {
	X, Y          float64
	Width, Height float64
	Normalized    bool
}

// Pixels resolves r against the frame bounds.
func (r Rect) Pixels(bounds image.Rectangle) image.Rectangle {
	x, y, w, h := r.X, r.Y, r.Width, r.Height
	if r.Normalized {
		x *= float64(bounds.Dx())
		w *= float64(bounds.Dx())
		y *= float64(bounds.Dy())
		h *= float64(bounds.Dy())
	}
	x0 := bounds.Min.X + int(math.Round(x))
	y0 := bounds.Min.Y + int(math.Round(y))
	return image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
}

// Option configures an Extractor's preprocessing.
type Option func(*Extractor)

// WithGrayscale converts the crop to grayscale.
func WithGrayscale() Option {
	return func(e *Extractor) { e.grayscale = true }
}

// WithContrast adjusts contrast by pct in the range (-100, 100].
func WithContrast(pct float64) Option {
	return func(e *Extractor) { e.contrast = pct }
}

// WithScale resizes the crop by factor using Lanczos resampling. OCR engines
// read small HUD digits noticeably better at 2–4×.
func WithScale(factor float64) Option {
	return func(e *Extractor) { e.scale = factor }
}

// WithSharpen applies an unsharp mask with the given sigma.
func WithSharpen(sigma float64) Option {
	return func(e *Extractor) { e.sharpen = sigma }
}

// WithInvert inverts the colours, turning light-on-dark timers into the
// dark-on-light text OCR engines expect.
func WithInvert() Option {
	return func(e *Extractor) { e.invert = true }
}

// Extractor crops and preprocesses one region.
type Extractor struct {
	rect Rect

	grayscale bool
	contrast  float64
	scale     float64
	sharpen   float64
	invert    bool
}

// New returns an Extractor for rect.
func New(rect Rect, opts ...Option) *Extractor {
	e := &Extractor{rect: rect, scale: 1}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Rect returns the configured rectangle.
func (e *Extractor) Rect() Rect { return e.rect }

// Validate checks the rectangle against the frame bounds. It is meant to run
// once on the first frame; every error wraps ErrInvalidRegion.
func (e *Extractor) Validate(bounds image.Rectangle) error {
	r := e.rect
	if r.Width <= 0 || r.Height <= 0 || r.X < 0 || r.Y < 0 {
		return fmt.Errorf("%w: %+v has negative origin or empty size", ErrInvalidRegion, r)
	}
	if r.Normalized && (r.X+r.Width > 1 || r.Y+r.Height > 1) {
		return fmt.Errorf("%w: normalized %+v exceeds the unit square", ErrInvalidRegion, r)
	}
	if e.scale <= 0 || math.IsNaN(e.scale) {
		return fmt.Errorf("%w: scale %v must be positive", ErrInvalidRegion, e.scale)
	}
	px := r.Pixels(bounds)
	if px.Empty() {
		return fmt.Errorf("%w: %v is empty in a %v frame", ErrInvalidRegion, px, bounds)
	}
	if !px.In(bounds) {
		return fmt.Errorf("%w: %v lies outside the %v frame", ErrInvalidRegion, px, bounds)
	}
	return nil
}

// Extract crops img to the region and applies the preprocessing chain.
func (e *Extractor) Extract(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidRegion)
	}
	px := e.rect.Pixels(img.Bounds())
	if px.Empty() || !px.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: %v outside %v", ErrInvalidRegion, px, img.Bounds())
	}

	out := imaging.Crop(img, px)
	if e.grayscale {
		out = imaging.Grayscale(out)
	}
	if e.contrast != 0 {
		out = imaging.AdjustContrast(out, e.contrast)
	}
	if e.invert {
		out = imaging.Invert(out)
	}
	if e.scale != 1 && e.scale > 0 {
		w := max(1, int(math.Round(float64(px.Dx())*e.scale)))
		h := max(1, int(math.Round(float64(px.Dy())*e.scale)))
		out = imaging.Resize(out, w, h, imaging.Lanczos)
	}
	if e.sharpen > 0 {
		out = imaging.Sharpen(out, e.sharpen)
	}
	return out, nil
}
