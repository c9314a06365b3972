// Package ocr defines the Provider interface for optical character recognition
// engines used to read the on-screen timer.
//
// A Provider receives an already cropped and preprocessed image of the timer
// region and returns the recognised text together with a confidence score.
// Recognition is restricted to a caller-supplied character allow-list; engines
// that cannot enforce the list natively are filtered afterwards by the caller
// (see [FilterCharset]).
//
// Implementations must be safe for concurrent use: the recognition stage calls
// Recognize from several worker goroutines at once.
package ocr

import (
	"context"
	"image"
	"strings"
)

// Options are per-call recognition hints.
type Options struct {
	// Charset is the allow-list of characters the engine may emit. Empty means
	// unrestricted.
	Charset string

	// SingleLine asks the engine to treat the image as one line of text.
	// Timer regions always are.
	SingleLine bool
}

// Result is the outcome of a single recognition call.
type Result struct {
	// Text is the recognised text, unfiltered.
	Text string

	// Confidence is the engine's confidence in Text in the range [0, 1]. Engines
	// that do not report confidence return 1 for non-empty text.
	Confidence float64
}

// Provider is the abstraction over any OCR backend.
type Provider interface {
	// Recognize reads the text in img. It returns an error when the engine
	// fails or ctx is cancelled; an image with no readable text yields an
	// empty Result and a nil error.
	Recognize(ctx context.Context, img image.Image, opts Options) (Result, error)
}

// FilterCharset removes every rune of text that is not in charset. An empty
// charset returns text unchanged.
func FilterCharset(text, charset string) string {
	if charset == "" {
		return text
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(charset, r) {
			return r
		}
		return -1
	}, text)
}
