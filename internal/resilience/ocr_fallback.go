package resilience

import (
	"context"
	"image"

	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// OCRFallback implements [ocr.Provider] with failover across several OCR
// engines. Each engine has its own circuit breaker.
type OCRFallback struct {
	group *FallbackGroup[ocr.Provider]
}

var _ ocr.Provider = (*OCRFallback)(nil)

// NewOCRFallback creates an [OCRFallback] with primary as the preferred engine.
func NewOCRFallback(primary ocr.Provider, primaryName string, cfg FallbackConfig) *OCRFallback {
	return &OCRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional engine.
func (f *OCRFallback) AddFallback(name string, p ocr.Provider) {
	f.group.AddFallback(name, p)
}

// Stats returns per-engine counters.
func (f *OCRFallback) Stats() []EntryStats { return f.group.Stats() }

// Recognize runs recognition on the first healthy engine. A cancelled context
// is returned as is and does not count against later engines.
func (f *OCRFallback) Recognize(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	return ExecuteWithResult(f.group, func(p ocr.Provider) (ocr.Result, error) {
		if err := ctx.Err(); err != nil {
			return ocr.Result{}, err
		}
		return p.Recognize(ctx, img, opts)
	})
}
