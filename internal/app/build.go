package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/MrWong99/igtsplit/internal/config"
	"github.com/MrWong99/igtsplit/internal/health"
	"github.com/MrWong99/igtsplit/internal/observe"
	"github.com/MrWong99/igtsplit/internal/reconcile"
	"github.com/MrWong99/igtsplit/internal/region"
	"github.com/MrWong99/igtsplit/internal/split"
	"github.com/MrWong99/igtsplit/internal/splitsfile"
	"github.com/MrWong99/igtsplit/internal/subtitle"
	"github.com/MrWong99/igtsplit/pkg/frame"
	"github.com/MrWong99/igtsplit/pkg/igt"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// extractor converts a region section into a region.Extractor.
func extractor(r config.RegionConfig, p config.PreprocessConfig) *region.Extractor {
	var opts []region.Option
	if p.Grayscale {
		opts = append(opts, region.WithGrayscale())
	}
	if p.Contrast != 0 {
		opts = append(opts, region.WithContrast(p.Contrast))
	}
	if p.Scale > 0 {
		opts = append(opts, region.WithScale(p.Scale))
	}
	if p.Sharpen > 0 {
		opts = append(opts, region.WithSharpen(p.Sharpen))
	}
	if p.Invert {
		opts = append(opts, region.WithInvert())
	}
	rect := region.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Normalized: r.Normalized}
	return region.New(rect, opts...)
}

// reconcileConfig overlays the configured tuning on the package defaults.
func reconcileConfig(c config.ReconcileConfig, g igt.Grammar, interval time.Duration) reconcile.Config {
	rc := reconcile.DefaultConfig(g, interval)
	if c.Rate != nil {
		rc.Rate = *c.Rate
	}
	if c.Tolerance != nil {
		rc.Tolerance = *c.Tolerance
	}
	rc.MinConfidence = c.MinConfidence
	if c.Window > 0 {
		rc.Window = c.Window
		if rc.ReanchorAfter > rc.Window {
			rc.ReanchorAfter = rc.Window
		}
	}
	if c.ReanchorAfter > 0 {
		rc.ReanchorAfter = c.ReanchorAfter
	}
	if c.ResetCeiling > 0 {
		rc.ResetCeiling = c.ResetCeiling
	}
	if c.ResetMinGap > 0 {
		rc.ResetMinGap = c.ResetMinGap
	}
	if c.AllowHold != nil {
		rc.AllowHold = *c.AllowHold
	}
	rc.Resolution = c.Resolution
	return rc
}

// detectorConfig overlays the configured tuning on the package defaults. The
// detector shares the reconciler's rate model.
func detectorConfig(c config.DetectorConfig, rc reconcile.Config, p split.Policy) split.Config {
	dc := split.DefaultConfig(p)
	dc.StartAt = c.StartAt
	if c.PauseAfter > 0 {
		dc.PauseAfter = c.PauseAfter
	}
	if c.ResumeConfirm > 0 {
		dc.ResumeConfirm = c.ResumeConfirm
	}
	if c.Slack > 0 {
		dc.Slack = c.Slack
	}
	if c.SplitOnReset != nil {
		dc.SplitOnReset = *c.SplitOnReset
	}
	dc.HoldMin = c.HoldMin
	dc.FinalOnClose = c.FinalOnClose
	dc.Rate = rc.Rate
	dc.Tolerance = rc.Tolerance
	return dc
}

// buildPolicy constructs the split policy. Inline splits take precedence
// over the splits file.
func buildPolicy(p config.PolicyConfig, sf *splitsfile.File) (split.Policy, error) {
	segments := make([]split.Segment, 0, len(p.Splits))
	for _, s := range p.Splits {
		segments = append(segments, split.Segment{Name: s.Name, At: s.At, Percent: s.Percent})
	}
	if len(segments) == 0 && sf != nil {
		segments = sf.Segments()
	}

	switch p.Kind {
	case config.PolicyInterval:
		return split.Interval{Every: p.Every, Names: p.Names}, nil
	case config.PolicyThresholds:
		if len(segments) == 0 {
			return nil, fmt.Errorf("thresholds policy has no splits")
		}
		for _, s := range segments {
			if s.At <= 0 {
				return nil, fmt.Errorf("thresholds policy: split %q has no time", s.Name)
			}
		}
		return split.Thresholds{Splits: segments, LastFinal: p.LastFinal}, nil
	case config.PolicyPercent:
		if len(segments) == 0 {
			return nil, fmt.Errorf("percent policy has no splits")
		}
		return split.Percent{Splits: segments}, nil
	case config.PolicyMarker:
		return split.Marker{Names: p.Names, MinScore: p.MinScore, LastFinal: p.LastFinal}, nil
	default:
		return nil, fmt.Errorf("unknown policy kind %q", p.Kind)
	}
}

// subtitleOptions converts the subtitle section. compare may be nil.
func subtitleOptions(c config.SubtitleConfig, compare map[string]time.Duration) (subtitle.Options, error) {
	end, err := subtitle.ParseEndMode(c.End)
	if err != nil {
		return subtitle.Options{}, err
	}
	opts := subtitle.Options{End: end, Display: c.Display, Window: c.Window}
	if c.Compare {
		opts.Compare = compare
	}
	return opts, nil
}

// meteredEngine records every call of an OCR engine under its configured
// name.
type meteredEngine struct {
	name    string
	engine  ocr.Provider
	metrics *observe.Metrics
}

func (m *meteredEngine) Recognize(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error) {
	res, err := m.engine.Recognize(ctx, img, opts)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordEngineCall(ctx, m.name, status)
	return res, err
}

var _ ocr.Provider = (*meteredEngine)(nil)

// countingSource counts the frames read from the wrapped source.
type countingSource struct {
	frame.Source
	n        *int
	progress *health.Progress
}

func (c *countingSource) Next(ctx context.Context) (frame.Frame, error) {
	f, err := c.Source.Next(ctx)
	if err == nil {
		*c.n++
		c.progress.FrameRead()
	}
	return f, err
}
