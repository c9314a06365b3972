package recognize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/igtsplit/internal/observe"
	"github.com/MrWong99/igtsplit/internal/region"
	"github.com/MrWong99/igtsplit/pkg/frame"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// shadedFrame returns a frame whose pixels encode index, so a mock engine can
// tell frames apart after cropping.
func shadedFrame(index int) frame.Frame {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(index % 256)
	}
	return frame.Frame{Index: index, Timestamp: time.Duration(index) * 33 * time.Millisecond, Image: img}
}

func shadeOf(img image.Image) int {
	g := color.GrayModel.Convert(img.At(img.Bounds().Min.X, img.Bounds().Min.Y)).(color.Gray)
	return int(g.Y)
}

func fullRegion() *region.Extractor {
	return region.New(region.Rect{Width: 1, Height: 1, Normalized: true})
}

func TestRecognize_FiltersCharset(t *testing.T) {
	engine := &mock.Provider{Results: []ocr.Result{{Text: " IGT 0l:23.4S6\n", Confidence: 0.8}}}
	r := New(fullRegion(), engine, WithMetrics(testMetrics(t)))

	got := r.Recognize(context.Background(), shadedFrame(7))
	if !got.Success {
		t.Fatal("Success = false")
	}
	if got.Text != "0:23.46" {
		t.Errorf("Text = %q, want %q", got.Text, "0:23.46")
	}
	if got.FrameIndex != 7 || got.Confidence != 0.8 {
		t.Errorf("reading = %+v", got)
	}
	if engine.Calls[0].Opts.Charset != DefaultCharset || !engine.Calls[0].Opts.SingleLine {
		t.Errorf("engine opts = %+v", engine.Calls[0].Opts)
	}
}

func TestRecognize_EngineFailure(t *testing.T) {
	engine := &mock.Provider{Err: errors.New("engine crashed")}
	r := New(fullRegion(), engine, WithMetrics(testMetrics(t)))
	got := r.Recognize(context.Background(), shadedFrame(1))
	if got.Success || got.Text != "" {
		t.Errorf("reading = %+v, want failure", got)
	}
}

func TestRecognize_Timeout(t *testing.T) {
	engine := &mock.Provider{Delay: time.Second, Results: []ocr.Result{{Text: "00:01"}}}
	r := New(fullRegion(), engine, WithTimeout(10*time.Millisecond), WithMetrics(testMetrics(t)))
	start := time.Now()
	got := r.Recognize(context.Background(), shadedFrame(1))
	if got.Success {
		t.Error("Success = true after timeout")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestRecognize_RegionOutsideFrame(t *testing.T) {
	engine := &mock.Provider{}
	r := New(region.New(region.Rect{X: 100, Y: 100, Width: 5, Height: 5}), engine, WithMetrics(testMetrics(t)))
	if got := r.Recognize(context.Background(), shadedFrame(1)); got.Success {
		t.Error("Success = true for region outside frame")
	}
	if engine.CallCount() != 0 {
		t.Error("engine called despite region failure")
	}
}

func TestRecognize_Marker(t *testing.T) {
	engine := &mock.Provider{Func: func(_ context.Context, _ image.Image, opts ocr.Options) (ocr.Result, error) {
		if opts.Charset == DefaultCharset {
			return ocr.Result{Text: "01:02", Confidence: 1}, nil
		}
		return ocr.Result{Text: "  Forest Temple ", Confidence: 1}, nil
	}}
	markerRegion := region.New(region.Rect{Width: 0.5, Height: 0.5, Normalized: true})
	r := New(fullRegion(), engine, WithMarker(markerRegion, ""), WithMetrics(testMetrics(t)))
	got := r.Recognize(context.Background(), shadedFrame(1))
	if got.Text != "01:02" || got.Marker != "Forest Temple" {
		t.Errorf("reading = %+v", got)
	}
}

func TestStage_PreservesOrder(t *testing.T) {
	const n = 200
	var inFlight, peak atomic.Int64
	engine := &mock.Provider{Func: func(ctx context.Context, img image.Image, _ ocr.Options) (ocr.Result, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Duration(rand.IntN(300)) * time.Microsecond)
		return ocr.Result{Text: fmt.Sprintf("%d", shadeOf(img)), Confidence: 1}, nil
	}}
	stage := NewStage(New(fullRegion(), engine, WithMetrics(testMetrics(t))), 4)

	frames := make(chan frame.Frame)
	go func() {
		defer close(frames)
		for i := range n {
			frames <- shadedFrame(i)
		}
	}()

	i := 0
	for r := range stage.Run(context.Background(), frames) {
		if r.FrameIndex != i {
			t.Fatalf("reading %d has frame index %d", i, r.FrameIndex)
		}
		if want := fmt.Sprintf("%d", i%256); r.Text != want {
			t.Fatalf("reading %d text = %q, want %q", i, r.Text, want)
		}
		i++
	}
	if i != n {
		t.Fatalf("got %d readings, want %d", i, n)
	}
	if p := peak.Load(); p > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", p)
	}
}

func TestStage_Cancel(t *testing.T) {
	engine := &mock.Provider{Results: []ocr.Result{{Text: "00:00"}}}
	stage := NewStage(New(fullRegion(), engine, WithMetrics(testMetrics(t))), 2)

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan frame.Frame)
	go func() {
		for i := 0; ; i++ {
			select {
			case frames <- shadedFrame(i):
			case <-ctx.Done():
				return
			}
		}
	}()

	out := stage.Run(ctx, frames)
	for range 10 {
		<-out
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range out {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stage did not stop after cancel")
	}
}
