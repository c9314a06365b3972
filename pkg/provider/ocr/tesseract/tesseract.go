// Package tesseract implements ocr.Provider with the Tesseract engine linked
// in-process through gosseract (cgo).
//
// A gosseract client is not safe for concurrent use, so the provider keeps a
// small pool of clients, one per concurrent call. Each client loads the
// language data on creation; size the pool to the number of recognition
// workers.
//
// Tesseract and its language data must be installed on the host. Set
// TESSDATA_PREFIX when the data lives outside the default location.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

const defaultLanguage = "eng"

// Option configures a Provider.
type Option func(*Provider)

// WithLanguages sets the Tesseract language codes (default "eng").
func WithLanguages(langs ...string) Option {
	return func(p *Provider) {
		if len(langs) > 0 {
			p.languages = langs
		}
	}
}

// WithPoolSize bounds the number of idle clients kept for reuse (default 4).
func WithPoolSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.poolSize = n
		}
	}
}

// Provider recognises text with libtesseract.
type Provider struct {
	languages []string
	poolSize  int

	mu     sync.Mutex
	idle   []*gosseract.Client
	closed bool
}

// New returns a Provider. Clients are created lazily on first use.
func New(opts ...Option) *Provider {
	p := &Provider{languages: []string{defaultLanguage}, poolSize: 4}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) acquire() (*gosseract.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("tesseract: provider closed")
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return c, nil
	}
	c := gosseract.NewClient()
	if err := c.SetLanguage(p.languages...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tesseract: set language %v: %w", p.languages, err)
	}
	return c, nil
}

func (p *Provider) release(c *gosseract.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.poolSize {
		_ = c.Close()
		return
	}
	p.idle = append(p.idle, c)
}

// Recognize implements ocr.Provider. The engine call itself cannot be
// interrupted; on cancellation Recognize returns immediately and the client
// is returned to the pool once the engine finishes.
func (p *Provider) Recognize(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: encode image: %w", err)
	}
	c, err := p.acquire()
	if err != nil {
		return ocr.Result{}, err
	}

	type outcome struct {
		res ocr.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer p.release(c)
		res, err := recognize(c, buf.Bytes(), opts)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return ocr.Result{}, ctx.Err()
	}
}

func recognize(c *gosseract.Client, png []byte, opts ocr.Options) (ocr.Result, error) {
	if err := c.SetWhitelist(opts.Charset); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: set whitelist: %w", err)
	}
	mode := gosseract.PSM_AUTO
	if opts.SingleLine {
		mode = gosseract.PSM_SINGLE_LINE
	}
	if err := c.SetPageSegMode(mode); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: set page seg mode: %w", err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: recognize: %w", err)
	}
	words := make([]string, 0, len(boxes))
	var conf float64
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		words = append(words, w)
		conf += b.Confidence
	}
	if len(words) == 0 {
		return ocr.Result{}, nil
	}
	return ocr.Result{
		Text:       strings.Join(words, " "),
		Confidence: conf / float64(len(words)) / 100,
	}, nil
}

// Close releases all pooled clients. Calls in flight finish normally.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for _, c := range p.idle {
		errs = append(errs, c.Close())
	}
	p.idle = nil
	return errors.Join(errs...)
}

var _ ocr.Provider = (*Provider)(nil)
