// Package tesseractcli implements ocr.Provider by running the tesseract
// command-line program once per image.
//
// The image is piped to tesseract on stdin as PNG and the TSV output is parsed
// for word text and confidences. This avoids linking libtesseract at the cost
// of one process per call, and is the usual fallback engine.
package tesseractcli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// Option configures a Provider.
type Option func(*Provider)

// WithBinary overrides the tesseract executable (default "tesseract" on PATH).
func WithBinary(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.binary = path
		}
	}
}

// WithLanguage sets the -l argument (default "eng").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// Provider recognises text by invoking the tesseract binary.
type Provider struct {
	binary   string
	language string
}

// New returns a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{binary: "tesseract", language: "eng"}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Args returns the command line for the given options.
func (p *Provider) Args(opts ocr.Options) []string {
	psm := "3"
	if opts.SingleLine {
		psm = "7"
	}
	args := []string{"stdin", "stdout", "-l", p.language, "--psm", psm}
	if opts.Charset != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+opts.Charset)
	}
	return append(args, "tsv")
}

// Recognize implements ocr.Provider.
func (p *Provider) Recognize(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error) {
	var in bytes.Buffer
	if err := imaging.Encode(&in, img, imaging.PNG); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseractcli: encode image: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary, p.Args(opts)...)
	cmd.Stdin = &in
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ocr.Result{}, ctxErr
		}
		return ocr.Result{}, fmt.Errorf("tesseractcli: run %s: %w: %s", p.binary, err, strings.TrimSpace(stderr.String()))
	}
	return ParseTSV(&stdout)
}

// ParseTSV extracts word text and mean confidence from tesseract TSV output.
// Words on the same line are joined with a single space, lines with a space
// as well. Rows with negative confidence carry layout only and are skipped.
func ParseTSV(r io.Reader) (ocr.Result, error) {
	sc := bufio.NewScanner(r)
	var (
		words  []string
		total  float64
		header = true
		cols   = map[string]int{}
	)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if header {
			for i, name := range fields {
				cols[strings.TrimSpace(name)] = i
			}
			if _, ok := cols["conf"]; !ok {
				return ocr.Result{}, errors.New("tesseractcli: tsv header has no conf column")
			}
			if _, ok := cols["text"]; !ok {
				return ocr.Result{}, errors.New("tesseractcli: tsv header has no text column")
			}
			header = false
			continue
		}
		ci, ti := cols["conf"], cols["text"]
		if len(fields) <= ci || len(fields) <= ti {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(fields[ci]), 64)
		if err != nil || conf < 0 {
			continue
		}
		w := strings.TrimSpace(fields[ti])
		if w == "" {
			continue
		}
		words = append(words, w)
		total += conf
	}
	if err := sc.Err(); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseractcli: read tsv: %w", err)
	}
	if len(words) == 0 {
		return ocr.Result{}, nil
	}
	return ocr.Result{
		Text:       strings.Join(words, " "),
		Confidence: total / float64(len(words)) / 100,
	}, nil
}

var _ ocr.Provider = (*Provider)(nil)
