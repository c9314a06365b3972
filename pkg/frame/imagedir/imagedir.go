// Package imagedir implements frame.Source over a directory of still images,
// such as the output of "ffmpeg -vf fps=N frame_%06d.png".
//
// Files are ordered by the number embedded in their name (frame_2 sorts before
// frame_10) and fall back to lexical order. Each file becomes one frame whose
// timestamp is its position divided by the configured frame rate.
package imagedir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MrWong99/igtsplit/pkg/frame"
)

var digitsRe = regexp.MustCompile(`(\d+)\D*$`)

// Extensions lists the file extensions read by the source (lower case).
var Extensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".gif"}

// Source reads frames from a directory.
type Source struct {
	paths  []string
	fps    float64
	pos    int
	closed bool
}

// New lists dir and returns a Source over its image files. fps determines the
// timestamp spacing between frames.
func New(dir string, fps float64) (*Source, error) {
	if _, err := frame.Interval(fps); err != nil {
		return nil, err
	}
	paths, err := List(dir)
	if err != nil {
		return nil, err
	}
	return &Source{paths: paths, fps: fps}, nil
}

// List returns the image files in dir in frame order.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("imagedir: read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(Extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.SortFunc(paths, compareFrameNames)
	return paths, nil
}

func compareFrameNames(a, b string) int {
	na, oka := frameNumber(a)
	nb, okb := frameNumber(b)
	if oka && okb && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func frameNumber(path string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := digitsRe.FindStringSubmatch(base)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Len returns the number of frames in the directory.
func (s *Source) Len() int { return len(s.paths) }

// Next decodes the next image.
func (s *Source) Next(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	if s.closed || s.pos >= len(s.paths) {
		return frame.Frame{}, io.EOF
	}
	path := s.paths[s.pos]
	img, err := imaging.Open(path)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("imagedir: decode %s: %w", path, err)
	}
	f := frame.Frame{Index: s.pos, Timestamp: frame.Timestamp(s.pos, s.fps), Image: img}
	s.pos++
	return f, nil
}

// Close stops the source. Subsequent Next calls return io.EOF.
func (s *Source) Close() error {
	s.closed = true
	return nil
}

var _ frame.Source = (*Source)(nil)
