// Package ffmpeg implements frame.Source for video files by running the ffmpeg
// binary to sample frames at a fixed rate into a directory of PNG images, which
// are then read back through imagedir.
//
// Extraction happens lazily on the first call to Next. When no output
// directory is configured a temporary one is created and removed on Close.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/igtsplit/pkg/frame"
	"github.com/MrWong99/igtsplit/pkg/frame/imagedir"
)

// ErrNoFrames is returned when ffmpeg produced no images.
var ErrNoFrames = errors.New("ffmpeg: no frames extracted from video")

// Option configures a Source.
type Option func(*Source)

// WithBinary overrides the ffmpeg executable (default "ffmpeg" on PATH).
func WithBinary(path string) Option {
	return func(s *Source) {
		if path != "" {
			s.binary = path
		}
	}
}

// WithOutputDir keeps the extracted frames in dir instead of a temporary
// directory. The directory is not removed on Close.
func WithOutputDir(dir string) Option {
	return func(s *Source) { s.outDir = dir }
}

// Source decodes a video file into frames.
type Source struct {
	video  string
	fps    float64
	binary string
	outDir string

	ownsDir bool
	inner   *imagedir.Source
}

// New returns a Source sampling video at fps frames per second.
func New(video string, fps float64, opts ...Option) (*Source, error) {
	if _, err := frame.Interval(fps); err != nil {
		return nil, err
	}
	if video == "" {
		return nil, errors.New("ffmpeg: video path is required")
	}
	s := &Source{video: video, fps: fps, binary: "ffmpeg"}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Args returns the ffmpeg command line used to extract frames into dir.
func (s *Source) Args(dir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", s.video,
		"-vf", "fps=" + strconv.FormatFloat(s.fps, 'f', -1, 64),
		"-y",
		filepath.Join(dir, "frame_%06d.png"),
	}
}

func (s *Source) extract(ctx context.Context) error {
	dir := s.outDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "igtsplit-frames-*")
		if err != nil {
			return fmt.Errorf("ffmpeg: create temp dir: %w", err)
		}
		dir = tmp
		s.ownsDir = true
		s.outDir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ffmpeg: create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.binary, s.Args(dir)...)
	slog.Info("extracting frames", "video", s.video, "fps", s.fps, "dir", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: extract %s: %w: %s", s.video, err, strings.TrimSpace(string(out)))
	}

	inner, err := imagedir.New(dir, s.fps)
	if err != nil {
		return err
	}
	if inner.Len() == 0 {
		return ErrNoFrames
	}
	slog.Info("frames extracted", "count", inner.Len())
	s.inner = inner
	return nil
}

// Next returns the next frame, running the extraction first if needed.
func (s *Source) Next(ctx context.Context) (frame.Frame, error) {
	if s.inner == nil {
		if err := s.extract(ctx); err != nil {
			return frame.Frame{}, err
		}
	}
	return s.inner.Next(ctx)
}

// Close removes the temporary frame directory, if one was created.
func (s *Source) Close() error {
	if s.inner != nil {
		_ = s.inner.Close()
	}
	if s.ownsDir {
		s.ownsDir = false
		if err := os.RemoveAll(s.outDir); err != nil {
			return fmt.Errorf("ffmpeg: remove %s: %w", s.outDir, err)
		}
	}
	return nil
}

var _ frame.Source = (*Source)(nil)
