package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/igtsplit/internal/subtitle"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// ValidEngineNames lists the OCR engine names registered by the CLI.
// Used by [Validate] to warn about unrecognised names.
var ValidEngineNames = []string{"tesseract", "tesseract-cli"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultFPS          = 30.0
	DefaultTimerFormat  = "H:MM:SS.fff"
	DefaultEngine       = "tesseract"
	DefaultOCRTimeout   = 2 * time.Second
	DefaultOCRWorkers   = 4
	DefaultMarkerScore  = 0.85
	DefaultSubtitleTime = subtitle.DefaultDisplay
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document decodes to the defaults, which
// still lack the required timer region.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. Reconciler and
// detector tuning is left at zero; those packages supply their own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Video.FPS == 0 {
		cfg.Video.FPS = DefaultFPS
	}
	if len(cfg.Timer.Formats) == 0 {
		cfg.Timer.Formats = []string{DefaultTimerFormat}
	}
	if len(cfg.OCR.Engines) == 0 {
		cfg.OCR.Engines = []ProviderEntry{{Name: DefaultEngine}}
	}
	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = DefaultOCRTimeout
	}
	if cfg.OCR.Workers == 0 {
		cfg.OCR.Workers = DefaultOCRWorkers
	}
	if cfg.Policy.Kind == "" {
		cfg.Policy.Kind = PolicyInterval
		if cfg.Policy.Every == 0 && len(cfg.Policy.Splits) == 0 && cfg.Policy.SplitsFile == "" {
			cfg.Policy.Every = time.Minute
		}
	}
	if cfg.Policy.Kind == PolicyMarker && cfg.Policy.MinScore == 0 {
		cfg.Policy.MinScore = DefaultMarkerScore
	}
	if cfg.Subtitle.End == "" {
		cfg.Subtitle.End = "fixed"
	}
	if cfg.Subtitle.Display == 0 {
		cfg.Subtitle.Display = DefaultSubtitleTime
	}
	if cfg.Subtitle.Window == 0 {
		cfg.Subtitle.Window = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Video
	if cfg.Video.FPS <= 0 {
		errs = append(errs, fmt.Errorf("video.fps %v must be positive", cfg.Video.FPS))
	}

	// Timer
	errs = append(errs, validateRegion("timer.region", cfg.Timer.Region)...)
	errs = append(errs, validatePreprocess("timer.preprocess", cfg.Timer.Preprocess)...)
	grammar, err := igt.NewGrammar(cfg.Timer.Formats...)
	if err != nil {
		errs = append(errs, fmt.Errorf("timer.formats: %w", err))
	}

	// Marker
	if cfg.Marker != nil {
		errs = append(errs, validateRegion("marker.region", cfg.Marker.Region)...)
		errs = append(errs, validatePreprocess("marker.preprocess", cfg.Marker.Preprocess)...)
	}

	// OCR
	for i, e := range cfg.OCR.Engines {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("ocr.engines[%d].name is required", i))
			continue
		}
		validateEngineName(e.Name)
	}
	if cfg.OCR.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ocr.timeout %v must not be negative", cfg.OCR.Timeout))
	}
	if cfg.OCR.Workers < 0 {
		errs = append(errs, fmt.Errorf("ocr.workers %d must not be negative", cfg.OCR.Workers))
	}
	f := cfg.OCR.Failover
	if f.MaxFailures < 0 || f.Cooldown < 0 || f.HalfOpenMax < 0 {
		errs = append(errs, errors.New("ocr.failover values must not be negative"))
	}

	// Reconcile
	rc := cfg.Reconcile
	if rc.Rate != nil && *rc.Rate <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.rate %v must be positive", *rc.Rate))
	}
	if rc.Tolerance != nil && *rc.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("reconcile.tolerance %v must not be negative", *rc.Tolerance))
	}
	if rc.MinConfidence < 0 || rc.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("reconcile.min_confidence %v is out of range [0, 1]", rc.MinConfidence))
	}
	if rc.Window < 0 || rc.ReanchorAfter < 0 {
		errs = append(errs, errors.New("reconcile.window and reconcile.reanchor_after must not be negative"))
	}
	if rc.Window > 0 && rc.ReanchorAfter > rc.Window {
		errs = append(errs, fmt.Errorf("reconcile.reanchor_after %d exceeds reconcile.window %d", rc.ReanchorAfter, rc.Window))
	}

	// Detector
	dc := cfg.Detector
	if dc.PauseAfter < 0 || dc.ResumeConfirm < 0 {
		errs = append(errs, errors.New("detector.pause_after and detector.resume_confirm must not be negative"))
	}
	if dc.StartAt < 0 || dc.Slack < 0 || dc.HoldMin < 0 {
		errs = append(errs, errors.New("detector durations must not be negative"))
	}

	// Policy
	errs = append(errs, validatePolicy(cfg, grammar)...)

	// Subtitle
	if _, err := subtitle.ParseEndMode(cfg.Subtitle.End); err != nil {
		errs = append(errs, fmt.Errorf("subtitle.end: %w", err))
	}
	if cfg.Subtitle.Display < 0 {
		errs = append(errs, fmt.Errorf("subtitle.display %v must not be negative", cfg.Subtitle.Display))
	}
	if cfg.Subtitle.Compare && cfg.Policy.SplitsFile == "" {
		slog.Warn("subtitle.compare is set but policy.splits_file is empty; no deltas will be shown")
	}

	return errors.Join(errs...)
}

func validatePolicy(cfg *Config, grammar igt.Grammar) []error {
	p := cfg.Policy
	var errs []error
	if !p.Kind.IsValid() {
		return append(errs, fmt.Errorf("policy.kind %q is invalid; valid values: interval, thresholds, percent, marker", p.Kind))
	}
	if p.UpdatePB && p.SplitsFile == "" {
		errs = append(errs, errors.New("policy.update_pb requires policy.splits_file"))
	}
	switch p.Kind {
	case PolicyInterval:
		if p.Every <= 0 {
			errs = append(errs, fmt.Errorf("policy.every %v must be positive for the interval policy", p.Every))
		}
	case PolicyThresholds, PolicyPercent:
		if len(p.Splits) == 0 && p.SplitsFile == "" {
			errs = append(errs, fmt.Errorf("policy %q needs policy.splits or policy.splits_file", p.Kind))
		}
		names := make(map[string]int, len(p.Splits))
		for i, s := range p.Splits {
			prefix := fmt.Sprintf("policy.splits[%d]", i)
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			} else if prev, ok := names[s.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of policy.splits[%d]", prefix, s.Name, prev))
			} else {
				names[s.Name] = i
			}
			if i > 0 {
				prev := p.Splits[i-1]
				if p.Kind == PolicyThresholds && s.At <= prev.At {
					errs = append(errs, fmt.Errorf("%s.at %v must be greater than the previous split", prefix, s.At))
				}
				if p.Kind == PolicyPercent && s.Percent <= prev.Percent {
					errs = append(errs, fmt.Errorf("%s.percent %d must be greater than the previous split", prefix, s.Percent))
				}
			}
		}
		if p.Kind == PolicyPercent && grammar != nil && !grammar.HasPercent() {
			errs = append(errs, errors.New("policy \"percent\" requires a timer format with a P token"))
		}
	case PolicyMarker:
		if cfg.Marker == nil {
			errs = append(errs, errors.New("policy \"marker\" requires the marker section"))
		}
		if len(p.Names) == 0 {
			errs = append(errs, errors.New("policy \"marker\" requires policy.names"))
		}
		if p.MinScore <= 0 || p.MinScore > 1 {
			errs = append(errs, fmt.Errorf("policy.min_score %v is out of range (0, 1]", p.MinScore))
		}
	}
	return errs
}

func validateRegion(prefix string, r RegionConfig) []error {
	var errs []error
	if r.Width <= 0 || r.Height <= 0 {
		errs = append(errs, fmt.Errorf("%s width and height must be positive", prefix))
	}
	if r.X < 0 || r.Y < 0 {
		errs = append(errs, fmt.Errorf("%s x and y must not be negative", prefix))
	}
	if r.Normalized && (r.X+r.Width > 1 || r.Y+r.Height > 1) {
		errs = append(errs, fmt.Errorf("%s exceeds the frame; normalized values must stay within [0, 1]", prefix))
	}
	return errs
}

func validatePreprocess(prefix string, p PreprocessConfig) []error {
	var errs []error
	if p.Contrast <= -100 || p.Contrast > 100 {
		errs = append(errs, fmt.Errorf("%s.contrast %v is out of range (-100, 100]", prefix, p.Contrast))
	}
	if p.Scale < 0 {
		errs = append(errs, fmt.Errorf("%s.scale %v must not be negative", prefix, p.Scale))
	}
	if p.Sharpen < 0 {
		errs = append(errs, fmt.Errorf("%s.sharpen %v must not be negative", prefix, p.Sharpen))
	}
	return errs
}

// validateEngineName logs a warning if name is not in [ValidEngineNames].
func validateEngineName(name string) {
	if slices.Contains(ValidEngineNames, name) {
		return
	}
	slog.Warn("unknown OCR engine name, may be a typo or a custom registration",
		"name", name,
		"known", ValidEngineNames,
	)
}
