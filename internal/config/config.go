// Package config provides the configuration schema, loader, and OCR engine
// registry for igtsplit.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// PolicyKind selects how split boundaries are derived from the timer.
type PolicyKind string

const (
	// PolicyInterval splits every fixed amount of IGT.
	PolicyInterval PolicyKind = "interval"

	// PolicyThresholds splits when the IGT crosses configured values.
	PolicyThresholds PolicyKind = "thresholds"

	// PolicyPercent splits when the completion percentage reaches
	// configured values. Requires a timer format with a P token.
	PolicyPercent PolicyKind = "percent"

	// PolicyMarker splits when the marker region shows a configured name.
	PolicyMarker PolicyKind = "marker"
)

// IsValid reports whether k is a recognised policy kind.
func (k PolicyKind) IsValid() bool {
	switch k {
	case PolicyInterval, PolicyThresholds, PolicyPercent, PolicyMarker:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Video     VideoConfig     `yaml:"video"`
	Timer     TimerConfig     `yaml:"timer"`
	Marker    *MarkerConfig   `yaml:"marker"`
	OCR       OCRConfig       `yaml:"ocr"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Detector  DetectorConfig  `yaml:"detector"`
	Policy    PolicyConfig    `yaml:"policy"`
	Subtitle  SubtitleConfig  `yaml:"subtitle"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// VideoConfig describes how frames are sampled from the input.
type VideoConfig struct {
	// FPS is the sampling rate. Frame timestamps are index/FPS.
	FPS float64 `yaml:"fps"`

	// FFmpegPath overrides the ffmpeg binary looked up in PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// RegionConfig is a rectangle within the frame. With Normalized set, all
// values are fractions of the frame size.
type RegionConfig struct {
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	Normalized bool    `yaml:"normalized"`
}

// PreprocessConfig lists the image operations applied to a crop before OCR.
type PreprocessConfig struct {
	Grayscale bool    `yaml:"grayscale"`
	Contrast  float64 `yaml:"contrast"`
	Scale     float64 `yaml:"scale"`
	Sharpen   float64 `yaml:"sharpen"`
	Invert    bool    `yaml:"invert"`
}

// TimerConfig locates and parses the in-game timer.
type TimerConfig struct {
	Region RegionConfig `yaml:"region"`

	// Formats are timer patterns such as "H:MM:SS.fff" or "P% H:MM:SS".
	// A reading is accepted when any of them matches.
	Formats []string `yaml:"formats"`

	// Charset restricts the characters the OCR engine may emit. Empty
	// derives it from Formats.
	Charset string `yaml:"charset"`

	Preprocess PreprocessConfig `yaml:"preprocess"`
}

// MarkerConfig locates an optional second region, e.g. a level title,
// used by the marker policy.
type MarkerConfig struct {
	Region     RegionConfig     `yaml:"region"`
	Charset    string           `yaml:"charset"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
}

// ProviderEntry is the configuration for a single OCR engine.
type ProviderEntry struct {
	// Name is the registered factory name (e.g., "tesseract", "tesseract-cli").
	Name string `yaml:"name"`

	// Options holds engine-specific settings such as "languages",
	// "pool_size", or "binary".
	Options map[string]any `yaml:"options"`
}

// FailoverConfig tunes the circuit breaker in front of each engine.
type FailoverConfig struct {
	MaxFailures int `yaml:"max_failures"`
	Cooldown    int `yaml:"cooldown"`
	HalfOpenMax int `yaml:"half_open_max"`
}

// OCRConfig selects the recognition engines. The first engine is primary;
// the rest are tried in order while earlier ones fail.
type OCRConfig struct {
	Engines  []ProviderEntry `yaml:"engines"`
	Timeout  time.Duration   `yaml:"timeout"`
	Workers  int             `yaml:"workers"`
	Failover FailoverConfig  `yaml:"failover"`
}

// ReconcileConfig tunes the plausibility model. Zero values take defaults;
// Rate and Tolerance take them only when absent, so an explicit
// "tolerance: 0" is honoured.
type ReconcileConfig struct {
	Rate          *float64      `yaml:"rate"`
	Tolerance     *float64      `yaml:"tolerance"`
	MinConfidence float64       `yaml:"min_confidence"`
	Window        int           `yaml:"window"`
	ResetCeiling  time.Duration `yaml:"reset_ceiling"`
	ResetMinGap   time.Duration `yaml:"reset_min_gap"`
	AllowHold     *bool         `yaml:"allow_hold"`
	ReanchorAfter int           `yaml:"reanchor_after"`
	Resolution    time.Duration `yaml:"resolution"`
}

// DetectorConfig tunes run and pause handling. Zero values take defaults.
type DetectorConfig struct {
	StartAt       time.Duration `yaml:"start_at"`
	PauseAfter    int           `yaml:"pause_after"`
	ResumeConfirm int           `yaml:"resume_confirm"`
	Slack         time.Duration `yaml:"slack"`
	SplitOnReset  *bool         `yaml:"split_on_reset"`
	HoldMin       time.Duration `yaml:"hold_min"`
	FinalOnClose  bool          `yaml:"final_on_close"`
}

// SplitEntry is one inline split of a thresholds or percent policy.
type SplitEntry struct {
	Name    string        `yaml:"name"`
	At      time.Duration `yaml:"at"`
	Percent int           `yaml:"percent"`
}

// PolicyConfig selects and parameterises the split policy.
type PolicyConfig struct {
	Kind PolicyKind `yaml:"kind"`

	// Every is the interval of the interval policy.
	Every time.Duration `yaml:"every"`

	// Names label interval splits in order, or list the marker names.
	Names []string `yaml:"names"`

	// Splits are the thresholds or percentages, in ascending order.
	Splits []SplitEntry `yaml:"splits"`

	// LastFinal makes the last threshold or marker finish the run.
	LastFinal bool `yaml:"last_final"`

	// MinScore is the marker similarity threshold in (0, 1].
	MinScore float64 `yaml:"min_score"`

	// SplitsFile is a splits JSON file supplying segments for the
	// thresholds and percent policies and the comparison times.
	SplitsFile string `yaml:"splits_file"`

	// UpdatePB rewrites SplitsFile when a run beats its final time.
	UpdatePB bool `yaml:"update_pb"`
}

// SubtitleConfig controls cue rendering.
type SubtitleConfig struct {
	// End is "fixed" (show for Display) or "next" (until the next cue).
	End     string        `yaml:"end"`
	Display time.Duration `yaml:"display"`
	Window  int           `yaml:"window"`

	// Compare adds deltas against the splits file times.
	Compare bool `yaml:"compare"`
}

// StorageConfig configures the run history.
type StorageConfig struct {
	// PostgresDSN selects the PostgreSQL run store. Empty keeps runs in
	// memory for the duration of the process.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig configures the optional observability server.
type MetricsConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when set.
	ListenAddr string `yaml:"listen_addr"`
}
