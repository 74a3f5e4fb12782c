// Package config loads the livefeed YAML configuration.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a Go duration string
// such as "5s" or "2m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("Duration must be a string like \"5s\": %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("Invalid duration '%v': %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type FeedConfig struct {
	URLs          []string `yaml:"urls"`          // One or more source URLs
	Width         int      `yaml:"width"`         // Decoded frame width
	Height        int      `yaml:"height"`        // Decoded frame height
	FPS           int      `yaml:"fps"`           // Display rate of the pump
	FrameTimeout  Duration `yaml:"frameTimeout"`  // Blocked read / stall threshold
	FreezeTimeout Duration `yaml:"freezeTimeout"` // Unchanged content threshold
	HashEveryNth  int      `yaml:"hashEveryNth"`  // 1 = hash every frame
	MaxRetries    int      `yaml:"maxRetries"`    // Negative = no ceiling
	RetryDelay    Duration `yaml:"retryDelay"`    // Backoff base
	RetryDelayMax Duration `yaml:"retryDelayMax"` // Backoff cap
	CycleTime     Duration `yaml:"cycleTime"`     // 0 = never rotate between URLs
	Shuffle       bool     `yaml:"shuffle"`       // Random instead of round-robin rotation
	FFmpeg        string   `yaml:"ffmpeg"`        // Decoder binary
}

type AnnotateConfig struct {
	Enabled             *bool    `yaml:"enabled"`
	DetectorURL         string   `yaml:"detectorURL"` // Empty = no detector
	TargetClasses       []string `yaml:"targetClasses"`
	BoxColor            string   `yaml:"boxColor"` // "#rrggbb"
	DrawLabels          *bool    `yaml:"drawLabels"`
	ConfidenceThreshold *float32 `yaml:"confidenceThreshold"`
	EveryNth            int      `yaml:"everyNth"` // Run the detector on every Nth frame
}

type OutputConfig struct {
	FramesDir string `yaml:"framesDir"` // Empty = frames directory disabled
	Keep      int    `yaml:"keep"`      // Newest N frames kept
	Quality   int    `yaml:"quality"`   // JPEG quality
	MinFreeMB int64  `yaml:"minFreeMB"` // Free space floor before we stop writing
}

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Annotate AnnotateConfig `yaml:"annotate"`
	Output   OutputConfig   `yaml:"output"`
	EventDB  string         `yaml:"eventDB"` // Path to sqlite event DB. Empty = alongside the config file
	HTTP     string         `yaml:"http"`    // Listen address
}

// LoadConfig reads, defaults and validates the config. Unknown keys are
// errors: a typo in a timeout name must not silently become a default.
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("Error loading as YAML %v: %w", filename, err)
	}
	cfg.ApplyDefaults(filename)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults(filename string) {
	f := &c.Feed
	if f.Width == 0 {
		f.Width = 1280
	}
	if f.Height == 0 {
		f.Height = 720
	}
	if f.FPS == 0 {
		f.FPS = 30
	}
	if f.FrameTimeout == 0 {
		f.FrameTimeout = Duration(5 * time.Second)
	}
	if f.FreezeTimeout == 0 {
		f.FreezeTimeout = Duration(10 * time.Second)
	}
	if f.HashEveryNth == 0 {
		f.HashEveryNth = 1
	}
	if f.MaxRetries == 0 {
		f.MaxRetries = 10000
	}
	if f.RetryDelay == 0 {
		f.RetryDelay = Duration(3 * time.Second)
	}
	if f.RetryDelayMax == 0 {
		f.RetryDelayMax = Duration(60 * time.Second)
	}
	if f.FFmpeg == "" {
		f.FFmpeg = "ffmpeg"
	}

	a := &c.Annotate
	if a.Enabled == nil {
		v := true
		a.Enabled = &v
	}
	if a.TargetClasses == nil {
		a.TargetClasses = []string{"person"}
	}
	if a.BoxColor == "" {
		a.BoxColor = "#00ff00"
	}
	if a.DrawLabels == nil {
		v := true
		a.DrawLabels = &v
	}
	if a.ConfidenceThreshold == nil {
		v := float32(0.3)
		a.ConfidenceThreshold = &v
	}
	if a.EveryNth == 0 {
		a.EveryNth = 3
	}

	o := &c.Output
	if o.Keep == 0 {
		o.Keep = 20
	}
	if o.Quality == 0 {
		o.Quality = 85
	}
	if o.MinFreeMB == 0 {
		o.MinFreeMB = 256
	}

	if c.EventDB == "" {
		c.EventDB = filepath.Join(filepath.Dir(filename), "events.sqlite")
	}
	if c.HTTP == "" {
		c.HTTP = ":8093"
	}
}

func (c *Config) Validate() error {
	if len(c.Feed.URLs) == 0 {
		return fmt.Errorf("feed.urls must contain at least one source URL")
	}
	for _, url := range c.Feed.URLs {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("feed.urls contains an empty URL")
		}
	}
	if c.Feed.Width <= 0 || c.Feed.Height <= 0 {
		return fmt.Errorf("feed.width and feed.height must be positive")
	}
	if c.Feed.FPS <= 0 {
		return fmt.Errorf("feed.fps must be positive")
	}
	if _, err := ParseHexColor(c.Annotate.BoxColor); err != nil {
		return err
	}
	return nil
}

// ParseHexColor parses "#rrggbb" (the leading '#' is optional).
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("Invalid color '%v': expected #rrggbb", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("Invalid color '%v': %w", s, err)
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 255}, nil
}
