package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livefeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
feed:
  urls: ["rtsp://cam1/main", "rtsp://cam1/sub"]
  width: 640
  height: 360
  frameTimeout: 2s
  retryDelay: 1s
  cycleTime: 90s
annotate:
  detectorURL: "http://localhost:9000/detect"
  boxColor: "#ff0000"
  drawLabels: false
output:
  framesDir: /tmp/frames
  keep: 5
http: ":9999"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, []string{"rtsp://cam1/main", "rtsp://cam1/sub"}, cfg.Feed.URLs)
	require.Equal(t, 640, cfg.Feed.Width)
	require.Equal(t, Duration(2*time.Second), cfg.Feed.FrameTimeout)
	require.Equal(t, Duration(90*time.Second), cfg.Feed.CycleTime)

	// Omitted keys get their defaults
	require.Equal(t, 30, cfg.Feed.FPS)
	require.Equal(t, Duration(10*time.Second), cfg.Feed.FreezeTimeout)
	require.Equal(t, 10000, cfg.Feed.MaxRetries)
	require.Equal(t, Duration(60*time.Second), cfg.Feed.RetryDelayMax)
	require.Equal(t, "ffmpeg", cfg.Feed.FFmpeg)
	require.True(t, *cfg.Annotate.Enabled)
	require.False(t, *cfg.Annotate.DrawLabels)
	require.Equal(t, float32(0.3), *cfg.Annotate.ConfidenceThreshold)
	require.Equal(t, []string{"person"}, cfg.Annotate.TargetClasses)
	require.Equal(t, 3, cfg.Annotate.EveryNth)
	require.Equal(t, 85, cfg.Output.Quality)
	require.Equal(t, ":9999", cfg.HTTP)

	// Default event DB lives next to the config file
	require.Equal(t, filepath.Join(filepath.Dir(path), "events.sqlite"), cfg.EventDB)
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := writeConfig(t, `
feed:
  urls: ["rtsp://cam1/main"]
  frameTimeoutt: 2s
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "frameTimeoutt")
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
feed:
  width: 640
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "urls")

	_, err = LoadConfig(writeConfig(t, `
feed:
  urls: ["rtsp://cam1/main"]
annotate:
  boxColor: "red"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "color")
}

func TestLoadConfigBadDuration(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
feed:
  urls: ["rtsp://cam1/main"]
  frameTimeout: 5 seconds
`))
	require.Error(t, err)
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#00ff00")
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 0, G: 255, B: 0, A: 255}, c)

	c, err = ParseHexColor("336699")
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 255}, c)

	_, err = ParseHexColor("#fff")
	require.Error(t, err)
	_, err = ParseHexColor("#zzzzzz")
	require.Error(t, err)
}
