package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	rtspurl "github.com/bluenviron/gortsplib/v4/pkg/url"
)

// StreamInfo is what ffprobe tells us about a source before we commit a
// decoder to it.
type StreamInfo struct {
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
}

// CheckDecoder verifies that the decoder binary exists on the PATH.
func CheckDecoder(bin string) error {
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("Decoder binary '%v' not found: %w", bin, err)
	}
	return nil
}

// ProbeStream asks ffprobe about the first video stream of srcURL. The probe
// is bounded by ctx (callers typically give it ~10 seconds).
func ProbeStream(ctx context.Context, srcURL string) (*StreamInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams"}
	if strings.HasPrefix(srcURL, "rtsp://") {
		args = append([]string{"-rtsp_transport", "tcp"}, args...)
	}
	args = append(args, srcURL)
	output, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed on %v: %w", srcURL, err)
	}

	var raw struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("Failed to parse ffprobe output: %w", err)
	}
	for _, s := range raw.Streams {
		if s.CodecType != "video" || s.Width == 0 || s.Height == 0 {
			continue
		}
		return &StreamInfo{
			Codec:     s.CodecName,
			Width:     s.Width,
			Height:    s.Height,
			FrameRate: parseFrameRate(s.RFrameRate),
		}, nil
	}
	return nil, fmt.Errorf("No video stream found in %v", srcURL)
}

// parseFrameRate turns ffprobe's "30000/1001" style rational into a float.
func parseFrameRate(r string) float64 {
	parts := strings.Split(r, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// DescribeRTSP connects to an rtsp:// source and returns the media
// descriptions it publishes, without starting a decoder. Cheaper and far
// more informative than letting ffmpeg fail at it.
func DescribeRTSP(srcURL string, timeout time.Duration) ([]string, error) {
	u, err := rtspurl.Parse(srcURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid RTSP URL %v: %w", srcURL, err)
	}
	client := gortsplib.Client{ReadTimeout: timeout, WriteTimeout: timeout}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("Failed to connect to %v: %w", u.Host, err)
	}
	defer client.Close()
	session, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("DESCRIBE failed on %v: %w", srcURL, err)
	}
	medias := []string{}
	for _, m := range session.Medias {
		medias = append(medias, fmt.Sprintf("%v", m))
	}
	return medias, nil
}

// IsRTSP reports whether srcURL uses the rtsp scheme.
func IsRTSP(srcURL string) bool {
	u, err := url.Parse(srcURL)
	return err == nil && strings.EqualFold(u.Scheme, "rtsp")
}
