package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Detection is one object that the detector found in a frame.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Detector finds objects in a JPEG image.
type Detector interface {
	DetectJPEG(ctx context.Context, jpg []byte) ([]Detection, error)
}

// HTTPDetector talks to an object detection service over HTTP: POST the JPEG,
// get the detections back as JSON.
type HTTPDetector struct {
	URL    string
	Client *http.Client
}

func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	Objects []Detection `json:"objects"`
}

func (d *HTTPDetector) DetectJPEG(ctx context.Context, jpg []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", d.URL, bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%v. %v", resp.Status, string(msg))
	}
	var response detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%v. %w", resp.Status, err)
	}
	return response.Objects, nil
}
