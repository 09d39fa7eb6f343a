package detector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"gocv.io/x/gocv"
)

// HTTPDetector posts frames to a remote detection service.
type HTTPDetector struct {
	endpoint   string
	confidence float64
	client     *http.Client
}

// NewHTTPDetector creates a detector for the service at cfg.Endpoint.
func NewHTTPDetector(cfg Config) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http detector: endpoint is required")
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPDetector{
		endpoint:   cfg.Endpoint,
		confidence: cfg.Confidence,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// httpResult is the response body of the detection service.
type httpResult struct {
	Detections []struct {
		Class      string    `json:"class"`
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	} `json:"detections"`
}

// Detect uploads the frame as a JPEG and parses the returned detections.
func (d *HTTPDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.WriteField("conf_threshold", strconv.FormatFloat(d.confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result httpResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, rd := range result.Detections {
		if len(rd.BBox) != 4 {
			continue
		}
		dets = append(dets, Detection{
			Box:        xyxy(rd.BBox[0], rd.BBox[1], rd.BBox[2], rd.BBox[3]),
			Confidence: rd.Confidence,
			ClassID:    rd.ClassID,
			ClassName:  rd.Class,
		})
	}
	return dets, nil
}

// Close drops idle connections held by the client.
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
