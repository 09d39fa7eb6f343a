package server

import (
	"fmt"
	"image"
	"net/http"
	"sync"

	"gocv.io/x/gocv"
)

// Preview keeps the latest annotated frame as JPEG for MJPEG clients.
// It implements sink.Presenter so the controller can feed it directly.
type Preview struct {
	maxWidth int

	mu      sync.Mutex
	jpeg    []byte
	updated chan struct{}
	closed  bool
}

// NewPreview creates a Preview. Frames wider than maxWidth are scaled down
// keeping their aspect ratio; zero keeps the original size.
func NewPreview(maxWidth int) *Preview {
	return &Preview{
		maxWidth: maxWidth,
		updated:  make(chan struct{}),
	}
}

// Present encodes frame and wakes up waiting stream clients.
func (p *Preview) Present(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("preview: empty frame")
	}

	src := frame
	if p.maxWidth > 0 && frame.Cols() > p.maxWidth {
		scaled := gocv.NewMat()
		defer scaled.Close()
		h := frame.Rows() * p.maxWidth / frame.Cols()
		gocv.Resize(frame, &scaled, image.Pt(p.maxWidth, h), 0, 0, gocv.InterpolationArea)
		src = scaled
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, src)
	if err != nil {
		return fmt.Errorf("preview: encode: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.jpeg = data
	close(p.updated)
	p.updated = make(chan struct{})
	return nil
}

// Latest returns the most recent JPEG and a channel closed when a newer one arrives.
func (p *Preview) Latest() ([]byte, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jpeg, p.updated
}

// Close wakes up all clients and stops accepting frames.
func (p *Preview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.updated)
	}
	return nil
}

func (p *Preview) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// StreamHandler serves the preview as an MJPEG stream.
type StreamHandler struct {
	preview *Preview
}

// NewStreamHandler creates a new StreamHandler for the given preview.
func NewStreamHandler(preview *Preview) *StreamHandler {
	return &StreamHandler{preview: preview}
}

// ServeHTTP streams every new preview frame to the client.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		frame, updated := h.preview.Latest()

		if frame != nil {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
		}

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-updated:
			if h.preview.isClosed() {
				return
			}
		}
	}
}
