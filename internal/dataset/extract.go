// Package dataset prepares training data for the staff detector: frames are
// extracted from footage, labelled elsewhere, then split and resized here.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
)

// DefaultEvery is the frame stride used when none is given.
const DefaultEvery = 5

// FrameName returns the image file name for frame index n.
func FrameName(n int) string {
	return fmt.Sprintf("frame_%d.jpg", n)
}

// Extract writes every nth frame of src to outDir as frame_<index>.jpg, where
// index counts every decoded frame from zero. It returns the number of images
// written. every <= 0 uses DefaultEvery.
func Extract(src capture.Source, outDir string, every int) (int, error) {
	if every <= 0 {
		every = DefaultEvery
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := 0
	for n := 0; ; n++ {
		frame, err := src.Read()
		if errors.Is(err, capture.ErrEndOfStream) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read frame %d: %w", n, err)
		}

		if n%every == 0 {
			path := filepath.Join(outDir, FrameName(n))
			ok := gocv.IMWrite(path, *frame)
			if !ok {
				frame.Close()
				return written, fmt.Errorf("failed to write %s", path)
			}
			written++
		}
		frame.Close()
	}
}
