// Package testutil builds synthetic frames and videos for tests.
package testutil

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Frame returns a width x height BGR frame filled with a gray level derived from seed.
func Frame(width, height, seed int) *gocv.Mat {
	level := float64((seed * 23) % 200)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(level, level+20, level+40, 0), height, width, gocv.MatTypeCV8UC3)
	return &mat
}

// Sequence returns n distinct frames of the same size.
func Sequence(n, width, height int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, Frame(width, height, i+1))
	}
	return frames
}

// CloseAll closes every frame in frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}

// WriteVideo encodes frames into a video file at path with the given codec.
func WriteVideo(path, codec string, fps float64, frames []*gocv.Mat) error {
	if len(frames) == 0 {
		return fmt.Errorf("write video %s: no frames", path)
	}

	w, err := gocv.VideoWriterFile(path, codec, fps, frames[0].Cols(), frames[0].Rows(), true)
	if err != nil {
		return fmt.Errorf("write video %s: %w", path, err)
	}
	defer w.Close()

	if !w.IsOpened() {
		return fmt.Errorf("write video %s: codec %s unavailable", path, codec)
	}

	for i, f := range frames {
		if err := w.Write(*f); err != nil {
			return fmt.Errorf("write video %s frame %d: %w", path, i, err)
		}
	}
	return nil
}
