// Package annotate draws the primary detection of a frame onto a copy of it.
package annotate

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/KhawLiang/Staff-Detection/internal/detector"
)

// ErrEmptyFrame is returned when asked to annotate a frame with no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Style holds the fixed drawing parameters of the overlay.
type Style struct {
	BoxColor  color.RGBA
	Thickness int
	Font      gocv.HersheyFont
	FontScale float64
	// LabelOffset is how far above the box's top edge the label baseline sits.
	LabelOffset int

	// ShowCoordinates adds a second line with the raw box coordinates at CoordOrigin.
	ShowCoordinates bool
	CoordColor      color.RGBA
	CoordScale      float64
	CoordOrigin     image.Point
}

// DefaultStyle returns the green box and label with a red coordinates line.
func DefaultStyle() Style {
	return Style{
		BoxColor:    color.RGBA{0, 255, 0, 255},
		Thickness:   2,
		Font:        gocv.FontHersheySimplex,
		FontScale:   0.9,
		LabelOffset: 10,
		CoordColor:  color.RGBA{255, 0, 0, 255},
		CoordScale:  0.6,
		CoordOrigin: image.Pt(10, 30),
	}
}

// Annotator renders a detection box and label onto frames.
type Annotator struct {
	style Style
}

// New creates an Annotator with the given style.
func New(style Style) *Annotator {
	return &Annotator{style: style}
}

// Style returns the drawing style.
func (a *Annotator) Style() Style {
	return a.style
}

// Annotate returns a copy of frame with primary drawn on it. When primary is nil
// the copy is left untouched. The input frame is never modified. Boxes partly or
// fully outside the frame are clipped.
// The caller is responsible for closing the returned Mat.
func (a *Annotator) Annotate(frame gocv.Mat, primary *detector.Detection) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	out := frame.Clone()
	if primary == nil {
		return out, nil
	}

	box := primary.Box.Canon()

	gocv.Rectangle(&out, box, a.style.BoxColor, a.style.Thickness)

	labelAt := image.Pt(box.Min.X, box.Min.Y-a.style.LabelOffset)
	gocv.PutText(&out, Label(*primary), labelAt, a.style.Font, a.style.FontScale, a.style.BoxColor, a.style.Thickness)

	if a.style.ShowCoordinates {
		gocv.PutText(&out, CoordinatesLabel(*primary), a.style.CoordOrigin, a.style.Font, a.style.CoordScale, a.style.CoordColor, a.style.Thickness)
	}

	return out, nil
}

// Label formats the text drawn above a detection box.
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// CoordinatesLabel formats the raw box coordinates line.
func CoordinatesLabel(d detector.Detection) string {
	return fmt.Sprintf("%s: %d, %d, %d, %d", d.ClassName, d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y)
}
