package dataset

import (
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultImageSize is the square network input size training images are scaled to.
var DefaultImageSize = image.Pt(640, 640)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// ResizeImages scales every image in dir to exactly size, overwriting the files.
// Images that cannot be decoded are logged and skipped. It returns the number of
// images resized.
func ResizeImages(dir string, size image.Point) (int, error) {
	if size.X <= 0 || size.Y <= 0 {
		return 0, fmt.Errorf("invalid image size %dx%d", size.X, size.Y)
	}

	files, err := listFiles(dir, "")
	if err != nil {
		return 0, err
	}

	resized := 0
	for _, name := range files {
		if !imageExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		path := filepath.Join(dir, name)

		img, err := imaging.Open(path)
		if err != nil {
			log.Printf("Failed to load image %s: %v", path, err)
			continue
		}

		out := imaging.Resize(img, size.X, size.Y, imaging.Linear)
		if err := imaging.Save(out, path); err != nil {
			return resized, fmt.Errorf("save %s: %w", path, err)
		}
		resized++
	}
	return resized, nil
}
