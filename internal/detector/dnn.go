package detector

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// DNNDetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
type DNNDetector struct {
	net        gocv.Net
	classNames []string
	confidence float32
	nms        float32
	inputSize  int
	mu         sync.Mutex
}

// NewDNNDetector loads the network in cfg.Model and the class names in cfg.Names.
func NewDNNDetector(cfg Config) (*DNNDetector, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("dnn detector: model path is required")
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("dnn detector: %w", err)
	}

	net := gocv.ReadNet(cfg.Model, "")
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("dnn detector: failed to load network from %s", cfg.Model)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	var names []string
	if cfg.Names != "" {
		var err error
		names, err = LoadNames(cfg.Names)
		if err != nil {
			net.Close()
			return nil, fmt.Errorf("dnn detector: %w", err)
		}
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 640
	}

	return &DNNDetector{
		net:        net,
		classNames: names,
		confidence: float32(cfg.Confidence),
		nms:        float32(cfg.NMS),
		inputSize:  size,
	}, nil
}

// Detect runs a forward pass and decodes the [1, 4+classes, N] output tensor.
func (d *DNNDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil, fmt.Errorf("dnn detector: empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("dnn detector: unexpected output shape %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("dnn detector: read output: %w", err)
	}

	return decodeYOLOv8(data, dims[1], dims[2], frame.Cols(), frame.Rows(), d.inputSize, d.confidence, d.nms, d.classNames), nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// decodeYOLOv8 turns a channel-major YOLOv8 output (rows = 4 box values followed by one
// score per class, cols = candidate anchors) into detections in frame pixels.
func decodeYOLOv8(data []float32, rows, cols, frameW, frameH, inputSize int, conf, nms float32, names []string) []Detection {
	numClasses := rows - 4
	if numClasses <= 0 || len(data) < rows*cols {
		return []Detection{}
	}

	scaleX := float32(frameW) / float32(inputSize)
	scaleY := float32(frameH) / float32(inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for i := 0; i < cols; i++ {
		classID := 0
		score := data[4*cols+i]
		for c := 1; c < numClasses; c++ {
			if s := data[(4+c)*cols+i]; s > score {
				score = s
				classID = c
			}
		}
		if score < conf {
			continue
		}

		cx := data[i] * scaleX
		cy := data[cols+i] * scaleY
		w := data[2*cols+i] * scaleX
		h := data[3*cols+i] * scaleY

		boxes = append(boxes, xyxy(float64(cx-w/2), float64(cy-h/2), float64(cx+w/2), float64(cy+h/2)))
		scores = append(scores, score)
		classIDs = append(classIDs, classID)
	}

	if len(boxes) == 0 {
		return []Detection{}
	}

	keep := gocv.NMSBoxes(boxes, scores, conf, nms)

	dets := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, Detection{
			Box:        boxes[idx],
			Confidence: float64(scores[idx]),
			ClassID:    classIDs[idx],
			ClassName:  className(names, classIDs[idx]),
		})
	}
	return dets
}

// LoadNames reads one class name per line, skipping blank lines.
func LoadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class%d", id)
}
