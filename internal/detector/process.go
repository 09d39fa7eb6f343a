package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// processIdleTimeout is how long the helper process may sit unused before it is stopped.
const processIdleTimeout = 30 * time.Second

// ProcessDetector implements Detector using a helper subprocess (for example a
// Python script that loads the fine-tuned YOLO weights).
//
// Each request is a 4-byte big-endian length followed by a JPEG-encoded frame on the
// helper's stdin. The helper answers with one JSON line on stdout.
type ProcessDetector struct {
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewProcessDetector creates a new helper-process detector.
// The process is started lazily on first detection.
func NewProcessDetector(config Config) (*ProcessDetector, error) {
	script := findScript(config.Script)
	if script == "" {
		return nil, fmt.Errorf("process detector: helper script %q not found", config.Script)
	}

	return &ProcessDetector{
		config: config,
		script: script,
	}, nil
}

// Detect sends the frame to the helper and waits for its answer.
func (d *ProcessDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response processResponse
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("helper: %s", response.Error)
	}

	dets := make([]Detection, 0, len(response.Detections))
	for _, jd := range response.Detections {
		if len(jd.Box) != 4 {
			continue
		}
		dets = append(dets, Detection{
			Box:        xyxy(jd.Box[0], jd.Box[1], jd.Box[2], jd.Box[3]),
			Confidence: jd.Confidence,
			ClassID:    jd.ClassID,
			ClassName:  jd.ClassName,
		})
	}

	d.resetIdleTimer()

	return dets, nil
}

// Close shuts down the helper process.
func (d *ProcessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ProcessDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	python := d.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	args := []string{d.script, "--conf", fmt.Sprintf("%g", d.config.Confidence)}
	if d.config.Model != "" {
		args = append(args, "--model", d.config.Model)
	}
	d.cmd = exec.Command(python, args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start detection helper: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

func (d *ProcessDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *ProcessDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(processIdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// findScript resolves the helper script relative to the working directory, the
// executable directory and ~/.staff-detection.
func findScript(script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		if _, err := os.Stat(script); err == nil {
			return script
		}
		return ""
	}

	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		script,
		filepath.Join("..", script),
		filepath.Join(execDir, script),
		filepath.Join(os.Getenv("HOME"), ".staff-detection", script),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		".venv/bin/python",
		filepath.Join(os.Getenv("HOME"), ".staff-detection/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// processResponse is the JSON line written by the helper for every frame.
type processResponse struct {
	Detections []jsonDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

type jsonDetection struct {
	Box        []float64 `json:"box"`
	Confidence float64   `json:"confidence"`
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
}
