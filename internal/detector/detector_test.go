package detector

import (
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KhawLiang/Staff-Detection/internal/testutil"
)

func det(x1, y1, x2, y2 int, conf float64, name string) Detection {
	return Detection{Box: image.Rect(x1, y1, x2, y2), Confidence: conf, ClassName: name}
}

func TestBest(t *testing.T) {
	tests := []struct {
		name string
		dets []Detection
		want *Detection
	}{
		{
			name: "nil set",
			dets: nil,
			want: nil,
		},
		{
			name: "empty set",
			dets: []Detection{},
			want: nil,
		},
		{
			name: "single detection",
			dets: []Detection{det(1, 2, 3, 4, 0.3, "staff")},
			want: &Detection{Box: image.Rect(1, 2, 3, 4), Confidence: 0.3, ClassName: "staff"},
		},
		{
			name: "highest confidence wins regardless of position",
			dets: []Detection{
				det(0, 0, 20, 20, 0.4, "a"),
				det(10, 10, 50, 50, 0.9, "b"),
				det(5, 5, 6, 6, 0.1, "c"),
			},
			want: &Detection{Box: image.Rect(10, 10, 50, 50), Confidence: 0.9, ClassName: "b"},
		},
		{
			name: "ties keep the first encountered",
			dets: []Detection{
				det(0, 0, 1, 1, 0.2, "low"),
				det(0, 0, 2, 2, 0.8, "first"),
				det(0, 0, 3, 3, 0.8, "second"),
			},
			want: &Detection{Box: image.Rect(0, 0, 2, 2), Confidence: 0.8, ClassName: "first"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Best(tt.dets)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Best() mismatch (-want +got):\n%s", diff)
			}

			// Repeated calls are deterministic
			if diff := cmp.Diff(got, Best(tt.dets)); diff != "" {
				t.Errorf("Best() not deterministic (-first +second):\n%s", diff)
			}
		})
	}
}

func TestBest_ReturnsCopy(t *testing.T) {
	dets := []Detection{det(0, 0, 10, 10, 0.5, "staff")}

	best := Best(dets)
	best.ClassName = "changed"

	if dets[0].ClassName != "staff" {
		t.Error("modifying the result of Best should not modify the input")
	}
}

func TestNewScoreFilter(t *testing.T) {
	dets := []Detection{
		det(0, 0, 1, 1, 0.1, "a"),
		det(0, 0, 1, 1, 0.5, "b"),
		det(0, 0, 1, 1, 0.25, "c"),
	}

	got := NewScoreFilter(0.25)(dets)

	if len(got) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(got))
	}
	if got[0].ClassName != "b" || got[1].ClassName != "c" {
		t.Errorf("unexpected detections kept: %v", got)
	}

	if empty := NewScoreFilter(0.5)(nil); len(empty) != 0 {
		t.Errorf("filter of nil should be empty, got %v", empty)
	}
}

func TestDecodeYOLOv8(t *testing.T) {
	const rows, cols = 6, 3 // 4 box values + 2 classes, 3 candidates
	data := make([]float32, rows*cols)
	set := func(r, i int, v float32) { data[r*cols+i] = v }

	// candidate 0: class 0 at 0.9
	set(0, 0, 100)
	set(1, 0, 100)
	set(2, 0, 40)
	set(3, 0, 20)
	set(4, 0, 0.9)
	set(5, 0, 0.1)

	// candidate 1: below the confidence threshold
	set(0, 1, 300)
	set(1, 1, 300)
	set(2, 1, 10)
	set(3, 1, 10)
	set(4, 1, 0.1)
	set(5, 1, 0.05)

	// candidate 2: class 1 at 0.7
	set(0, 2, 400)
	set(1, 2, 300)
	set(2, 2, 100)
	set(3, 2, 100)
	set(4, 2, 0.2)
	set(5, 2, 0.7)

	// Frame is twice as wide as the network input
	dets := decodeYOLOv8(data, rows, cols, 1280, 640, 640, 0.25, 0.45, []string{"staff", "customer"})

	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d: %v", len(dets), dets)
	}

	want := map[string]image.Rectangle{
		"staff":    image.Rect(160, 90, 240, 110),
		"customer": image.Rect(700, 250, 900, 350),
	}
	for _, d := range dets {
		box, ok := want[d.ClassName]
		if !ok {
			t.Errorf("unexpected class %q", d.ClassName)
			continue
		}
		if d.Box != box {
			t.Errorf("%s box = %v, want %v", d.ClassName, d.Box, box)
		}
	}

	best := Best(dets)
	if best.ClassName != "staff" {
		t.Errorf("best detection = %q, want staff", best.ClassName)
	}
}

func TestDecodeYOLOv8_NoCandidates(t *testing.T) {
	dets := decodeYOLOv8(make([]float32, 6*4), 6, 4, 640, 480, 640, 0.25, 0.45, nil)
	if len(dets) != 0 {
		t.Errorf("expected no detections, got %v", dets)
	}
}

func TestLoadNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	if err := os.WriteFile(path, []byte("staff\n\ncustomer\n"), 0644); err != nil {
		t.Fatalf("failed to write names: %v", err)
	}

	names, err := LoadNames(path)
	if err != nil {
		t.Fatalf("LoadNames() error = %v", err)
	}
	if diff := cmp.Diff([]string{"staff", "customer"}, names); diff != "" {
		t.Errorf("LoadNames() mismatch (-want +got):\n%s", diff)
	}

	if got := className(names, 7); got != "class7" {
		t.Errorf("className() for unknown id = %q, want class7", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("mock backend", func(t *testing.T) {
		d, err := New(Config{Backend: BackendMock})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer d.Close()

		if _, ok := d.(*MockDetector); !ok {
			t.Errorf("New() returned %T, want *MockDetector", d)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(Config{Backend: "tensorrt"})
		if !errors.Is(err, ErrUnknownBackend) {
			t.Errorf("New() error = %v, want ErrUnknownBackend", err)
		}
	})

	t.Run("dnn backend with missing model", func(t *testing.T) {
		_, err := New(Config{Backend: BackendDNN, Model: filepath.Join(t.TempDir(), "missing.onnx")})
		if err == nil {
			t.Error("New() should fail for a missing model")
		}
	})

	t.Run("process backend with missing script", func(t *testing.T) {
		_, err := New(Config{Backend: BackendProcess, Script: filepath.Join(t.TempDir(), "missing.py")})
		if err == nil {
			t.Error("New() should fail for a missing helper script")
		}
	})

	t.Run("http backend requires endpoint", func(t *testing.T) {
		_, err := New(Config{Backend: BackendHTTP})
		if err == nil {
			t.Error("New() should fail without an endpoint")
		}
	})
}

func TestHTTPDetector_Detect(t *testing.T) {
	var gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[
			{"class":"staff","class_id":0,"confidence":0.9,"bbox":[10,10,50,50]},
			{"class":"staff","class_id":0,"confidence":0.4,"bbox":[0,0,20,20]},
			{"class":"bad","class_id":1,"confidence":0.99,"bbox":[1,2]}
		]}`))
	}))
	defer ts.Close()

	d, err := NewHTTPDetector(Config{Endpoint: ts.URL, Confidence: 0.25})
	if err != nil {
		t.Fatalf("NewHTTPDetector() error = %v", err)
	}
	defer d.Close()

	frame := testutil.Frame(64, 48, 1)
	defer frame.Close()

	dets, err := d.Detect(*frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("Content-Type = %q, want multipart/form-data", gotContentType)
	}

	want := []Detection{
		{Box: image.Rect(10, 10, 50, 50), Confidence: 0.9, ClassName: "staff"},
		{Box: image.Rect(0, 0, 20, 20), Confidence: 0.4, ClassName: "staff"},
	}
	if diff := cmp.Diff(want, dets); diff != "" {
		t.Errorf("Detect() mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPDetector_ServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	d, _ := NewHTTPDetector(Config{Endpoint: ts.URL})
	frame := testutil.Frame(16, 16, 1)
	defer frame.Close()

	if _, err := d.Detect(*frame); err == nil {
		t.Error("Detect() should fail when the service returns an error status")
	}
}

func TestMockDetector_Script(t *testing.T) {
	m := NewMockDetector()
	m.SetScript([][]Detection{
		nil,
		{det(10, 10, 50, 50, 0.9, "staff")},
	})
	m.SetErrorAt(2, errors.New("inference failed"))

	frame := testutil.Frame(16, 16, 1)
	defer frame.Close()

	if dets, err := m.Detect(*frame); err != nil || len(dets) != 0 {
		t.Errorf("call 0 = (%v, %v), want empty result", dets, err)
	}
	if dets, err := m.Detect(*frame); err != nil || len(dets) != 1 {
		t.Errorf("call 1 = (%v, %v), want one detection", dets, err)
	}
	if _, err := m.Detect(*frame); err == nil {
		t.Error("call 2 should fail")
	}
	if dets, err := m.Detect(*frame); err != nil || len(dets) != 0 {
		t.Errorf("call 3 = (%v, %v), want fallback empty result", dets, err)
	}

	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
}
