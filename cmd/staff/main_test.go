package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/store"
)

func TestRenderSessions(t *testing.T) {
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := []*store.Session{
		{
			ID:            "finished",
			SourcePath:    "shop.mp4",
			OutputPath:    "output_20240101_120000.mp4",
			FramesWritten: 300,
			FramesSkipped: 2,
			EndReason:     pipeline.ReasonExhausted,
			StartedAt:     started,
			EndedAt:       started.Add(12 * time.Second),
		},
		{
			ID:         "open",
			SourcePath: "door.mp4",
			StartedAt:  started.Add(time.Minute),
		},
	}

	var buf bytes.Buffer
	renderSessions(&buf, sessions)
	out := buf.String()

	for _, want := range []string{"finished", "shop.mp4", "300", pipeline.ReasonExhausted, "12s", "open", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, pipeline.Session{
		ID:            "abc",
		SourcePath:    "shop.mp4",
		Width:         640,
		Height:        480,
		FPS:           25,
		FramesWritten: 10,
		EndReason:     pipeline.ReasonError,
		Error:         "disk full",
	})
	out := buf.String()

	for _, want := range []string{"abc", "640x480 @ 25.00 fps", "disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSessionsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	if err := st.Sessions().Create(&store.Session{
		ID:         "s-1",
		SourcePath: "shop.mp4",
		OutputPath: "out.mp4",
		StartedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	st.Close()

	var buf bytes.Buffer
	a := newApp()
	a.Writer = &buf

	if err := a.Run([]string{"staff", "sessions", "--store", dbPath}); err != nil {
		t.Fatalf("sessions error = %v", err)
	}
	if !strings.Contains(buf.String(), "s-1") {
		t.Errorf("list output missing session:\n%s", buf.String())
	}

	buf.Reset()
	if err := a.Run([]string{"staff", "sessions", "--store", dbPath, "delete", "s-1"}); err != nil {
		t.Fatalf("sessions delete error = %v", err)
	}

	buf.Reset()
	if err := a.Run([]string{"staff", "sessions", "--store", dbPath}); err != nil {
		t.Fatalf("sessions error = %v", err)
	}
	if !strings.Contains(buf.String(), "No sessions recorded") {
		t.Errorf("list output after delete:\n%s", buf.String())
	}
}

func TestSessionsDeleteCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	for _, id := range []string{"s-1", "s-2"} {
		if err := st.Sessions().Create(&store.Session{ID: id, SourcePath: "shop.mp4"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	st.Close()

	var buf bytes.Buffer
	a := newApp()
	a.Writer = &buf
	// Report exit errors from Run instead of exiting the test binary.
	a.ExitErrHandler = func(*cli.Context, error) {}

	if err := a.Run([]string{"staff", "sessions", "delete", "--store", dbPath, "s-1"}); err != nil {
		t.Fatalf("sessions delete error = %v", err)
	}
	if !strings.Contains(buf.String(), "Deleted session s-1") {
		t.Errorf("delete output = %q", buf.String())
	}

	if err := a.Run([]string{"staff", "sessions", "delete", "--store", dbPath, "s-1"}); err == nil {
		t.Error("deleting a missing session should fail")
	}

	st, err = store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()
	if _, err := st.Sessions().GetByID("s-2"); err != nil {
		t.Errorf("s-2 should remain: %v", err)
	}
}

func TestDatasetCountCommand(t *testing.T) {
	root := t.TempDir()
	for dir, files := range map[string][]string{
		"annotations": {"a.txt", "b.txt"},
		"train":       {"a.txt"},
		"val":         {"b.txt", "c.txt"},
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(root, dir, f), nil, 0644); err != nil {
				t.Fatal(err)
			}
		}
	}

	var buf bytes.Buffer
	a := newApp()
	a.Writer = &buf

	err := a.Run([]string{"staff", "dataset", "count",
		"--labels", filepath.Join(root, "annotations"),
		"--train", filepath.Join(root, "train"),
		"--val", filepath.Join(root, "val"),
	})
	if err != nil {
		t.Fatalf("dataset count error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"train", "val", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("count output missing %q:\n%s", want, out)
		}
	}
}
