package stream

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"robocam/internal/camera"
)

func TestMosaicComposer_CalculateLayout(t *testing.T) {
	m := NewMosaicComposer(1200, 600, nil)

	tests := []struct {
		count      int
		cols, rows int
	}{
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 3, 2},
		{9, 3, 3},
		{10, 4, 3},
	}

	for _, tt := range tests {
		layout := m.CalculateLayout(tt.count)
		if layout.Cols != tt.cols || layout.Rows != tt.rows {
			t.Errorf("CalculateLayout(%d): Expected %dx%d, got %dx%d", tt.count, tt.cols, tt.rows, layout.Cols, layout.Rows)
		}
		if layout.CellWidth != 1200/tt.cols || layout.CellHeight != 600/tt.rows {
			t.Errorf("CalculateLayout(%d): Unexpected cell size %dx%d", tt.count, layout.CellWidth, layout.CellHeight)
		}
	}
}

func TestMosaicComposer_Compose(t *testing.T) {
	m := NewMosaicComposer(320, 240, nil)
	now := time.Now()
	frames := []*camera.Frame{
		{CameraID: 2, Data: testJPEG(t, 64, 48), Timestamp: now},
		{CameraID: 0, Data: testJPEG(t, 64, 48), Timestamp: now},
		{CameraID: 1, Data: []byte("broken"), Timestamp: now},
		nil,
	}

	data, err := m.Compose(frames, 70)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected decodable JPEG, got %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("Expected 320x240, got %v", img.Bounds())
	}
}

func TestMosaicComposer_NoFrames(t *testing.T) {
	m := NewMosaicComposer(320, 240, nil)

	if _, err := m.Compose(nil, 70); !errors.Is(err, ErrNoFrames) {
		t.Errorf("Expected ErrNoFrames, got %v", err)
	}
	broken := []*camera.Frame{{CameraID: 0, Data: []byte("x")}}
	if _, err := m.Compose(broken, 70); !errors.Is(err, ErrNoFrames) {
		t.Errorf("Expected ErrNoFrames for undecodable frames, got %v", err)
	}
}
