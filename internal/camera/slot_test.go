package camera

import (
	"testing"
	"time"
)

func TestFrameSlot_LatestWins(t *testing.T) {
	var s frameSlot
	base := time.Now()

	if f := s.Get(); f != nil {
		t.Fatalf("Expected nil from empty slot, got %+v", f)
	}

	first := &Frame{CameraID: 0, Timestamp: base}
	second := &Frame{CameraID: 0, Timestamp: base.Add(time.Millisecond)}
	s.Put(first)
	s.Put(second)

	// 未読のフレームは上書きされる
	if got := s.Get(); got != second {
		t.Errorf("Expected newest frame, got %+v", got)
	}
	if s.Drops() != 1 {
		t.Errorf("Expected 1 drop, got %d", s.Drops())
	}

	// 読んだ後は最後のフレームを返し続ける
	if got := s.Get(); got != second {
		t.Errorf("Expected last known frame, got %+v", got)
	}
}

func TestFrameSlot_DrainKeepsLast(t *testing.T) {
	var s frameSlot
	f := &Frame{Timestamp: time.Now()}
	s.Put(f)
	s.Drain()

	if got := s.Get(); got != f {
		t.Errorf("Expected last frame after drain, got %+v", got)
	}

	s.Reset()
	if got := s.Get(); got != nil {
		t.Errorf("Expected nil after reset, got %+v", got)
	}
}

func TestFrameSlot_RejectsOlderFrame(t *testing.T) {
	var s frameSlot
	now := time.Now()
	newer := &Frame{Timestamp: now}
	older := &Frame{Timestamp: now.Add(-time.Second)}

	s.Put(newer)
	s.Put(older)

	if got := s.Last(); got != newer {
		t.Errorf("Expected timestamps to stay monotonic, got %v", got.Timestamp)
	}
}
