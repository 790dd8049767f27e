package camera

import "sync"

// frameSlot は最新フレーム1枚だけを保持するバッファ
// 書き込みは常に上書きで、読み手が遅れても古いフレームは溜まらない
type frameSlot struct {
	mu      sync.Mutex
	pending *Frame // まだ読まれていないフレーム
	last    *Frame // 最後に書き込まれたフレーム
	drops   uint64
}

// Put はフレームを書き込む。未読のフレームがあれば破棄する
func (s *frameSlot) Put(f *Frame) {
	if f == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// タイムスタンプは単調増加させる
	if s.last != nil && f.Timestamp.Before(s.last.Timestamp) {
		return
	}
	if s.pending != nil {
		s.drops++
	}
	s.pending = f
	s.last = f
}

// Get は未読のフレームを取り出す。なければ最後のフレームを返す
func (s *frameSlot) Get() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f
	}
	return s.last
}

// Drain は未読のフレームを破棄する。最後のフレームは残す
func (s *frameSlot) Drain() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Last は最後に書き込まれたフレームを未読状態を変えずに返す
func (s *frameSlot) Last() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset は最後のフレームも含めて破棄する
func (s *frameSlot) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.last = nil
	s.mu.Unlock()
}

// Drops は上書きで破棄されたフレーム数を返す
func (s *frameSlot) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
