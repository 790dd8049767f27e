package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

var errMockReadFailure = errors.New("モックの読み取り失敗")

// MockBackend はテストと -mock 起動用のキャプチャ戦略
// 実機なしで合成フレームを生成し、開く・読むの失敗を注入できる
type MockBackend struct {
	mu          sync.Mutex
	devices     map[int]bool
	failOpen    map[int]bool
	failRead    map[int]bool
	openDelay   map[int]time.Duration
	attempts    map[int]int
	opens       map[int]int
	openHandles map[int]int
	maxHandles  map[int]int
	reads       map[int]int
}

// NewMockBackend は指定したIDのデバイスを持つMockBackendを作成する
func NewMockBackend(deviceIDs ...int) *MockBackend {
	m := &MockBackend{
		devices:     make(map[int]bool),
		failOpen:    make(map[int]bool),
		failRead:    make(map[int]bool),
		openDelay:   make(map[int]time.Duration),
		attempts:    make(map[int]int),
		opens:       make(map[int]int),
		openHandles: make(map[int]int),
		maxHandles:  make(map[int]int),
		reads:       make(map[int]int),
	}
	for _, id := range deviceIDs {
		m.devices[id] = true
	}
	return m
}

// Name は戦略名を返す
func (m *MockBackend) Name() string {
	return "Mock"
}

// Open はモックデバイスを開く
// 遅延が設定されていれば、実際のドライバと同じくctxを見ずに待つ
func (m *MockBackend) Open(_ context.Context, deviceID int, s Settings) (Handle, error) {
	m.mu.Lock()
	m.attempts[deviceID]++
	delay := m.openDelay[deviceID]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.devices[deviceID] {
		return nil, fmt.Errorf("モックデバイスがありません: %d", deviceID)
	}
	if m.failOpen[deviceID] {
		return nil, fmt.Errorf("モックデバイスを開けません: %d", deviceID)
	}

	m.opens[deviceID]++
	m.openHandles[deviceID]++
	if m.openHandles[deviceID] > m.maxHandles[deviceID] {
		m.maxHandles[deviceID] = m.openHandles[deviceID]
	}

	width, height := s.Width, s.Height
	if width <= 0 || height <= 0 {
		width, height = 64, 48
	}
	return &mockHandle{backend: m, id: deviceID, width: width, height: height}, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockBackend) AddDevice(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[id] = true
}

// RemoveDevice はテスト用にデバイスを削除する（抜き差しの再現）
func (m *MockBackend) RemoveDevice(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
}

// SetOpenFailure はデバイスを開く処理を失敗させるかどうかを設定する
func (m *MockBackend) SetOpenFailure(id int, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen[id] = fail
}

// SetReadFailure はフレーム読み取りを失敗させるかどうかを設定する
func (m *MockBackend) SetReadFailure(id int, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead[id] = fail
}

// SetOpenDelay はデバイスを開く処理にかかる時間を設定する
func (m *MockBackend) SetOpenDelay(id int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDelay[id] = d
}

// OpenAttempts は開く処理が呼ばれた回数を返す。失敗や待ち中も含む
func (m *MockBackend) OpenAttempts(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// OpenCount はデバイスが開かれた回数を返す
func (m *MockBackend) OpenCount(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[id]
}

// OpenHandles は現在開いているハンドル数を返す
func (m *MockBackend) OpenHandles(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openHandles[id]
}

// MaxOpenHandles は同時に開かれたハンドル数の最大値を返す
func (m *MockBackend) MaxOpenHandles(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxHandles[id]
}

// ReadCount は読み取りの回数を返す
func (m *MockBackend) ReadCount(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[id]
}

type mockHandle struct {
	backend *MockBackend
	id      int
	width   int
	height  int

	mu     sync.Mutex
	seq    int
	closed bool
}

func (h *mockHandle) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}

	m := h.backend
	m.mu.Lock()
	m.reads[h.id]++
	fail := m.failRead[h.id] || !m.devices[h.id]
	m.mu.Unlock()
	if fail {
		return nil, errMockReadFailure
	}

	h.seq++
	return mockPattern(h.width, h.height, h.id, h.seq), nil
}

func (h *mockHandle) IsOpened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *mockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	h.backend.mu.Lock()
	h.backend.openHandles[h.id]--
	h.backend.mu.Unlock()
	return nil
}

// mockPattern はデバイスIDとフレーム番号で色が変わる縞模様を描く
func mockPattern(width, height, id, seq int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := color.RGBA{R: uint8(40 + id*60), G: uint8(seq * 7), B: 160, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: base}, image.Point{}, draw.Src)

	stripe := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	offset := seq % 16
	for x := offset; x < width; x += 16 {
		draw.Draw(img, image.Rect(x, 0, min(x+4, width), height), &image.Uniform{C: stripe}, image.Point{}, draw.Src)
	}
	return img
}
