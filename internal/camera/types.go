package camera

import (
	"context"
	"time"
)

// FallbackDeviceID は仮想（フォールバック）カメラの予約ID
const FallbackDeviceID = -1

// Status はカメラの動作状態を表す
type Status string

const (
	StatusAvailable    Status = "available"    // 検出済み・未起動
	StatusActive       Status = "active"       // キャプチャ中
	StatusFallback     Status = "fallback"     // 仮想カメラ
	StatusDisconnected Status = "disconnected" // 読み取り失敗が続いている、または再起動に失敗
)

// Settings はキャプチャ時に要求する設定を表す
// 実際に適用されるかはデバイス次第
type Settings struct {
	Width      int     // 画像幅
	Height     int     // 画像高さ
	FPS        float64 // フレームレート
	BufferSize int     // ドライバ側のバッファ数（1で最新フレーム優先）
}

// Frame はキャプチャしたJPEG画像1枚
// 一度作成したら変更しない。複数の配信先から同じ値を共有する
type Frame struct {
	CameraID   int
	Data       []byte // JPEGデータ
	Timestamp  time.Time
	Width      int
	Height     int
	IsFallback bool
	Error      string // フォールバックになった理由
}

// DeviceInfo はカメラデバイスの情報を表す
type DeviceInfo struct {
	ID            int
	Name          string
	Width         int
	Height        int
	FPS           float64
	IsActive      bool
	IsFallback    bool
	Backend       string // キャプチャ戦略の表示名
	Status        Status
	LastFrameTime time.Time
	ErrorCount    int
	Restarts      int
	Drops         uint64 // 読まれずに上書きされたフレーム数
}

// RegistryStatus はレジストリ全体の状態を表す
type RegistryStatus struct {
	ActiveCameras int
	TotalCameras  int
	Uptime        time.Duration
	Cameras       []DeviceInfo
}

// Manager はカメラの動的管理を担うインターフェース
type Manager interface {
	// Start はカメラマネージャーを開始する
	Start(ctx context.Context) error

	// Stop はカメラマネージャーを停止する
	Stop(ctx context.Context) error

	// DiscoverCameras はシステム内のカメラデバイスを検出する
	DiscoverCameras(ctx context.Context, force bool) []DeviceInfo

	// IsDiscovered は直近の検出結果に実デバイスとして含まれているか返す
	IsDiscovered(id int) bool

	// IsRegistered は起動済みとして登録されているか返す
	IsRegistered(id int) bool

	// IsKnown は検出済みか、一度でも開始したことがあるか返す
	IsKnown(id int) bool

	// GetCameras は起動済みカメラの一覧を取得する
	GetCameras() []DeviceInfo

	// StartCamera はカメラを開始する
	StartCamera(ctx context.Context, id int) error

	// StopCamera はカメラを停止する
	StopCamera(ctx context.Context, id int) error

	// RestartCamera はカメラを再起動する
	RestartCamera(ctx context.Context, id int) error

	// RequestRestart は呼び出し元を待たせずに再起動を予約する
	RequestRestart(id int) bool

	// StartAllCameras は検出された全カメラを開始する
	StartAllCameras(ctx context.Context) int

	// StopAllCameras は全カメラを停止する
	StopAllCameras(ctx context.Context) int

	// GetCameraFrame は最新フレームを取得する
	GetCameraFrame(id int) (*Frame, error)

	// GetAllFrames は全カメラの最新フレームを取得する
	GetAllFrames() []*Frame

	// FallbackFrame はフォールバック画像のフレームを作成する
	FallbackFrame(id int, reason string) *Frame

	// CleanupBuffers は滞留したフレームを破棄する
	CleanupBuffers()

	// Status は全体の状態を取得する
	Status() RegistryStatus
}
