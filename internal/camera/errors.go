package camera

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDevice は登録されていないカメラIDを指定した
	ErrUnknownDevice = errors.New("カメラが登録されていません")

	// ErrOpenFailed はどのキャプチャ戦略でもデバイスを開けなかった
	ErrOpenFailed = errors.New("カメラを開けませんでした")

	// ErrNoFrame はまだフレームを取得できていない
	ErrNoFrame = errors.New("フレームがまだありません")

	// ErrWorkerStopped は開始処理中に停止が要求された
	ErrWorkerStopped = errors.New("キャプチャは停止されました")

	// ErrHandleClosed は閉じたハンドルから読もうとした
	ErrHandleClosed = errors.New("キャプチャハンドルは閉じられています")

	// ErrStopTimeout はキャプチャループが時間内に終了しなかった
	ErrStopTimeout = errors.New("キャプチャループが時間内に終了しませんでした")

	// ErrDeviceBusy は前のキャプチャループがまだデバイスを使っている
	ErrDeviceBusy = errors.New("カメラは前のキャプチャの終了待ちです")
)

// BackendAttempt はキャプチャ戦略1つ分の試行結果
type BackendAttempt struct {
	Backend string
	Err     error
}

// OpenError は全キャプチャ戦略の失敗をまとめたエラー
type OpenError struct {
	DeviceID int
	Attempts []BackendAttempt
}

func (e *OpenError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("カメラ %d を開けませんでした: 利用できるキャプチャ戦略がありません", e.DeviceID)
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Backend, a.Err))
	}
	return fmt.Sprintf("カメラ %d を開けませんでした (%s)", e.DeviceID, strings.Join(parts, "; "))
}

func (e *OpenError) Unwrap() error {
	return ErrOpenFailed
}
