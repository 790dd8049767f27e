package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"robocam/internal/camera"
	"robocam/internal/generated"
	"robocam/internal/stream"
)

const (
	minEventInterval = 10 * time.Millisecond
	wsWriteTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// GetCameraMjpeg はMJPEGストリーミングエンドポイントの実装
// クライアントが切断するまでパートを書き続ける
func (h *RobocamHandler) GetCameraMjpeg(c *gin.Context, cameraID generated.CameraID, params generated.GetCameraMjpegParams) {
	req := h.streamRequest(cameraID, params.Quality, params.Fps)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, "streaming_unsupported", "ストリーミングに対応していません", nil)
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	err := h.generator.Run(c.Request.Context(), req, func(part stream.Part) error {
		if err := stream.WritePart(c.Writer, part.Data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Debug("MJPEG配信を終了しました", zap.Int("camera_id", cameraID), zap.Error(err))
	}
}

// GetCameraWebSocket はWebSocketストリーミングエンドポイントの実装
// JPEGを1枚ずつバイナリメッセージで送る
func (h *RobocamHandler) GetCameraWebSocket(c *gin.Context, cameraID generated.CameraID, params generated.GetCameraWebSocketParams) {
	req := h.streamRequest(cameraID, params.Quality, params.Fps)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		h.logger.Warn("WebSocketへの切り替えに失敗しました", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// クライアントからの切断を検知する
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.generator.Run(ctx, req, func(part stream.Part) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, part.Data)
	})
	if err != nil {
		h.logger.Debug("WebSocket配信を終了しました", zap.Int("camera_id", cameraID), zap.Error(err))
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(time.Second))
}

// GetFramesEventStream は全カメラの最新フレームをServer-Sent Eventsで送り続ける
func (h *RobocamHandler) GetFramesEventStream(c *gin.Context, params generated.GetFramesEventStreamParams) {
	interval := h.config.Stream.SSEInterval.Std()
	if params.IntervalMs != nil {
		interval = time.Duration(*params.IntervalMs) * time.Millisecond
	}
	if interval < minEventInterval {
		interval = minEventInterval
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, http.StatusInternalServerError, "streaming_unsupported", "ストリーミングに対応していません", nil)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		payload, err := json.Marshal(generated.FramesEvent{
			Type:      generated.Frames,
			Frames:    h.latestFrames(),
			Timestamp: time.Now(),
		})
		if err != nil {
			h.logger.Error("イベントのシリアライズに失敗しました", zap.Error(err))
			return
		}

		if err := sse.Encode(c.Writer, sse.Event{Event: "frames", Data: string(payload)}); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GetMosaic は起動中の全カメラを1枚に並べたJPEGを返す
// 合成できない時はフォールバック画像を返す
func (h *RobocamHandler) GetMosaic(c *gin.Context, params generated.GetMosaicParams) {
	quality := h.config.Stream.DefaultQuality
	if params.Quality != nil {
		quality = *params.Quality
	}

	data, err := h.mosaic.Compose(h.cameras.GetAllFrames(), stream.ClampQuality(quality))
	if err != nil {
		if !errors.Is(err, stream.ErrNoFrames) {
			h.logger.Warn("モザイクの合成に失敗しました", zap.Error(err))
		}
		data = h.cameras.FallbackFrame(camera.FallbackDeviceID, err.Error()).Data
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// streamRequest はクエリの値を丸めて配信要求を作る
func (h *RobocamHandler) streamRequest(cameraID int, quality, fps *int) stream.Request {
	req := stream.Request{
		CameraID: cameraID,
		Quality:  h.config.Stream.DefaultQuality,
		FPS:      h.config.Stream.DefaultFPS,
	}
	if quality != nil {
		req.Quality = *quality
	}
	if fps != nil {
		req.FPS = *fps
	}
	req.Quality = stream.ClampQuality(req.Quality)
	req.FPS = stream.ClampFPS(req.FPS)
	return req
}
