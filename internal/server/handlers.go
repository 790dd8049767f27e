package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"robocam/internal/camera"
	"robocam/internal/config"
	"robocam/internal/generated"
	"robocam/internal/stream"
)

// RobocamHandler は生成されたServerInterfaceを実装する
type RobocamHandler struct {
	config    *config.Config
	cameras   camera.Manager
	generator *stream.Generator
	mosaic    *stream.MosaicComposer
	logger    *zap.Logger
}

var _ generated.ServerInterface = (*RobocamHandler)(nil)

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *RobocamHandler) HealthCheck(c *gin.Context) {
	response := generated.HealthResponse{
		Status:    generated.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *RobocamHandler) GetStatus(c *gin.Context) {
	status := h.cameras.Status()

	response := generated.StatusResponse{
		Status:        generated.Running,
		ActiveCameras: status.ActiveCameras,
		TotalCameras:  status.TotalCameras,
		ActiveStreams: h.generator.ActiveStreams(),
		UptimeSeconds: float32(status.Uptime.Seconds()),
		Cameras:       convertCameras(status.Cameras),
		Timestamp:     time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *RobocamHandler) GetCameras(c *gin.Context, params generated.GetCamerasParams) {
	refresh := params.Refresh != nil && *params.Refresh
	cameras := convertCameras(h.cameras.DiscoverCameras(c.Request.Context(), refresh))

	c.JSON(http.StatusOK, generated.CamerasResponse{
		Cameras: cameras,
		Count:   len(cameras),
	})
}

// StartAllCameras は全カメラ開始エンドポイントの実装
func (h *RobocamHandler) StartAllCameras(c *gin.Context) {
	started := h.cameras.StartAllCameras(c.Request.Context())

	c.JSON(http.StatusOK, generated.StartAllResponse{
		Status:       "success",
		Message:      fmt.Sprintf("%d台のカメラを開始しました", started),
		StartedCount: started,
	})
}

// StopAllCameras は全カメラ停止エンドポイントの実装
func (h *RobocamHandler) StopAllCameras(c *gin.Context) {
	stopped := h.cameras.StopAllCameras(c.Request.Context())

	c.JSON(http.StatusOK, generated.StopAllResponse{
		Status:       "success",
		Message:      fmt.Sprintf("%d台のカメラを停止しました", stopped),
		StoppedCount: stopped,
	})
}

// StartCamera はカメラ開始エンドポイントの実装
func (h *RobocamHandler) StartCamera(c *gin.Context, cameraID generated.CameraID) {
	err := h.cameras.StartCamera(c.Request.Context(), cameraID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, actionResponse(cameraID, fmt.Sprintf("カメラ %d を開始しました", cameraID)))
	case errors.Is(err, camera.ErrUnknownDevice):
		respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません", err)
	case errors.Is(err, camera.ErrDeviceBusy):
		respondError(c, http.StatusServiceUnavailable, "camera_busy", "前のキャプチャの終了を待っています", err)
	default:
		h.logger.Warn("カメラの開始に失敗しました", zap.Int("camera_id", cameraID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "camera_start_failed", "カメラを開始できませんでした", err)
	}
}

// StopCamera はカメラ停止エンドポイントの実装
func (h *RobocamHandler) StopCamera(c *gin.Context, cameraID generated.CameraID) {
	if !h.cameras.IsRegistered(cameraID) {
		respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラは起動していません", nil)
		return
	}

	if err := h.cameras.StopCamera(c.Request.Context(), cameraID); err != nil {
		respondError(c, http.StatusInternalServerError, "camera_stop_failed", "カメラを停止できませんでした", err)
		return
	}

	c.JSON(http.StatusOK, actionResponse(cameraID, fmt.Sprintf("カメラ %d を停止しました", cameraID)))
}

// RestartCamera はカメラ再起動エンドポイントの実装
func (h *RobocamHandler) RestartCamera(c *gin.Context, cameraID generated.CameraID) {
	err := h.cameras.RestartCamera(c.Request.Context(), cameraID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, actionResponse(cameraID, fmt.Sprintf("カメラ %d を再起動しました", cameraID)))
	case errors.Is(err, camera.ErrUnknownDevice):
		respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラは起動していません", err)
	case errors.Is(err, camera.ErrDeviceBusy):
		respondError(c, http.StatusServiceUnavailable, "camera_busy", "前のキャプチャの終了を待っています", err)
	default:
		h.logger.Warn("カメラの再起動に失敗しました", zap.Int("camera_id", cameraID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "camera_restart_failed", "カメラを再起動できませんでした", err)
	}
}

// GetCameraFrame は最新フレーム取得エンドポイントの実装
// 既知のカメラでフレームがなければフォールバック画像を返す
func (h *RobocamHandler) GetCameraFrame(c *gin.Context, cameraID generated.CameraID) {
	frame, err := h.cameras.GetCameraFrame(cameraID)
	if err == nil {
		c.JSON(http.StatusOK, convertFrame(frame))
		return
	}

	if errors.Is(err, camera.ErrUnknownDevice) && !h.cameras.IsKnown(cameraID) {
		respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません", nil)
		return
	}

	c.JSON(http.StatusOK, convertFrame(h.cameras.FallbackFrame(cameraID, err.Error())))
}

// GetAllFrames は全カメラの最新フレーム取得エンドポイントの実装
func (h *RobocamHandler) GetAllFrames(c *gin.Context) {
	frames := h.latestFrames()

	c.JSON(http.StatusOK, generated.FramesResponse{
		Frames:    frames,
		Count:     len(frames),
		Timestamp: time.Now(),
	})
}

// GetStreamsConfig は配信プリセット取得エンドポイントの実装
func (h *RobocamHandler) GetStreamsConfig(c *gin.Context) {
	presets := make([]generated.StreamPreset, 0, len(h.config.Stream.Presets))
	for _, p := range h.config.Stream.Presets {
		preset := generated.StreamPreset{
			Name:    p.Name,
			Quality: p.Quality,
			Fps:     p.FPS,
		}
		if p.Description != "" {
			preset.Description = stringPtr(p.Description)
		}
		presets = append(presets, preset)
	}

	c.JSON(http.StatusOK, generated.StreamsConfigResponse{
		PermanentStreams: presets,
		TotalConfigs:     len(presets),
	})
}

// latestFrames は起動中の全カメラの最新フレームを返す
// 1枚もなければフォールバック画像1枚を返す
func (h *RobocamHandler) latestFrames() []generated.FrameResponse {
	frames := h.cameras.GetAllFrames()
	if len(frames) == 0 {
		frames = []*camera.Frame{h.cameras.FallbackFrame(camera.FallbackDeviceID, "起動中のカメラがありません")}
	}

	out := make([]generated.FrameResponse, 0, len(frames))
	for _, f := range frames {
		out = append(out, convertFrame(f))
	}
	return out
}

// bindError はパラメータの解釈に失敗した時のエラーハンドラ
func (h *RobocamHandler) bindError(c *gin.Context, err error, statusCode int) {
	respondError(c, statusCode, "invalid_parameter", "パラメータが不正です", err)
}

// ヘルパー関数

// convertCameras はカメラ情報をレスポンスの形に変換する
func convertCameras(infos []camera.DeviceInfo) []generated.CameraInfo {
	cameras := make([]generated.CameraInfo, 0, len(infos))
	for _, info := range infos {
		cam := generated.CameraInfo{
			Id:         info.ID,
			Name:       info.Name,
			Width:      info.Width,
			Height:     info.Height,
			Fps:        float32(info.FPS),
			IsActive:   info.IsActive,
			IsFallback: info.IsFallback,
			Backend:    info.Backend,
			Status:     convertCameraStatus(info.Status),
			ErrorCount: info.ErrorCount,
		}
		if !info.LastFrameTime.IsZero() {
			t := info.LastFrameTime
			cam.LastFrameTime = &t
		}
		if info.Restarts > 0 {
			restarts := info.Restarts
			cam.Restarts = &restarts
		}
		if info.Drops > 0 {
			drops := int64(info.Drops)
			cam.DroppedFrames = &drops
		}
		cameras = append(cameras, cam)
	}
	return cameras
}

// convertCameraStatus はカメラステータスを変換する
func convertCameraStatus(status camera.Status) generated.CameraInfoStatus {
	switch status {
	case camera.StatusActive:
		return generated.CameraInfoStatusActive
	case camera.StatusFallback:
		return generated.CameraInfoStatusFallback
	case camera.StatusDisconnected:
		return generated.CameraInfoStatusDisconnected
	default:
		return generated.CameraInfoStatusAvailable
	}
}

func convertFrame(f *camera.Frame) generated.FrameResponse {
	resp := generated.FrameResponse{
		CameraId:   f.CameraID,
		Frame:      f.Data,
		Timestamp:  f.Timestamp,
		Width:      f.Width,
		Height:     f.Height,
		IsFallback: f.IsFallback,
	}
	if f.Error != "" {
		resp.Error = stringPtr(f.Error)
	}
	return resp
}

func actionResponse(cameraID int, message string) generated.ActionResponse {
	return generated.ActionResponse{
		Status:   "success",
		Message:  message,
		CameraId: &cameraID,
	}
}

// respondError はErrorResponseを返して処理を打ち切る
func respondError(c *gin.Context, status int, code, message string, err error) {
	response := generated.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err != nil {
		response.Details = stringPtr(err.Error())
	}
	c.AbortWithStatusJSON(status, response)
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
