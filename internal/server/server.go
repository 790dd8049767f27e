package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"robocam/internal/camera"
	"robocam/internal/config"
	"robocam/internal/generated"
	"robocam/internal/stream"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	cameras    camera.Manager
	generator  *stream.Generator
	engine     *gin.Engine
	httpServer *http.Server

	// 配信中のリクエストはこのコンテキストから派生する
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, cameras camera.Manager, generator *stream.Generator, mosaic *stream.MosaicComposer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     logger,
		cameras:    cameras,
		generator:  generator,
		engine:     gin.New(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}

	s.setupRoutes(&RobocamHandler{
		config:    cfg,
		cameras:   cameras,
		generator: generator,
		mosaic:    mosaic,
		logger:    logger,
	})

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		BaseContext: func(net.Listener) context.Context {
			return s.baseCtx
		},
	}

	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(handler *RobocamHandler) {
	s.engine.Use(requestLogger(s.logger), recovery(s.logger), corsMiddleware(s.config.Server.CORS))

	// 生成されたハンドラーを登録
	generated.RegisterHandlersWithOptions(s.engine, handler, generated.GinServerOptions{
		ErrorHandler: handler.bindError,
	})

	s.engine.GET("/api/openapi.json", s.handleOpenAPI)
	s.engine.GET("/", s.handleRoot)
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleOpenAPI は埋め込まれたAPI定義を返す
func (s *Server) handleOpenAPI(c *gin.Context) {
	swagger, err := generated.GetSwagger()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "openapi_unavailable", "API定義を読み込めません", err)
		return
	}
	c.JSON(http.StatusOK, swagger)
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Robocam - カメラ配信サーバー</title>
</head>
<body>
    <h1>Robocam カメラ配信サーバー</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>カメラ一覧: <a href="/api/cameras">/api/cameras</a></p>
    <p>配信例: <a href="/api/cameras/0/mjpeg">/api/cameras/0/mjpeg</a></p>
    <p>モザイク: <a href="/api/cameras/mosaic">/api/cameras/mosaic</a></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`)
}

// Start はサーバーを起動する
// ctxのキャンセルかシグナルを受けるとグレースフルシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	if err := s.cameras.Start(ctx); err != nil {
		return fmt.Errorf("カメラ管理の開始に失敗: %w", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.cameras.Stop(context.Background())
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("address", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.String("signal", sig.String()))
	case err := <-shutdownCh:
		_ = s.cameras.Stop(context.Background())
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Addr は実際にリッスンしているアドレスを返す。起動前は空
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 配信を終わらせてからHTTPサーバーを止め、最後に全カメラを解放する
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("サーバーをシャットダウンしています...",
		zap.Int64("active_streams", s.generator.ActiveStreams()))

	// 配信ループを終了させる
	s.baseCancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.cameras.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("カメラの停止に失敗: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("サーバーが正常にシャットダウンされました",
		zap.Uint64("total_streams", s.generator.TotalStreams()))
	return nil
}
