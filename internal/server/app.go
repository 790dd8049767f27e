package server

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"robocam/internal/camera"
	"robocam/internal/config"
	"robocam/internal/stream"
)

// mockDeviceIDs は -mock 起動時に用意する仮想デバイス
var mockDeviceIDs = []int{0, 1}

// Build は設定からカメラ管理・配信・HTTPサーバーを組み立てる
// mock が true なら実デバイスを使わずにモックのキャプチャ戦略だけで動かす
func Build(cfg *config.Config, logger *zap.Logger, mock bool) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	factory := camera.NewBackendFactory()
	factory.Register("mock", func(camera.BackendOptions) camera.Backend {
		return camera.NewMockBackend(mockDeviceIDs...)
	})

	names := cfg.Camera.Backends
	regCfg := registryConfig(cfg)
	if mock {
		names = []string{"mock"}
		regCfg.Namer = mockNamer
	} else if slices.Equal(names, []string{"mock"}) {
		regCfg.Namer = mockNamer
	}

	backends, err := factory.Build(names, camera.BackendOptions{
		FFmpegPath: cfg.Camera.FFmpegPath,
		Logger:     logger.Named("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("キャプチャ戦略の作成に失敗: %w", err)
	}

	fallback := camera.NewFallbackGenerator(
		cfg.Camera.Width, cfg.Camera.Height,
		cfg.Camera.FallbackQuality, cfg.Camera.FallbackLabel,
		logger.Named("fallback"),
	)
	registry := camera.NewRegistry(backends, fallback, regCfg, logger.Named("camera"))

	encoder := stream.NewEncoder(stream.EncoderConfig{
		SourceQuality: cfg.Camera.BaselineQuality,
		EnhanceBelow:  cfg.Stream.EnhanceBelow,
		CacheSize:     cfg.Stream.EncodeCacheSize,
		CacheTTL:      cfg.Stream.EncodeCacheTTL.Std(),
	}, logger.Named("encoder"))

	genCfg := stream.DefaultGeneratorConfig()
	genCfg.MinInterval = cfg.Stream.MinInterval.Std()
	genCfg.MissThreshold = cfg.Stream.MissThreshold
	genCfg.CleanupEvery = cfg.Stream.CleanupEvery
	generator := stream.NewGenerator(registry, encoder, genCfg, logger.Named("stream"))

	mosaic := stream.NewMosaicComposer(cfg.Stream.MosaicWidth, cfg.Stream.MosaicHeight, logger.Named("mosaic"))

	logger.Info("構成を組み立てました",
		zap.Strings("backends", names),
		zap.Bool("mock", mock),
		zap.Bool("auto_start", regCfg.AutoStart),
	)

	return New(cfg, registry, generator, mosaic, logger), nil
}

// registryConfig はカメラ設定をレジストリの設定に変換する
func registryConfig(cfg *config.Config) camera.RegistryConfig {
	c := cfg.Camera

	worker := camera.DefaultWorkerConfig()
	worker.Settings = camera.Settings{
		Width:      c.Width,
		Height:     c.Height,
		FPS:        c.FPS,
		BufferSize: c.BufferSize,
	}
	worker.BaselineQuality = c.BaselineQuality
	worker.FailureThreshold = c.FailureThreshold
	worker.RestartDelay = c.RestartDelay.Std()
	worker.MaxRestartDelay = c.MaxRestartDelay.Std()
	worker.ReadTimeout = c.ReadTimeout.Std()
	worker.StopTimeout = c.StopTimeout.Std()

	return camera.RegistryConfig{
		ProbeCount:          c.ProbeCount,
		CacheTTL:            c.CacheTTL.Std(),
		DiscoveryRetries:    c.DiscoveryRetries,
		DiscoveryRetryDelay: c.DiscoveryRetryDelay.Std(),
		RestartSettle:       c.RestartSettle.Std(),
		CleanupInterval:     c.CleanupInterval.Std(),
		AutoStart:           c.AutoStart,
		Worker:              worker,
		Namer:               camera.V4L2DeviceName,
	}
}

func mockNamer(_ context.Context, id int) string {
	return fmt.Sprintf("モックカメラ %d", id)
}
