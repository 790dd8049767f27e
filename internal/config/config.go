package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv は設定ファイルのパスを指定する環境変数
const ConfigPathEnv = "ROBOCAM_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Camera CameraConfig `yaml:"camera" toml:"camera"`
	Stream StreamConfig `yaml:"stream" toml:"stream"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" toml:"host" validate:"required"`        // リッスンするホスト
	Port int    `yaml:"port" toml:"port" validate:"min=1,max=65535"` // リッスンするポート番号
	CORS string `yaml:"cors_allow_origin" toml:"cors_allow_origin"`  // Access-Control-Allow-Origin

	// タイムアウト設定
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout" validate:"gte=0"`         // 読み込みタイムアウト
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout" validate:"gte=0"`       // 書き込みタイムアウト
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gt=0"` // 停止待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 検出
	ProbeCount          int      `yaml:"probe_count" toml:"probe_count" validate:"min=1,max=64"`
	CacheTTL            Duration `yaml:"cache_ttl" toml:"cache_ttl" validate:"gte=0"`
	DiscoveryRetries    int      `yaml:"discovery_retries" toml:"discovery_retries" validate:"min=0,max=10"`
	DiscoveryRetryDelay Duration `yaml:"discovery_retry_delay" toml:"discovery_retry_delay" validate:"gte=0"`

	// キャプチャ設定
	Width           int     `yaml:"width" toml:"width" validate:"min=16,max=4096"`
	Height          int     `yaml:"height" toml:"height" validate:"min=16,max=4096"`
	FPS             float64 `yaml:"fps" toml:"fps" validate:"gt=0,lte=120"`
	BufferSize      int     `yaml:"buffer_size" toml:"buffer_size" validate:"min=1,max=32"`
	BaselineQuality int     `yaml:"baseline_quality" toml:"baseline_quality" validate:"min=10,max=100"`

	// 障害検知と復旧
	FailureThreshold int      `yaml:"failure_threshold" toml:"failure_threshold" validate:"min=1"`
	RestartDelay     Duration `yaml:"restart_delay" toml:"restart_delay" validate:"gt=0"`
	MaxRestartDelay  Duration `yaml:"max_restart_delay" toml:"max_restart_delay" validate:"gtefield=RestartDelay"`
	ReadTimeout      Duration `yaml:"read_timeout" toml:"read_timeout" validate:"gt=0"`
	StopTimeout      Duration `yaml:"stop_timeout" toml:"stop_timeout" validate:"gt=0"`
	RestartSettle    Duration `yaml:"restart_settle" toml:"restart_settle" validate:"gte=0"`
	CleanupInterval  Duration `yaml:"cleanup_interval" toml:"cleanup_interval" validate:"gt=0"`

	// キャプチャ戦略（試行順）
	Backends   []string `yaml:"backends" toml:"backends" validate:"min=1,dive,oneof=v4l2 auto v4l opencv mock"`
	FFmpegPath string   `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	AutoStart  bool     `yaml:"auto_start" toml:"auto_start"`

	// フォールバック画像
	FallbackLabel   string `yaml:"fallback_label" toml:"fallback_label"`
	FallbackQuality int    `yaml:"fallback_quality" toml:"fallback_quality" validate:"min=10,max=100"`
}

// StreamConfig はMJPEG配信の設定
type StreamConfig struct {
	DefaultQuality  int      `yaml:"default_quality" toml:"default_quality" validate:"min=10,max=100"`
	DefaultFPS      int      `yaml:"default_fps" toml:"default_fps" validate:"min=1,max=60"`
	MinInterval     Duration `yaml:"min_interval" toml:"min_interval" validate:"gt=0"`
	MissThreshold   int      `yaml:"miss_threshold" toml:"miss_threshold" validate:"min=1"`
	CleanupEvery    int      `yaml:"cleanup_every" toml:"cleanup_every" validate:"min=1"`
	EnhanceBelow    int      `yaml:"enhance_below" toml:"enhance_below" validate:"min=0,max=100"`
	EncodeCacheSize int      `yaml:"encode_cache_size" toml:"encode_cache_size" validate:"min=0"`
	EncodeCacheTTL  Duration `yaml:"encode_cache_ttl" toml:"encode_cache_ttl" validate:"gte=0"`
	SSEInterval     Duration `yaml:"sse_interval" toml:"sse_interval" validate:"gt=0"`
	MosaicWidth     int      `yaml:"mosaic_width" toml:"mosaic_width" validate:"min=64,max=8192"`
	MosaicHeight    int      `yaml:"mosaic_height" toml:"mosaic_height" validate:"min=64,max=8192"`
	Presets         []Preset `yaml:"presets" toml:"presets" validate:"dive"`
}

// Preset は配信品質のプリセット
type Preset struct {
	Name        string `yaml:"name" toml:"name" validate:"required"`
	Quality     int    `yaml:"quality" toml:"quality" validate:"min=1,max=100"`
	FPS         int    `yaml:"fps" toml:"fps" validate:"min=1,max=60"`
	Description string `yaml:"description" toml:"description"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORS:            "*",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Camera: CameraConfig{
			ProbeCount:          10,
			CacheTTL:            Duration(30 * time.Second),
			DiscoveryRetries:    0,
			DiscoveryRetryDelay: Duration(200 * time.Millisecond),
			Width:               640,
			Height:              480,
			FPS:                 30,
			BufferSize:          1,
			BaselineQuality:     85,
			FailureThreshold:    10,
			RestartDelay:        Duration(time.Second),
			MaxRestartDelay:     Duration(30 * time.Second),
			ReadTimeout:         Duration(2 * time.Second),
			StopTimeout:         Duration(3 * time.Second),
			RestartSettle:       Duration(500 * time.Millisecond),
			CleanupInterval:     Duration(5 * time.Second),
			Backends:            []string{"v4l2", "auto", "v4l"},
			FFmpegPath:          "ffmpeg",
			AutoStart:           true,
			FallbackLabel:       "CAMERA UNAVAILABLE",
			FallbackQuality:     80,
		},
		Stream: StreamConfig{
			DefaultQuality:  85,
			DefaultFPS:      30,
			MinInterval:     Duration(33 * time.Millisecond),
			MissThreshold:   50,
			CleanupEvery:    10,
			EnhanceBelow:    30,
			EncodeCacheSize: 64,
			EncodeCacheTTL:  Duration(2 * time.Second),
			SSEInterval:     Duration(100 * time.Millisecond),
			MosaicWidth:     1280,
			MosaicHeight:    720,
			Presets: []Preset{
				{Name: "ultra_low", Quality: 5, FPS: 10, Description: "超低品質（帯域節約）"},
				{Name: "low", Quality: 20, FPS: 30, Description: "低品質"},
				{Name: "medium", Quality: 50, FPS: 30, Description: "標準品質"},
				{Name: "high", Quality: 85, FPS: 60, Description: "高品質"},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル（ROBOCAM_CONFIG） → 環境変数 の順に上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile は指定されたファイルから設定を読み込む。pathが空ならデフォルト値を使う
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("未対応の設定ファイル形式: %s", path)
	}
	if err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// SERVER_HOST/PORT が優先、なければ CAMERA_SERVICE_* を見る
	c.Server.Host = getEnvOrDefault("SERVER_HOST", getEnvOrDefault("CAMERA_SERVICE_HOST", c.Server.Host))
	c.Server.Port = getEnvAsIntOrDefault("PORT", getEnvAsIntOrDefault("CAMERA_SERVICE_PORT", c.Server.Port))
	c.Log.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", c.Log.Level))

	if value := os.Getenv("CAMERA_BACKENDS"); value != "" {
		var backends []string
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				backends = append(backends, name)
			}
		}
		c.Camera.Backends = backends
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// フィールドをまたぐ検証
	if c.Stream.MinInterval.Std() > time.Second {
		return fmt.Errorf("最小送信間隔が長すぎます: %s", c.Stream.MinInterval)
	}
	seen := make(map[string]bool, len(c.Camera.Backends))
	for _, name := range c.Camera.Backends {
		if seen[name] {
			return fmt.Errorf("キャプチャ戦略が重複しています: %s", name)
		}
		seen[name] = true
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
