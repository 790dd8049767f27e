package config

import (
	"fmt"
	"time"
)

// Duration は "500ms" や "30s" 形式で記述できる時間設定
// YAML/TOML どちらの設定ファイルでも同じ書式で読める
type Duration time.Duration

// Std は time.Duration に変換する
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText は encoding.TextMarshaler の実装
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText は encoding.TextUnmarshaler の実装
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("時間の形式が不正です: %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}
