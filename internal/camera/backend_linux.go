//go:build linux

package camera

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func registerPlatformBackends(f *BackendFactory) {
	f.Register("v4l2", func(opts BackendOptions) Backend {
		return NewV4L2Backend(opts.Logger)
	})
	f.Register("v4l", func(opts BackendOptions) Backend {
		return NewLegacyV4LBackend(opts.Logger)
	})
}

func ffmpegInputArgs(deviceID int) []string {
	return []string{"-f", "v4l2", "-i", DevicePath(deviceID)}
}

// checkDeviceNode はデバイスファイルが読み書きできるか確認する
// 存在しないIDを開こうとしてドライバを待たせないための事前確認
func checkDeviceNode(deviceID int) error {
	path := DevicePath(deviceID)
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("デバイスにアクセスできません: %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("デバイス情報の取得に失敗: %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return fmt.Errorf("キャラクタデバイスではありません: %s", path)
	}
	return nil
}
