//go:build !linux

package camera

import "strconv"

// Linux以外ではffmpeg経由の戦略のみ
func registerPlatformBackends(_ *BackendFactory) {}

func ffmpegInputArgs(deviceID int) []string {
	return []string{"-f", "avfoundation", "-i", strconv.Itoa(deviceID)}
}

func checkDeviceNode(_ int) error {
	return nil
}
