package stream

import (
	"fmt"
	"io"
)

// Boundary はパートの区切り文字列
const Boundary = "frame"

// ContentType はMJPEG配信のContent-Type
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// WritePart は1枚のJPEGをmultipartのパートとして書き込む
func WritePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
