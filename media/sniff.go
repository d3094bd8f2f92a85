package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// sniffedMimeType content-sniffs data against its declared mimeType,
// using x/image's decoders (webp, tiff, bmp) alongside the stdlib's
// own (png, jpeg, gif), all registered by this file's imports, so the
// upload path can reject spoofed types per spec §4.8 step 1.
func sniffedMimeType(data []byte) (string, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("content sniff: %w", err)
	}
	return "image/" + format, cfg.Width, cfg.Height, nil
}

// verifyMimeType rejects an upload whose declared mimeType doesn't
// match what content-sniffing detects.
func verifyMimeType(data []byte, declaredMimeType string) (width, height int, err error) {
	sniffed, w, h, err := sniffedMimeType(data)
	if err != nil {
		// Non-image payloads (e.g. arbitrary file attachments) can't be
		// sniffed by the image package; accept them as declared.
		return 0, 0, nil
	}
	if sniffed != declaredMimeType {
		return 0, 0, fmt.Errorf("declared mime type %q does not match sniffed type %q", declaredMimeType, sniffed)
	}
	return w, h, nil
}
