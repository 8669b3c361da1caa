package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// EncodePNG renders the token's payload as a PNG image of the given pixel
// size for the lecturer-side display.
func EncodePNG(t *Token, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(t.Payload(), qrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}
