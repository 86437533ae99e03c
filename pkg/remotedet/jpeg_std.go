//go:build !cimg

package remotedet

import (
	"bytes"
	"image"
	"image/jpeg"
)

// JPEGEncoder is the library that encodes frames before they go over the wire.
// Build with -tags cimg to use libjpeg-turbo.
const JPEGEncoder = "image/jpeg"

func encodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
