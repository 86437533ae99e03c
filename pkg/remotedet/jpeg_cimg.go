//go:build cimg

package remotedet

import (
	"image"

	"github.com/bmharper/cimg/v2"
)

// JPEGEncoder is the library that encodes frames before they go over the wire
const JPEGEncoder = "libjpeg-turbo"

func encodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	b := img.Bounds()
	pix := img.Pix[img.PixOffset(b.Min.X, b.Min.Y):]
	wrapped := cimg.WrapImageStrided(b.Dx(), b.Dy(), cimg.PixelFormatRGBA, pix, img.Stride)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
