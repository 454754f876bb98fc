// Package codec decodes and encodes the raster formats accepted by the
// pipeline: JPEG, PNG and WebP.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp"

	"github.com/photoprep/photoprep/pkg/fault"
)

// Decode decodes an image from raw bytes and reports the detected format.
// WebP is attempted explicitly when the registered decoders fail.
func Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}

	return nil, "", fault.New(fault.KindProcessing, "decode_failed",
		"image data is in an unknown or unsupported format")
}

// Encode re-encodes an image into the requested output format. Quality is
// only meaningful for jpeg and webp.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch strings.ToLower(format) {
	case "png":
		err = png.Encode(&buf, img)
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case "jpg", "jpeg", "":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	default:
		return nil, fault.Newf(fault.KindProcessing, "unsupported_output",
			"unsupported output format %q", format)
	}
	if err != nil {
		return nil, fault.New(fault.KindProcessing, "encode_failed",
			fmt.Sprintf("failed to encode %s: %v", format, err))
	}
	return buf.Bytes(), nil
}
