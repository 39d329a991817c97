package images

import (
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

var (
	// ErrInvalidFormat is returned when the upload is not a supported image
	ErrInvalidFormat = errors.New("invalid image format")
	// ErrDecode is returned when a sniffed image cannot be decoded
	ErrDecode = errors.New("image decode error")
)

// Format is a supported input container
type Format struct {
	Name         string
	MIME         string
	Decode       func(io.Reader) (image.Image, error)
	DecodeConfig func(io.Reader) (image.Config, error)
}

var formats = []Format{
	{Name: "jpeg", MIME: "image/jpeg", Decode: jpeg.Decode, DecodeConfig: jpeg.DecodeConfig},
	{Name: "png", MIME: "image/png", Decode: png.Decode, DecodeConfig: png.DecodeConfig},
	{Name: "gif", MIME: "image/gif", Decode: gif.Decode, DecodeConfig: gif.DecodeConfig},
	{Name: "webp", MIME: "image/webp", Decode: webp.Decode, DecodeConfig: webp.DecodeConfig},
	{Name: "bmp", MIME: "image/bmp", Decode: bmp.Decode, DecodeConfig: bmp.DecodeConfig},
	{Name: "tiff", MIME: "image/tiff", Decode: tiff.Decode, DecodeConfig: tiff.DecodeConfig},
}

// Sniff detects the image format from the first bytes of an upload
func Sniff(prefix []byte) (Format, error) {
	mt := mimetype.Detect(prefix)
	for _, f := range formats {
		if mt.Is(f.MIME) {
			return f, nil
		}
	}
	return Format{}, ErrInvalidFormat
}
