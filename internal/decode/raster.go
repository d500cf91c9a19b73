package decode

import (
	"bytes"
	"fmt"

	"github.com/cshum/vipsgen/vips"
)

// VipsDecoder decodes raster tile bytes through libvips. The output is
// always RGBA: an alpha band is appended when the source lacks one.
type VipsDecoder struct{}

func NewVipsDecoder() *VipsDecoder { return &VipsDecoder{} }

func (d *VipsDecoder) Decode(data []byte) (Payload, error) {
	image, err := loadBuffer(data)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer image.Close()

	if image.Bands() < 4 {
		if err := image.Addalpha(); err != nil {
			return nil, &Error{Err: fmt.Errorf("failed to add alpha: %w", err)}
		}
	}

	pix, err := image.RawsaveBuffer(vips.DefaultRawsaveBufferOptions())
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to export pixels: %w", err)}
	}

	return &Pixmap{
		Width:    image.Width(),
		Height:   image.Height(),
		Channels: 4,
		Pix:      pix,
	}, nil
}

// loadBuffer picks the vips loader by magic bytes
func loadBuffer(data []byte) (*vips.Image, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return vips.NewJpegloadBuffer(data, vips.DefaultJpegloadBufferOptions())
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return vips.NewPngloadBuffer(data, vips.DefaultPngloadBufferOptions())
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return vips.NewWebploadBuffer(data, vips.DefaultWebploadBufferOptions())
	case bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")):
		return vips.NewTiffloadBuffer(data, vips.DefaultTiffloadBufferOptions())
	default:
		return nil, fmt.Errorf("unsupported raster format")
	}
}
