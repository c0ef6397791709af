package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/chai2010/webp"
)

const (
	MaxImageSize = 10 * 1024 * 1024 // 10MB
	// MaxLogoSide bounds logo dimensions in pixels.
	MaxLogoSide = 2048
)

var (
	AllowedImageTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
	}
)

// ToWebP decodes a JPEG, PNG or WebP image and re-encodes it as lossy WebP.
func ToWebP(src io.Reader) (*bytes.Buffer, string, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, "", fmt.Errorf("could not decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > MaxLogoSide || b.Dy() > MaxLogoSide {
		return nil, "", fmt.Errorf("image is %dx%d, maximum is %dx%d", b.Dx(), b.Dy(), MaxLogoSide, MaxLogoSide)
	}

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, &webp.Options{Lossless: false, Quality: 85}); err != nil {
		return nil, "", fmt.Errorf("could not encode image: %w", err)
	}

	return buf, "image/webp", nil
}
