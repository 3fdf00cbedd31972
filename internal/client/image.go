package client

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxImageSide bounds the longest side of an attached image.
const MaxImageSide = 1536

// PrepareImage loads the image at path, shrinks it to fit MaxImageSide and
// returns the encoded bytes with their MIME type. PNG and GIF are re-encoded
// as PNG, everything else as JPEG.
func PrepareImage(path string) ([]byte, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	mimeType := http.DetectContentType(raw)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%s is not an image (%s)", filepath.Base(path), mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	b := img.Bounds()
	if b.Dx() <= MaxImageSide && b.Dy() <= MaxImageSide && (mimeType == "image/png" || mimeType == "image/jpeg") {
		return raw, mimeType, nil
	}

	var resized image.Image = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)

	format, outType := imaging.JPEG, "image/jpeg"
	if mimeType == "image/png" || mimeType == "image/gif" {
		format, outType = imaging.PNG, "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return buf.Bytes(), outType, nil
}
