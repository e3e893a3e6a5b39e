package remotedesktop

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

// JPEGEncoder encodes captured frames for the relay.
type JPEGEncoder struct {
	quality int
	mu      sync.Mutex
}

// NewJPEGEncoder creates an encoder; quality is clamped to [1,100].
func NewJPEGEncoder(quality int) *JPEGEncoder {
	e := &JPEGEncoder{}
	e.SetQuality(quality)
	return e
}

// Encode encodes img as JPEG.
func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	e.mu.Lock()
	quality := e.quality
	e.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SetQuality updates the JPEG quality.
func (e *JPEGEncoder) SetQuality(quality int) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.quality = quality
}

// Quality returns the current JPEG quality.
func (e *JPEGEncoder) Quality() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// ScaleImage scales an image down by the given factor.
func ScaleImage(img *image.RGBA, scale float64) *image.RGBA {
	if scale >= 1.0 || scale <= 0 {
		return img
	}

	bounds := img.Bounds()
	newWidth := int(float64(bounds.Dx()) * scale)
	newHeight := int(float64(bounds.Dy()) * scale)

	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))

	// Nearest-neighbor keeps the capture loop cheap.
	xRatio := float64(bounds.Dx()) / float64(newWidth)
	yRatio := float64(bounds.Dy()) / float64(newHeight)

	for y := 0; y < newHeight; y++ {
		srcY := int(float64(y) * yRatio)
		for x := 0; x < newWidth; x++ {
			srcX := int(float64(x) * xRatio)
			scaled.SetRGBA(x, y, img.RGBAAt(srcX+bounds.Min.X, srcY+bounds.Min.Y))
		}
	}

	return scaled
}
