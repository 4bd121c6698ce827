package capture

import (
	"bytes"
	"image"
)

const defaultBlockSize = 64

// ChangeDetector compares each screen capture against the previous one block by block.
type ChangeDetector struct {
	blockSize int
	prev      *image.RGBA
}

func NewChangeDetector(blockSize int) *ChangeDetector {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &ChangeDetector{blockSize: blockSize}
}

// DirtyRects returns the blocks of img that differ from the previous image and
// remembers img for the next call. The first image, or one whose bounds changed,
// is dirty as a whole.
func (d *ChangeDetector) DirtyRects(img *image.RGBA) []image.Rectangle {
	prev := d.prev
	d.prev = img
	if img == nil {
		return nil
	}
	bounds := img.Bounds()
	if prev == nil || prev.Bounds() != bounds {
		return []image.Rectangle{bounds}
	}

	var dirty []image.Rectangle
	for y := bounds.Min.Y; y < bounds.Max.Y; y += d.blockSize {
		for x := bounds.Min.X; x < bounds.Max.X; x += d.blockSize {
			block := image.Rect(x, y, x+d.blockSize, y+d.blockSize).Intersect(bounds)
			if !blockEqual(prev, img, block) {
				dirty = append(dirty, block)
			}
		}
	}
	return dirty
}

// Changed reports whether img differs from the previous image.
func (d *ChangeDetector) Changed(img *image.RGBA) bool {
	return len(d.DirtyRects(img)) > 0
}

// Reset forgets the previous image.
func (d *ChangeDetector) Reset() {
	d.prev = nil
}

func blockEqual(a, b *image.RGBA, r image.Rectangle) bool {
	width := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ao := a.PixOffset(r.Min.X, y)
		bo := b.PixOffset(r.Min.X, y)
		if !bytes.Equal(a.Pix[ao:ao+width], b.Pix[bo:bo+width]) {
			return false
		}
	}
	return true
}
