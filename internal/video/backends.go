package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/icza/mjpeg"
)

// vidioBackend pipes raw RGBA into ffmpeg through Vidio.
type vidioBackend struct {
	w      *vidio.VideoWriter
	width  int
	height int
	buf    []byte
}

func openVidio(path string, width, height, fps int, quality float64, codec string) (Backend, error) {
	options := vidio.Options{
		FPS:     float64(fps),
		Quality: quality,
		Codec:   codec,
	}
	w, err := vidio.NewVideoWriter(path, width, height, &options)
	if err != nil {
		return nil, fmt.Errorf("video: unable to initialize writer for %s: %w", path, err)
	}
	return &vidioBackend{w: w, width: width, height: height, buf: make([]byte, width*height*4)}, nil
}

func (b *vidioBackend) WriteFrame(img *image.RGBA) error {
	if err := pack(img, b.width, b.height, b.buf); err != nil {
		return err
	}
	return b.w.Write(b.buf)
}

func (b *vidioBackend) Close() error {
	b.w.Close()
	return nil
}

// mjpegBackend writes an AVI of JPEG frames.
type mjpegBackend struct {
	aw      mjpeg.AviWriter
	quality int
	buf     bytes.Buffer
}

func openMJPEG(path string, width, height, fps int, quality float64) (Backend, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("video: unable to create %s: %w", path, err)
	}
	q := int(quality * 100)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return &mjpegBackend{aw: aw, quality: q}, nil
}

func (b *mjpegBackend) WriteFrame(img *image.RGBA) error {
	b.buf.Reset()
	if err := jpeg.Encode(&b.buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return fmt.Errorf("video: jpeg encode: %w", err)
	}
	return b.aw.AddFrame(b.buf.Bytes())
}

func (b *mjpegBackend) Close() error {
	return b.aw.Close()
}

// pack copies the top-left width x height region of img into dst as tightly
// packed RGBA rows.
func pack(img *image.RGBA, width, height int, dst []byte) error {
	r := img.Bounds()
	if r.Dx() < width || r.Dy() < height {
		return fmt.Errorf("video: frame is %dx%d, encoder expects %dx%d", r.Dx(), r.Dy(), width, height)
	}
	row := width * 4
	for y := 0; y < height; y++ {
		src := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(dst[y*row:(y+1)*row], img.Pix[src:src+row])
	}
	return nil
}
