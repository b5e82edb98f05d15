package reference

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"soraq/pricing"

	"github.com/c2h5oh/datasize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var (
	ErrEmpty           = errors.New("reference image is empty")
	ErrUnsupportedType = errors.New("unsupported reference type")
	ErrTooLarge        = errors.New("reference image too large")
	ErrDecode          = errors.New("failed to decode reference image")
	ErrInvalidSize     = errors.New("invalid target size")
)

// Only still images are accepted. Video and document formats are rejected
// even when a client labels them as images.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

const (
	DefaultMaxSize = 10 * 1024 * 1024
	DefaultQuality = 95
	OutputType     = "image/jpeg"
)

// Preparer validates a reference image and re-encodes it at the exact pixel
// size the generation endpoint expects.
type Preparer struct {
	MaxSize int64
	Quality int
}

func NewPreparer(maxSize int64, quality int) *Preparer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Preparer{MaxSize: maxSize, Quality: quality}
}

// Validate checks the payload's type and size without decoding it.
// It returns the detected MIME type.
func (p *Preparer) Validate(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmpty
	}
	mtype := mimetype.Detect(payload).String()
	if !allowedTypes[mtype] {
		return mtype, fmt.Errorf("%w %q: only JPEG, PNG, or WebP images are accepted", ErrUnsupportedType, mtype)
	}
	if int64(len(payload)) > p.MaxSize {
		return mtype, fmt.Errorf("%w: %s exceeds the %s limit",
			ErrTooLarge,
			datasize.ByteSize(len(payload)).HumanReadable(),
			datasize.ByteSize(p.MaxSize).HumanReadable())
	}
	return mtype, nil
}

// Prepare stretches the image to exactly size ("WIDTHxHEIGHT") and returns it
// as a JPEG.
func (p *Preparer) Prepare(payload []byte, size string) ([]byte, error) {
	w, h, err := pricing.ParseSize(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}

	mtype, err := p.Validate(payload)
	if err != nil {
		return nil, err
	}

	src, err := decode(mtype, payload)
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrDecode, mtype, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, fmt.Errorf("encode reference image: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(mtype string, payload []byte) (image.Image, error) {
	r := bytes.NewReader(payload)
	switch mtype {
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/png":
		return png.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("no decoder for %s", mtype)
}

// ReadLimited reads at most max bytes from r and fails with ErrTooLarge if
// the stream is longer.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	limited := &io.LimitedReader{R: r, N: max + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: exceeds the %s limit", ErrTooLarge, datasize.ByteSize(max).HumanReadable())
	}
	return data, nil
}
