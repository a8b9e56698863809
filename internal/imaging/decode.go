package imaging

import (
	"bytes"
	"errors"
	"image"

	// Registered decode formats: stdlib plus the x/image extras.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/agbru/imgloader/internal/loader"
)

// Verify interface compliance.
var _ loader.Decoder = (*Decoder)(nil)

// ErrEmptyPayload is returned when the fetched payload has no bytes.
var ErrEmptyPayload = errors.New("imaging: empty payload")

// Decoder decodes raw bytes using the registered image formats (GIF, JPEG,
// PNG, BMP, TIFF, WebP). Decoding is pure; the loader's decode stage cap of
// 1 serializes calls, so no internal locking is needed even for formats with
// non-reentrant decode paths.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode returns the decoded image or an error for empty or unrecognized
// payloads.
func (*Decoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}
