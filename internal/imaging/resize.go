package imaging

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/agbru/imgloader/internal/loader"
)

// Verify interface compliance.
var _ loader.Processor = (*Resize)(nil)

// Resize scales an image to a target size with the given content mode.
// AspectFit scales down to fit entirely within the target; AspectFill scales
// to cover the target and center-crops the overflow. Images already within
// the target are returned unchanged: decompression never upscales.
type Resize struct {
	Target loader.Size
	Mode   loader.ContentMode

	// Scaler selects the interpolation kernel. Defaults to CatmullRom.
	Scaler draw.Scaler
}

// NewResize creates a resize step for the target size and mode.
func NewResize(target loader.Size, mode loader.ContentMode) *Resize {
	return &Resize{Target: target, Mode: mode}
}

// Process returns the resized image.
func (r *Resize) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, errors.New("imaging: nil image")
	}
	if r.Target.IsZero() {
		return img, nil
	}
	src := img.Bounds()
	if src.Dx() <= 0 || src.Dy() <= 0 {
		return nil, errors.New("imaging: empty source bounds")
	}

	var scale float64
	sx := float64(r.Target.Width) / float64(src.Dx())
	sy := float64(r.Target.Height) / float64(src.Dy())
	if r.Mode == loader.ContentModeAspectFill {
		scale = max(sx, sy)
	} else {
		scale = min(sx, sy)
	}
	if scale >= 1 {
		return img, nil
	}

	dw := int(float64(src.Dx())*scale + 0.5)
	dh := int(float64(src.Dy())*scale + 0.5)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	scaler := r.Scaler
	if scaler == nil {
		scaler = draw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	scaler.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)

	if r.Mode != loader.ContentModeAspectFill {
		return dst, nil
	}

	// Center-crop the overflow down to the target.
	cw, ch := r.Target.Width, r.Target.Height
	if cw > dw {
		cw = dw
	}
	if ch > dh {
		ch = dh
	}
	x0 := (dw - cw) / 2
	y0 := (dh - ch) / 2
	return dst.SubImage(image.Rect(x0, y0, x0+cw, y0+ch)), nil
}

// IsEquivalent reports whether another processor is a Resize with the same
// target and mode.
func (r *Resize) IsEquivalent(other loader.Processor) bool {
	o, ok := other.(*Resize)
	return ok && o.Target == r.Target && o.Mode == r.Mode
}

// String returns a stable identity used for cache keying.
func (r *Resize) String() string {
	return fmt.Sprintf("resize:%dx%d:m%d", r.Target.Width, r.Target.Height, r.Mode)
}
