package imaging

import (
	"image"

	"github.com/agbru/imgloader/internal/loader"
)

// Verify interface compliance.
var _ loader.Delegate = Delegate{}

// Delegate is the standard equivalence and processing policy. Equivalence
// follows loader.DefaultDelegate (address equality for load-equivalence;
// address, target, mode and processor chain for cache-equivalence); the
// processing policy composes the resize implied by the request's target size
// with the request's own processor.
type Delegate struct {
	loader.DefaultDelegate
}

// ProcessorFor returns the processing chain for the request: a resize step
// when a target size is set, followed by the request's processor. The
// resize step is elided when it would return the decoded image unchanged.
func (Delegate) ProcessorFor(req loader.Request, img image.Image) loader.Processor {
	var resize loader.Processor
	if !req.TargetSize.IsZero() && !fitsWithin(img, req.TargetSize, req.Mode) {
		resize = NewResize(req.TargetSize, req.Mode)
	}
	switch {
	case resize != nil && req.Processor != nil:
		return loader.NewPipeline(resize, req.Processor)
	case resize != nil:
		return resize
	default:
		return req.Processor
	}
}

// fitsWithin mirrors the identity condition of Resize.Process: a scale
// factor of 1 or more means the step would return the image unchanged.
func fitsWithin(img image.Image, target loader.Size, mode loader.ContentMode) bool {
	if img == nil {
		return false
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return false
	}
	sx := float64(target.Width) / float64(b.Dx())
	sy := float64(target.Height) / float64(b.Dy())
	if mode == loader.ContentModeAspectFill {
		return max(sx, sy) >= 1
	}
	return min(sx, sy) >= 1
}
