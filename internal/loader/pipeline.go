package loader

import (
	"fmt"
	"image"

	apperrors "github.com/agbru/imgloader/internal/errors"
)

// Pipeline is an ordered composition of processors. The first failing stage
// short-circuits the remainder and yields no result. Two pipelines are
// equivalent iff their stages are pairwise equivalent in order.
type Pipeline struct {
	stages []Processor
}

// NewPipeline composes processors into a single Processor. Nil stages are
// skipped. A pipeline of zero stages is the identity.
func NewPipeline(stages ...Processor) *Pipeline {
	kept := make([]Processor, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Pipeline{stages: kept}
}

// Process runs every stage in order, feeding each stage the previous output.
func (p *Pipeline) Process(img image.Image) (image.Image, error) {
	cur := img
	for i, stage := range p.stages {
		out, err := stage.Process(cur)
		if err != nil {
			return nil, apperrors.ProcessingError{Stage: stageName(i, stage), Cause: err}
		}
		if out == nil {
			return nil, apperrors.ProcessingError{Stage: stageName(i, stage)}
		}
		cur = out
	}
	return cur, nil
}

// IsEquivalent reports pairwise-in-order equivalence with another pipeline.
// A pipeline is never equivalent to a bare processor, even when it wraps a
// single stage: the relation stays symmetric across the wrapper boundary.
func (p *Pipeline) IsEquivalent(other Processor) bool {
	o, ok := other.(*Pipeline)
	if !ok {
		return false
	}
	if len(p.stages) != len(o.stages) {
		return false
	}
	for i := range p.stages {
		if !p.stages[i].IsEquivalent(o.stages[i]) {
			return false
		}
	}
	return true
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

func stageName(i int, p Processor) string {
	return fmt.Sprintf("%d:%T", i, p)
}

// processorsEquivalent compares two optional processors, treating nil as the
// identity step.
func processorsEquivalent(a, b Processor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.IsEquivalent(b)
}

// DefaultDelegate is the in-core equivalence policy. Load-equivalence is
// address equality; cache-equivalence additionally requires matching
// decompression target, content mode and an equivalent processing chain.
// The cache-busting Token is ignored by both relations.
type DefaultDelegate struct{}

// IsLoadEquivalent reports whether a and b would fetch the same bytes.
func (DefaultDelegate) IsLoadEquivalent(a, b Request) bool {
	return a.URL == b.URL
}

// IsCacheEquivalent reports whether a and b would produce the same processed
// output.
func (DefaultDelegate) IsCacheEquivalent(a, b Request) bool {
	return a.URL == b.URL &&
		a.TargetSize == b.TargetSize &&
		a.Mode == b.Mode &&
		processorsEquivalent(a.Processor, b.Processor)
}

// ProcessorFor returns the request's own processing step, if any. The
// decoded image does not influence the default policy.
func (DefaultDelegate) ProcessorFor(req Request, _ image.Image) Processor {
	return req.Processor
}
