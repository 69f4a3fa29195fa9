// Package redact borra regiões identificáveis (rostos) antes de a evidência
// ser gravada. Nunca altera o frame recebido.
package redact

import (
	"context"
	"fmt"
	"image"

	"github.com/sua-org/edge-agent/internal/core"
)

const DefaultStrength = 30

type Redactor struct {
	strength int
	detector RegionDetector
}

// New: strength <= 0 usa DefaultStrength; detector nil vira NoopDetector.
func New(strength int, detector RegionDetector) *Redactor {
	if strength <= 0 {
		strength = DefaultStrength
	}
	if detector == nil {
		detector = NoopDetector{}
	}
	return &Redactor{strength: strength, detector: detector}
}

func (r *Redactor) Strength() int { return r.strength }

// Redact devolve uma cópia do frame com as regiões borradas. Com regions nil
// roda o detector antes. Regiões fora do frame são ignoradas, as que cruzam a
// borda são recortadas.
func (r *Redactor) Redact(ctx context.Context, frame *core.Frame, regions []image.Rectangle) (*core.Frame, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("redact: frame sem imagem")
	}
	if regions == nil {
		found, err := r.detector.DetectRegions(ctx, frame.Image)
		if err != nil {
			return nil, fmt.Errorf("redact: detecção de regiões: %w", err)
		}
		regions = found
	}

	out := frame.Clone()
	bounds := out.Image.Bounds()
	blurred := 0
	for _, reg := range regions {
		clip := reg.Canon().Intersect(bounds)
		if clip.Empty() {
			continue
		}
		boxBlur(out.Image, clip, r.radius(clip))
		blurred++
	}
	if blurred > 0 {
		// o JPEG original já não corresponde aos pixels
		out.Data = nil
	}
	return out, nil
}

// BlurRegions é Redact com regiões explícitas.
func (r *Redactor) BlurRegions(ctx context.Context, frame *core.Frame, regions []image.Rectangle) (*core.Frame, error) {
	if regions == nil {
		regions = []image.Rectangle{}
	}
	return r.Redact(ctx, frame, regions)
}

// radius cresce com strength mas nunca passa do tamanho da região.
func (r *Redactor) radius(reg image.Rectangle) int {
	rad := r.strength / 2
	if m := maxInt(reg.Dx(), reg.Dy()); rad > m {
		rad = m
	}
	if rad < 1 {
		rad = 1
	}
	return rad
}
