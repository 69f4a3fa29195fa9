package inference

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

// SimulatedBackend gera detecções plausíveis sem modelo: sempre uma pessoa,
// e com alguma chance no_hardhat / no_safety_vest. Serve para dev e demo.
type SimulatedBackend struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated aceita seed 0 para usar o relógio.
func NewSimulated(seed int64) *SimulatedBackend {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedBackend{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedBackend) Name() string { return "simulated" }

func (s *SimulatedBackend) Load(ctx context.Context) error { return nil }

func (s *SimulatedBackend) Detect(ctx context.Context, frame *core.Frame) ([]core.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := frame.Width(), frame.Height()
	if w == 0 || h == 0 {
		w, h = 1280, 720
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	person := core.Box{
		X1: s.between(100, w/2),
		Y1: s.between(50, h/3),
		X2: s.between(w/2, w-100),
		Y2: s.between(h/2, h-50),
	}
	dets := []core.Detection{{
		ClassName:  core.ClassPerson,
		Confidence: 0.95 + s.rng.Float64()*0.04,
		BBox:       person,
		Severity:   core.SeverityLow,
	}}

	if s.rng.Float64() > 0.7 {
		dets = append(dets, s.violation("no_hardhat", 0.88+s.rng.Float64()*0.10,
			core.Box{X1: person.X1 + 10, Y1: person.Y1, X2: person.X1 + 80, Y2: person.Y1 + 60}))
	}
	if s.rng.Float64() > 0.8 {
		dets = append(dets, s.violation("no_safety_vest", 0.85+s.rng.Float64()*0.12,
			core.Box{X1: person.X1, Y1: person.Y1 + 60, X2: person.X2, Y2: person.Y2 - 100}))
	}
	return dets, nil
}

func (s *SimulatedBackend) violation(class string, conf float64, box core.Box) core.Detection {
	_, sev := core.Classify(class)
	return core.Detection{ClassName: class, Confidence: conf, BBox: box, IsViolation: true, Severity: sev}
}

// between é inclusivo nos dois lados; intervalo vazio devolve lo.
func (s *SimulatedBackend) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}

// StaticBackend devolve sempre as mesmas detecções (testes e replays).
type StaticBackend struct {
	Detections []core.Detection
	Err        error
	LoadErr    error
}

func (b *StaticBackend) Name() string { return "static" }

func (b *StaticBackend) Load(ctx context.Context) error { return b.LoadErr }

func (b *StaticBackend) Detect(ctx context.Context, frame *core.Frame) ([]core.Detection, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	out := make([]core.Detection, len(b.Detections))
	copy(out, b.Detections)
	return out, nil
}
