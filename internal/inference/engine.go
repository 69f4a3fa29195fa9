package inference

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

type Options struct {
	ConfidenceThreshold float64
	// Location define o "dia" da contagem diária de detecções.
	Location    *time.Location
	ModelName   string
	Device      string
	CallTimeout time.Duration
}

// Engine roda o backend e mantém contadores de desempenho.
type Engine struct {
	backend   Backend
	threshold float64
	loc       *time.Location
	model     string
	device    string
	timeout   time.Duration
	now       func() time.Time

	mu           sync.Mutex
	frames       uint64
	totalLatency time.Duration
	perDay       map[string]int
}

type Stats struct {
	Backend             string  `json:"backend"`
	Model               string  `json:"model"`
	Device              string  `json:"device"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Frames              uint64  `json:"total_inferences"`
	AvgLatencyMS        float64 `json:"avg_latency_ms"`
	AvgFPS              float64 `json:"fps_avg"`
	DetectionsToday     int     `json:"detections_today"`
}

// NewEngine carrega o backend; se o Load falhar, não existe Engine.
func NewEngine(ctx context.Context, backend Backend, opts Options) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nenhum backend configurado", ErrBackendUnavailable)
	}
	if opts.ConfidenceThreshold < 0 || opts.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold fora de [0,1]: %v", opts.ConfidenceThreshold)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}

	if err := backend.Load(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, backend.Name(), err)
	}
	log.Printf("[inference] backend %s carregado (model=%s device=%s threshold=%.2f)",
		backend.Name(), opts.ModelName, opts.Device, opts.ConfidenceThreshold)

	return &Engine{
		backend:   backend,
		threshold: opts.ConfidenceThreshold,
		loc:       opts.Location,
		model:     opts.ModelName,
		device:    opts.Device,
		timeout:   opts.CallTimeout,
		now:       time.Now,
		perDay:    make(map[string]int),
	}, nil
}

// Infer roda o backend num frame. Detecções abaixo do threshold são descartadas.
func (e *Engine) Infer(ctx context.Context, frame *core.Frame, cameraID string) (core.InferenceResult, error) {
	start := e.now()
	frameID := FrameID(cameraID, start, frameSeq(frame))

	raw, err := e.detect(ctx, frame)
	if err != nil {
		return core.InferenceResult{}, fmt.Errorf("inference %s: %w", frameID, err)
	}

	dets := make([]core.Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence < e.threshold {
			continue
		}
		dets = append(dets, d)
	}

	end := e.now()
	latency := end.Sub(start)
	violations := 0
	for _, d := range dets {
		if d.IsViolation {
			violations++
		}
	}

	e.mu.Lock()
	e.frames++
	e.totalLatency += latency
	e.perDay[dayKey(end, e.loc)] += violations
	e.mu.Unlock()

	return core.InferenceResult{
		Detections:         dets,
		FrameID:            frameID,
		Timestamp:          end.UTC(),
		InferenceLatencyMS: float64(latency.Microseconds()) / 1000.0,
		SafetyScore:        core.SafetyScore(dets),
	}, nil
}

// detect protege contra panic do backend e aplica timeout por chamada.
func (e *Engine) detect(ctx context.Context, frame *core.Frame) (dets []core.Detection, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[inference] panic no backend %s: %v\n%s", e.backend.Name(), r, string(debug.Stack()))
			err = fmt.Errorf("panic in backend %s: %v", e.backend.Name(), r)
		}
	}()
	return e.backend.Detect(ctx, frame)
}

// DetectZones gera exclusion_zone_breach para cada pessoa cujo centro da
// bbox cai dentro de uma zona do tipo exclusion.
func (e *Engine) DetectZones(dets []core.Detection, zones []core.Zone) []core.Detection {
	return DetectZones(dets, zones)
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Backend:             e.backend.Name(),
		Model:               e.model,
		Device:              e.device,
		ConfidenceThreshold: e.threshold,
		Frames:              e.frames,
		DetectionsToday:     e.perDay[dayKey(e.now(), e.loc)],
	}
	if e.frames > 0 {
		avg := e.totalLatency / time.Duration(e.frames)
		s.AvgLatencyMS = float64(avg.Microseconds()) / 1000.0
		if avg > 0 {
			s.AvgFPS = float64(time.Second) / float64(avg)
		}
	}
	return s
}

// FrameID = <camera>_<YYYYMMDD_HHMMSS_micro>_<seq>; prefixado pela câmera para
// nunca colidir entre câmeras.
func FrameID(cameraID string, ts time.Time, seq uint64) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s_%s_%06d_%d", cameraID, ts.Format("20060102_150405"), ts.Nanosecond()/1000, seq)
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func frameSeq(f *core.Frame) uint64 {
	if f == nil {
		return 0
	}
	return f.Seq
}
