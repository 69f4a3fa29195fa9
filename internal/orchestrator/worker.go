package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/source"
)

// run é o loop do worker. Erro ou panic num ciclo vira state.error + backoff;
// o loop só termina pelo ctx.
func (m *Manager) run(ctx context.Context, cam *camera, done chan struct{}) {
	defer close(done)
	id := cam.cfg.CameraID
	interval := time.Duration(float64(time.Second) / cam.cfg.TargetFPS)

	var src source.Source
	defer func() {
		if src != nil {
			_ = src.Close()
		}
		log.Printf("[worker %s] encerrado", id)
	}()

	for ctx.Err() == nil {
		if src == nil {
			s, err := m.deps.OpenSource(cam.cfg)
			if err != nil {
				m.recordError(cam, fmt.Errorf("abrir fonte: %w", err))
				sleepCtx(ctx, m.backoff)
				continue
			}
			src = s
		}

		started := time.Now()
		err := m.safeCycle(ctx, cam, src)
		switch {
		case err == nil:
			m.recordSuccess(cam)
			sleepCtx(ctx, interval-time.Since(started))
		case errors.Is(err, source.ErrNoFrame):
			sleepCtx(ctx, m.idle)
		case ctx.Err() != nil:
			return
		default:
			m.recordError(cam, err)
			if errors.Is(err, source.ErrClosed) {
				_ = src.Close()
				src = nil
			}
			sleepCtx(ctx, m.backoff)
		}
	}
}

// safeCycle transforma panic em erro com stack.
func (m *Manager) safeCycle(ctx context.Context, cam *camera, src source.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(fmt.Sprintf("panic no ciclo de %s: %v", cam.cfg.CameraID, r))
			log.Printf("[worker %s] %v", cam.cfg.CameraID, err)
		}
	}()
	return m.cycle(ctx, cam, src)
}

func (m *Manager) cycle(ctx context.Context, cam *camera, src source.Source) error {
	frame, err := src.Next(ctx)
	if err != nil {
		return err
	}
	id := cam.cfg.CameraID

	res, err := m.deps.Inference.Infer(ctx, frame, id)
	if err != nil {
		return err
	}

	cam.mu.Lock()
	zones := cam.zones
	cam.mu.Unlock()
	if len(zones) > 0 {
		res.AppendDetections(m.deps.Inference.DetectZones(res.Detections, zones)...)
	}

	violations := core.ViolationsFrom(res.Detections)
	if len(violations) == 0 {
		return nil
	}
	cam.mu.Lock()
	cam.violations++
	cam.mu.Unlock()

	return m.handleViolations(ctx, cam, frame, res, violations)
}

// handleViolations: redação -> evidência -> upload -> alerta, nessa ordem,
// dentro do worker da câmera (mantém a ordem dos alertas por câmera).
func (m *Manager) handleViolations(ctx context.Context, cam *camera, frame *core.Frame, res core.InferenceResult, violations []core.Violation) error {
	id := cam.cfg.CameraID
	detectionID := res.FrameID

	out := frame
	redacted := false
	if m.deps.Redactor != nil {
		r, err := m.deps.Redactor.Redact(ctx, frame, nil)
		if err != nil {
			return fmt.Errorf("redação de %s: %w", detectionID, err)
		}
		out, redacted = r, true
	}

	img := out.Data
	if len(img) == 0 {
		var err error
		img, err = out.EncodeJPEG(m.deps.JPEGQuality)
		if err != nil {
			return fmt.Errorf("jpeg de %s: %w", detectionID, err)
		}
	}

	path, err := m.deps.Evidence.Save(img, id, detectionID, evidence.Metadata{
		SiteID:      cam.cfg.SiteID,
		Timestamp:   res.Timestamp,
		Violations:  violations,
		SafetyScore: res.SafetyScore,
	}, redacted)
	if err != nil {
		return fmt.Errorf("salvar evidência %s: %w", detectionID, err)
	}
	log.Printf("[worker %s] evidência %s (%d violações, score=%.0f) -> %s", id, detectionID, len(violations), res.SafetyScore, path)

	if m.deps.Uploader != nil {
		if err := m.deps.Uploader.UploadEvidence(ctx, detectionID); err != nil {
			// o marcador pending_sync garante o reenvio no próximo startup
			log.Printf("[worker %s] erro agendando upload de %s: %v", id, detectionID, err)
		}
	}

	if m.deps.Alerts == nil {
		return nil
	}
	accepted, err := m.deps.Alerts.Submit(ctx, alerts.Request{
		DetectionID: detectionID,
		CameraID:    id,
		SiteID:      cam.cfg.SiteID,
		Violations:  violations,
		Severity:    core.MaxSeverity(violations),
		Timestamp:   res.Timestamp,
	})
	if accepted {
		cam.mu.Lock()
		cam.alerts++
		cam.mu.Unlock()
	}
	if err != nil {
		log.Printf("[worker %s] erro entregando alerta de %s: %v", id, detectionID, err)
	}
	return nil
}

func (m *Manager) recordSuccess(cam *camera) {
	now := time.Now()
	cam.mu.Lock()
	defer cam.mu.Unlock()

	if !cam.state.LastFrameAt.IsZero() {
		if dt := now.Sub(cam.state.LastFrameAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if cam.state.ObservedFPS == 0 {
				cam.state.ObservedFPS = inst
			} else {
				cam.state.ObservedFPS = 0.8*cam.state.ObservedFPS + 0.2*inst
			}
		}
	}
	cam.state.LastFrameAt = now.UTC()
	cam.state.Error = ""
	cam.frames++
}

func (m *Manager) recordError(cam *camera, err error) {
	cam.mu.Lock()
	changed := cam.state.Error != err.Error()
	cam.state.Error = err.Error()
	cam.mu.Unlock()
	if changed {
		log.Printf("[worker %s] erro: %v", cam.cfg.CameraID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
