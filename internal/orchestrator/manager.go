// Package orchestrator mantém um worker por câmera: frame -> inferência ->
// zonas -> (violação) redação -> evidência -> alerta.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/source"
)

var (
	ErrCameraExists   = errors.New("camera already exists")
	ErrCameraNotFound = errors.New("camera not found")
	ErrInvalidCamera  = errors.New("invalid camera config")
)

const (
	defaultFPS     = 5.0
	idleSleep      = 100 * time.Millisecond
	errorBackoff   = time.Second
	defaultQuality = 90
)

type Manager struct {
	deps Deps

	idle    time.Duration
	backoff time.Duration

	mu      sync.Mutex
	cameras map[string]*camera
}

// camera é a entrada da arena: config imutável, estado de runtime e o handle
// do worker (cancel + done) quando está rodando.
type camera struct {
	cfg core.CameraConfig

	mu         sync.Mutex
	zones      []core.Zone
	state      core.CameraRuntimeState
	frames     uint64
	violations uint64
	alerts     uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(deps Deps) *Manager {
	if deps.OpenSource == nil {
		deps.OpenSource = source.Open
	}
	if deps.ValidateSource == nil {
		deps.ValidateSource = source.Validate
	}
	if deps.JPEGQuality <= 0 || deps.JPEGQuality > 100 {
		deps.JPEGQuality = defaultQuality
	}
	return &Manager{
		deps:    deps,
		idle:    idleSleep,
		backoff: errorBackoff,
		cameras: make(map[string]*camera),
	}
}

func (m *Manager) validate(cfg *core.CameraConfig) error {
	cfg.CameraID = strings.TrimSpace(cfg.CameraID)
	if cfg.CameraID == "" {
		return fmt.Errorf("%w: camera_id obrigatório", ErrInvalidCamera)
	}
	if strings.ContainsAny(cfg.CameraID, `/\ `) || cfg.CameraID == "." || cfg.CameraID == ".." {
		return fmt.Errorf("%w: camera_id %q inválido", ErrInvalidCamera, cfg.CameraID)
	}
	if cfg.TargetFPS < 0 {
		return fmt.Errorf("%w: fps negativo", ErrInvalidCamera)
	}
	if cfg.TargetFPS == 0 {
		cfg.TargetFPS = defaultFPS
	}
	if cfg.SiteID == "" {
		cfg.SiteID = m.deps.SiteID
	}
	if cfg.Name == "" {
		cfg.Name = cfg.CameraID
	}
	if err := m.deps.ValidateSource(cfg.SourceLocator); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCamera, err)
	}
	return nil
}

// Add registra a câmera e, se enabled, já sobe o worker. Id repetido é erro
// e não mexe na câmera existente.
func (m *Manager) Add(cfg core.CameraConfig, zones []core.Zone) error {
	if err := m.validate(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[cfg.CameraID]; ok {
		return fmt.Errorf("%w: %s", ErrCameraExists, cfg.CameraID)
	}
	cam := &camera{cfg: cfg, zones: append([]core.Zone(nil), zones...)}
	m.cameras[cfg.CameraID] = cam
	log.Printf("[orchestrator] câmera %s registrada (%s, fps=%.1f, zonas=%d)", cfg.CameraID, cfg.Name, cfg.TargetFPS, len(zones))

	if cfg.Enabled {
		m.startLocked(cam)
	}
	return nil
}

// Start é idempotente; só câmera desconhecida é erro.
func (m *Manager) Start(cameraID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cam, ok := m.cameras[cameraID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	m.startLocked(cam)
	return nil
}

func (m *Manager) startLocked(cam *camera) {
	if cam.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	cam.cancel = cancel
	cam.done = done

	cam.mu.Lock()
	cam.state.IsRunning = true
	cam.state.Error = ""
	cam.mu.Unlock()

	log.Printf("[orchestrator] iniciando worker %s", cam.cfg.CameraID)
	go m.run(ctx, cam, done)
}

// Stop espera o worker sair. Câmera parada ou desconhecida: no-op.
func (m *Manager) Stop(cameraID string) error {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	done := m.stopLocked(cam)
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

func (m *Manager) stopLocked(cam *camera) chan struct{} {
	if cam.cancel == nil {
		return nil
	}
	log.Printf("[orchestrator] parando worker %s", cam.cfg.CameraID)
	cam.cancel()
	done := cam.done
	cam.cancel, cam.done = nil, nil

	cam.mu.Lock()
	cam.state.IsRunning = false
	cam.state.ObservedFPS = 0
	cam.mu.Unlock()
	return done
}

// Remove para e apaga a câmera.
func (m *Manager) Remove(cameraID string) error {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	done := m.stopLocked(cam)
	delete(m.cameras, cameraID)
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	log.Printf("[orchestrator] câmera %s removida", cameraID)
	return nil
}

// StopAll para todos os workers e só volta quando todos saíram.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var waits []chan struct{}
	for _, cam := range m.cameras {
		if done := m.stopLocked(cam); done != nil {
			waits = append(waits, done)
		}
	}
	m.mu.Unlock()

	for _, done := range waits {
		<-done
	}
	log.Printf("[orchestrator] %d workers parados", len(waits))
}

// SetZones troca os polígonos da câmera; vale a partir do próximo frame.
func (m *Manager) SetZones(cameraID string, zones []core.Zone) error {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	cam.mu.Lock()
	cam.zones = append([]core.Zone(nil), zones...)
	cam.mu.Unlock()
	return nil
}

type CameraStatus struct {
	core.CameraConfig
	core.CameraRuntimeState
	Zones      int    `json:"zones"`
	Frames     uint64 `json:"frames_processed"`
	Violations uint64 `json:"violations"`
	Alerts     uint64 `json:"alerts"`
}

func (m *Manager) Status(cameraID string) (CameraStatus, error) {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	m.mu.Unlock()
	if !ok {
		return CameraStatus{}, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	return cam.snapshot(), nil
}

func (m *Manager) List() []CameraStatus {
	m.mu.Lock()
	cams := make([]*camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		cams = append(cams, c)
	}
	m.mu.Unlock()

	out := make([]CameraStatus, 0, len(cams))
	for _, c := range cams {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

type Counts struct {
	Configured int `json:"configured"`
	Active     int `json:"active"`
	Errors     int `json:"errors"`
}

func (m *Manager) Counts() Counts {
	var c Counts
	for _, s := range m.List() {
		c.Configured++
		if s.IsRunning {
			c.Active++
		}
		if s.Error != "" {
			c.Errors++
		}
	}
	return c
}

func (c *camera) snapshot() CameraStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CameraStatus{
		CameraConfig:       c.cfg,
		CameraRuntimeState: c.state,
		Zones:              len(c.zones),
		Frames:             c.frames,
		Violations:         c.violations,
		Alerts:             c.alerts,
	}
}
