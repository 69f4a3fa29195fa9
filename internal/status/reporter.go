// Package status monta o status do edge e roda o loop periódico: heartbeat
// para a nuvem, status retido no MQTT, métrica de inferência e polling de
// políticas.
package status

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/cloudsync"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/inference"
	"github.com/sua-org/edge-agent/internal/orchestrator"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type Cameras interface {
	List() []orchestrator.CameraStatus
	Counts() orchestrator.Counts
	SetZones(cameraID string, zones []core.Zone) error
}

type InferenceStats interface {
	Stats() inference.Stats
}

type StorageStats interface {
	Stats() (evidence.Stats, error)
}

type Sync interface {
	Status() cloudsync.Status
	QueueMetric(metric any) error
}

type Cloud interface {
	SendHeartbeat(ctx context.Context, status any) error
	GetPolicyUpdates(ctx context.Context) (*cloudsync.PolicyUpdate, error)
}

type AlertPolicy interface {
	SetThreshold(sev core.Severity)
	SetCooldown(cd time.Duration)
	Stats() alerts.Stats
}

type Publisher interface {
	PublishEdgeStatus(status any) error
	PublishCameraStatus(cameraID string, status any) error
}

// Deps: Cloud e Publisher podem ser nil (sem nuvem / sem MQTT).
type Deps struct {
	Cameras   Cameras
	Inference InferenceStats
	Storage   StorageStats
	Sync      Sync
	Cloud     Cloud
	Alerts    AlertPolicy
	Publisher Publisher

	DeviceID string
	SiteID   string
	Version  string
	Interval time.Duration
}

type ProcessStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryRSS     uint64  `json:"memory_rss_bytes"`
}

type EdgeStatus struct {
	DeviceID      string                      `json:"device_id"`
	SiteID        string                      `json:"site_id"`
	Status        string                      `json:"status"`
	Version       string                      `json:"version"`
	Hostname      string                      `json:"hostname"`
	Timestamp     time.Time                   `json:"timestamp"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Cameras       orchestrator.Counts         `json:"cameras"`
	CameraList    []orchestrator.CameraStatus `json:"camera_list"`
	Inference     inference.Stats             `json:"inference"`
	Storage       evidence.Stats              `json:"storage"`
	Sync          cloudsync.Status            `json:"sync"`
	Alerts        alerts.Stats                `json:"alerts"`
	Process       ProcessStats                `json:"process"`
	PolicyApplied *time.Time                  `json:"policy_applied_at,omitempty"`
}

type Reporter struct {
	deps     Deps
	started  time.Time
	hostname string
	proc     *process.Process
	now      func() time.Time

	mu          sync.Mutex
	lastApplied time.Time
}

func New(deps Deps) *Reporter {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	hostname, _ := os.Hostname()
	var procHandle *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		procHandle = p
	}
	return &Reporter{
		deps:     deps,
		started:  time.Now(),
		hostname: hostname,
		proc:     procHandle,
		now:      time.Now,
	}
}

// Health: nenhuma câmera ativa com câmeras configuradas = unhealthy; alguma
// câmera com erro = degraded.
func Health(c orchestrator.Counts) string {
	switch {
	case c.Configured > 0 && c.Active == 0:
		return HealthUnhealthy
	case c.Errors > 0:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

func (r *Reporter) Build() EdgeStatus {
	now := r.now()
	counts := r.deps.Cameras.Counts()
	st := EdgeStatus{
		DeviceID:      r.deps.DeviceID,
		SiteID:        r.deps.SiteID,
		Status:        Health(counts),
		Version:       r.deps.Version,
		Hostname:      r.hostname,
		Timestamp:     now.UTC(),
		UptimeSeconds: now.Sub(r.started).Seconds(),
		Cameras:       counts,
		CameraList:    r.deps.Cameras.List(),
		Process:       r.processStats(),
	}
	if r.deps.Inference != nil {
		st.Inference = r.deps.Inference.Stats()
	}
	if r.deps.Storage != nil {
		s, err := r.deps.Storage.Stats()
		if err != nil {
			log.Printf("[status] erro lendo storage: %v", err)
		}
		st.Storage = s
	}
	if r.deps.Sync != nil {
		st.Sync = r.deps.Sync.Status()
	}
	if r.deps.Alerts != nil {
		st.Alerts = r.deps.Alerts.Stats()
	}
	r.mu.Lock()
	if !r.lastApplied.IsZero() {
		t := r.lastApplied
		st.PolicyApplied = &t
	}
	r.mu.Unlock()
	return st
}

func (r *Reporter) processStats() ProcessStats {
	var ps ProcessStats
	if r.proc == nil {
		return ps
	}
	if cpu, err := r.proc.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if memInfo, err := r.proc.MemoryInfo(); err == nil {
		ps.MemoryRSS = memInfo.RSS
	}
	if memP, err := r.proc.MemoryPercent(); err == nil {
		ps.MemoryPercent = float64(memP)
	}
	return ps
}

// Run roda Tick a cada Interval até ctx acabar.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.deps.Interval)
	defer ticker.Stop()

	log.Printf("[status] loop iniciado (intervalo=%s)", r.deps.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[status] loop encerrado (context canceled)")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick faz uma rodada completa; cada passo falha sozinho.
func (r *Reporter) Tick(ctx context.Context) EdgeStatus {
	st := r.Build()

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.PublishEdgeStatus(st); err != nil {
			log.Printf("[status] erro ao publicar status do edge: %v", err)
		}
		for _, cam := range st.CameraList {
			if err := r.deps.Publisher.PublishCameraStatus(cam.CameraID, cam); err != nil {
				log.Printf("[status] erro ao publicar status da câmera %s: %v", cam.CameraID, err)
			}
		}
	}

	if r.deps.Sync != nil {
		if err := r.deps.Sync.QueueMetric(inferenceMetric(st)); err != nil {
			log.Printf("[status] erro enfileirando métrica: %v", err)
		}
	}

	if r.deps.Cloud != nil && st.Sync.Enabled && st.Sync.Connected {
		hbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := r.deps.Cloud.SendHeartbeat(hbCtx, st); err != nil {
			log.Printf("[status] heartbeat falhou: %v", err)
		}
		cancel()
		r.pollPolicies(ctx)
	}
	return st
}

type metric struct {
	Type            string    `json:"type"`
	DeviceID        string    `json:"device_id"`
	SiteID          string    `json:"site_id"`
	Timestamp       time.Time `json:"timestamp"`
	TotalInferences uint64    `json:"total_inferences"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	FPSAvg          float64   `json:"fps_avg"`
	DetectionsToday int       `json:"detections_today"`
	ActiveCameras   int       `json:"active_cameras"`
}

func inferenceMetric(st EdgeStatus) metric {
	return metric{
		Type:            "inference",
		DeviceID:        st.DeviceID,
		SiteID:          st.SiteID,
		Timestamp:       st.Timestamp,
		TotalInferences: st.Inference.Frames,
		AvgLatencyMS:    st.Inference.AvgLatencyMS,
		FPSAvg:          st.Inference.AvgFPS,
		DetectionsToday: st.Inference.DetectionsToday,
		ActiveCameras:   st.Cameras.Active,
	}
}

func (r *Reporter) pollPolicies(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pu, err := r.deps.Cloud.GetPolicyUpdates(pctx)
	if err != nil {
		log.Printf("[status] erro buscando políticas: %v", err)
		return
	}
	if pu == nil {
		return
	}
	r.ApplyPolicy(*pu)
}

// ApplyPolicy aplica threshold/cooldown de alerta e zonas por câmera.
func (r *Reporter) ApplyPolicy(pu cloudsync.PolicyUpdate) {
	if r.deps.Alerts != nil {
		if pu.AlertThreshold != "" {
			if sev, ok := core.ParseSeverity(pu.AlertThreshold); ok {
				r.deps.Alerts.SetThreshold(sev)
			} else {
				log.Printf("[status] alert_threshold inválido na política: %q", pu.AlertThreshold)
			}
		}
		if pu.AlertCooldownSeconds != nil && *pu.AlertCooldownSeconds >= 0 {
			r.deps.Alerts.SetCooldown(time.Duration(*pu.AlertCooldownSeconds) * time.Second)
		}
	}
	for cameraID, zones := range pu.Zones {
		valid := zones[:0:0]
		for _, z := range zones {
			if len(z.Polygon) < 3 {
				log.Printf("[status] zona %s da câmera %s ignorada (polígono com %d pontos)", z.ZoneID, cameraID, len(z.Polygon))
				continue
			}
			valid = append(valid, z)
		}
		if err := r.deps.Cameras.SetZones(cameraID, valid); err != nil {
			log.Printf("[status] zonas para %s: %v", cameraID, err)
		}
	}

	r.mu.Lock()
	r.lastApplied = r.now().UTC()
	r.mu.Unlock()
}
