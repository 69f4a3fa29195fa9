// Package alerts decide quais violações viram alerta: threshold de
// severidade e cooldown por (câmera, tipo principal).
package alerts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sua-org/edge-agent/internal/core"
)

// Sink recebe os alertas aceitos (normalmente a fila de sync).
type Sink interface {
	SendAlert(ctx context.Context, alert core.Alert) error
}

type Request struct {
	DetectionID string
	CameraID    string
	SiteID      string
	Violations  []core.Violation
	Severity    core.Severity
	Timestamp   time.Time
}

type cooldownKey struct {
	camera string
	kind   string
}

type Dispatcher struct {
	sink Sink
	now  func() time.Time

	mu          sync.Mutex
	threshold   core.Severity
	cooldown    time.Duration
	last        map[cooldownKey]time.Time
	counts      map[cooldownKey]int
	accepted    int
	belowThresh int
	coolingDown int
	sinkErrors  int
	debug       bool
}

func NewDispatcher(sink Sink, threshold core.Severity, cooldown time.Duration) *Dispatcher {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Dispatcher{
		sink:      sink,
		now:       time.Now,
		threshold: threshold,
		cooldown:  cooldown,
		last:      make(map[cooldownKey]time.Time),
		counts:    make(map[cooldownKey]int),
	}
}

// SetDebug liga o log das supressões.
func (d *Dispatcher) SetDebug(on bool) {
	d.mu.Lock()
	d.debug = on
	d.mu.Unlock()
}

func (d *Dispatcher) SetThreshold(sev core.Severity) {
	d.mu.Lock()
	d.threshold = sev
	d.mu.Unlock()
	log.Printf("[alerts] threshold=%s", sev)
}

func (d *Dispatcher) SetCooldown(cd time.Duration) {
	if cd < 0 {
		cd = 0
	}
	d.mu.Lock()
	d.cooldown = cd
	d.mu.Unlock()
	log.Printf("[alerts] cooldown=%s", cd)
}

// Submit devolve true se o alerta foi aceito e entregue ao sink. Supressão
// (sem violações, abaixo do threshold, em cooldown) não é erro. Erro só vem
// do sink, e nesse caso o cooldown já foi consumido.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (bool, error) {
	if len(req.Violations) == 0 {
		return false, nil
	}
	primary := req.Violations[0].Class
	key := cooldownKey{camera: req.CameraID, kind: primary}

	d.mu.Lock()
	if req.Severity.Priority() < d.threshold.Priority() {
		d.belowThresh++
		debug := d.debug
		d.mu.Unlock()
		if debug {
			log.Printf("[alerts] %s/%s abaixo do threshold (%s)", req.CameraID, primary, req.Severity)
		}
		return false, nil
	}
	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.cooldown {
		d.coolingDown++
		debug := d.debug
		d.mu.Unlock()
		if debug {
			log.Printf("[alerts] %s/%s em cooldown", req.CameraID, primary)
		}
		return false, nil
	}
	d.last[key] = now
	d.counts[key]++
	d.accepted++
	d.mu.Unlock()

	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	alert := core.Alert{
		ID:           uuid.NewString(),
		DetectionID:  req.DetectionID,
		CameraID:     req.CameraID,
		SiteID:       req.SiteID,
		Type:         primary,
		Severity:     req.Severity,
		Timestamp:    ts.UTC(),
		Violations:   req.Violations,
		Acknowledged: false,
		CreatedAt:    now.UTC(),
	}
	log.Printf("[alerts] alerta %s: %s %s em %s", alert.ID, alert.Severity, alert.Type, alert.CameraID)

	if d.sink == nil {
		return true, nil
	}
	if err := d.sink.SendAlert(ctx, alert); err != nil {
		d.mu.Lock()
		d.sinkErrors++
		d.mu.Unlock()
		return true, fmt.Errorf("sink do alerta %s: %w", alert.ID, err)
	}
	return true, nil
}

// ClearCooldowns zera os timestamps; contadores ficam.
func (d *Dispatcher) ClearCooldowns() {
	d.mu.Lock()
	n := len(d.last)
	d.last = make(map[cooldownKey]time.Time)
	d.mu.Unlock()
	log.Printf("[alerts] %d cooldowns limpos", n)
}

type Stats struct {
	Threshold         core.Severity  `json:"threshold"`
	CooldownSeconds   float64        `json:"cooldown_seconds"`
	TotalAlerts       int            `json:"total_alerts"`
	ActiveCooldowns   int            `json:"active_cooldowns"`
	SuppressedLow     int            `json:"suppressed_below_threshold"`
	SuppressedCooling int            `json:"suppressed_cooldown"`
	SinkErrors        int            `json:"sink_errors"`
	ByKey             map[string]int `json:"alert_counts"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	active := 0
	for _, t := range d.last {
		if now.Sub(t) < d.cooldown {
			active++
		}
	}
	by := make(map[string]int, len(d.counts))
	for k, n := range d.counts {
		by[k.camera+":"+k.kind] = n
	}
	return Stats{
		Threshold:         d.threshold,
		CooldownSeconds:   d.cooldown.Seconds(),
		TotalAlerts:       d.accepted,
		ActiveCooldowns:   active,
		SuppressedLow:     d.belowThresh,
		SuppressedCooling: d.coolingDown,
		SinkErrors:        d.sinkErrors,
		ByKey:             by,
	}
}

// MultiSink entrega ao Primary (erro propaga) e, best-effort, aos Extras
// (ex.: MQTT local).
type MultiSink struct {
	Primary Sink
	Extras  []Sink
}

func (m MultiSink) SendAlert(ctx context.Context, alert core.Alert) error {
	for _, s := range m.Extras {
		if s == nil {
			continue
		}
		if err := s.SendAlert(ctx, alert); err != nil {
			log.Printf("[alerts] sink extra falhou para %s: %v", alert.ID, err)
		}
	}
	if m.Primary == nil {
		return nil
	}
	return m.Primary.SendAlert(ctx, alert)
}
