// internal/core/types.go
package core

import (
	"image"
	"time"
)

// CameraConfig é a identidade imutável de uma câmera registrada no edge.
// Mudanças são feitas por substituição (remove + add), nunca in place.
type CameraConfig struct {
	CameraID      string  `json:"camera_id" yaml:"camera_id"`
	Name          string  `json:"name" yaml:"name"`
	SourceLocator string  `json:"source" yaml:"source"`
	SiteID        string  `json:"site_id" yaml:"site_id"`
	ZoneID        string  `json:"zone_id,omitempty" yaml:"zone_id,omitempty"`
	PolicyID      string  `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	TargetFPS     float64 `json:"fps" yaml:"fps"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
}

// CameraRuntimeState é o estado mutável de uma câmera, dono exclusivo é o
// worker da câmera. Para leitura externa usar sempre uma cópia.
type CameraRuntimeState struct {
	IsRunning   bool      `json:"is_running"`
	LastFrameAt time.Time `json:"last_frame_time,omitempty"`
	Error       string    `json:"error,omitempty"`
	ObservedFPS float64   `json:"observed_fps"`
}

// Box é uma bounding box em pixels: [x1, y1, x2, y2].
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center retorna o centro da caixa (divisão inteira).
func (b Box) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rect converte para image.Rectangle (canonizado).
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

type Detection struct {
	ClassName   string   `json:"class"`
	Confidence  float64  `json:"confidence"`
	BBox        Box      `json:"bbox"`
	IsViolation bool     `json:"is_violation"`
	Severity    Severity `json:"severity"`
}

type InferenceResult struct {
	Detections         []Detection `json:"detections"`
	FrameID            string      `json:"frame_id"`
	Timestamp          time.Time   `json:"timestamp"`
	InferenceLatencyMS float64     `json:"inference_latency_ms"`
	SafetyScore        float64     `json:"safety_score"`
}

// Violations retorna só as detecções marcadas como violação.
func (r InferenceResult) Violations() []Detection {
	var out []Detection
	for _, d := range r.Detections {
		if d.IsViolation {
			out = append(out, d)
		}
	}
	return out
}

// AppendDetections adiciona detecções (ex.: zone breach) e recalcula o score.
func (r *InferenceResult) AppendDetections(extra ...Detection) {
	if len(extra) == 0 {
		return
	}
	r.Detections = append(r.Detections, extra...)
	r.SafetyScore = SafetyScore(r.Detections)
}

// Violation é a forma compacta de uma violação dentro de metadata/alertas.
type Violation struct {
	Class      string   `json:"class"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity"`
	BBox       Box      `json:"bbox"`
}

func ViolationsFrom(dets []Detection) []Violation {
	out := make([]Violation, 0, len(dets))
	for _, d := range dets {
		if !d.IsViolation {
			continue
		}
		out = append(out, Violation{
			Class:      d.ClassName,
			Confidence: d.Confidence,
			Severity:   d.Severity,
			BBox:       d.BBox,
		})
	}
	return out
}

// EvidenceRecord é a unidade persistida pelo evidence store (arquivo JSON
// em metadata/<detection_id>.json).
type EvidenceRecord struct {
	DetectionID   string      `json:"detection_id"`
	CameraID      string      `json:"camera_id"`
	SiteID        string      `json:"site_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Violations    []Violation `json:"violations"`
	SafetyScore   float64     `json:"safety_score"`
	ImagePath     string      `json:"image_path"`
	FileHash      string      `json:"file_hash"`
	Redacted      bool        `json:"redacted"`
	SavedAt       time.Time   `json:"saved_at"`
	Synced        bool        `json:"synced"`
	VideoPath     string      `json:"video_path,omitempty"`
	VideoDuration int         `json:"video_duration,omitempty"`
}

// Alert é o payload enviado para a nuvem em POST /api/alerts.
type Alert struct {
	ID           string      `json:"id"`
	DetectionID  string      `json:"detection_id"`
	CameraID     string      `json:"camera_id"`
	SiteID       string      `json:"site_id"`
	Type         string      `json:"type"`
	Severity     Severity    `json:"severity"`
	Timestamp    time.Time   `json:"timestamp"`
	Violations   []Violation `json:"violations"`
	Acknowledged bool        `json:"acknowledged"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Point é um vértice de polígono de zona.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

const ZoneTypeExclusion = "exclusion"

type Zone struct {
	ZoneID   string  `json:"zone_id" yaml:"zone_id"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	ZoneType string  `json:"zone_type" yaml:"zone_type"`
	Polygon  []Point `json:"polygon" yaml:"polygon"`
}
