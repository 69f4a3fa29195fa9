package orchestrator

import (
	"context"
	"image"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/source"
)

type Inferencer interface {
	Infer(ctx context.Context, frame *core.Frame, cameraID string) (core.InferenceResult, error)
	DetectZones(dets []core.Detection, zones []core.Zone) []core.Detection
}

type Redactor interface {
	Redact(ctx context.Context, frame *core.Frame, regions []image.Rectangle) (*core.Frame, error)
}

type EvidenceSaver interface {
	Save(image []byte, cameraID, detectionID string, meta evidence.Metadata, redacted bool) (string, error)
}

type AlertSubmitter interface {
	Submit(ctx context.Context, req alerts.Request) (bool, error)
}

type EvidenceUploader interface {
	UploadEvidence(ctx context.Context, detectionID string) error
}

// Deps: Redactor nil desliga o blur (evidência salva como _original);
// Uploader nil não agenda upload.
type Deps struct {
	Inference Inferencer
	Redactor  Redactor
	Evidence  EvidenceSaver
	Alerts    AlertSubmitter
	Uploader  EvidenceUploader

	OpenSource     func(cfg core.CameraConfig) (source.Source, error)
	ValidateSource func(locator string) error

	SiteID      string
	JPEGQuality int
}
