package inference

import (
	"context"
	"fmt"
	"log"

	"github.com/sua-org/edge-agent/internal/config"
)

// NewFromConfig escolhe o backend por INFERENCE_BACKEND e já carrega o Engine.
// Qualquer erro aqui é fatal para o processo.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Engine, error) {
	var backend Backend
	switch cfg.InferenceBackend {
	case "simulated":
		backend = NewSimulated(0)
	case "http":
		backend = NewHTTPBackend(cfg.InferenceURL, cfg.ModelName, cfg.InferenceDevice)
	default:
		return nil, fmt.Errorf("backend de inferência %q desconhecido", cfg.InferenceBackend)
	}
	log.Printf("[inference] backend selecionado: %s (model_path=%s)", backend.Name(), cfg.ModelPath)

	return NewEngine(ctx, backend, Options{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Location:            cfg.Location(),
		ModelName:           cfg.ModelName,
		Device:              cfg.InferenceDevice,
	})
}
