package inference

import (
	"context"
	"errors"

	"github.com/sua-org/edge-agent/internal/core"
)

// ErrBackendUnavailable indica que o modelo/serviço de inferência não carregou.
var ErrBackendUnavailable = errors.New("inference backend unavailable")

// Backend é o modelo de detecção propriamente dito (YOLO local, serviço HTTP,
// simulador...). O Engine cuida de threshold, contadores e score; o backend
// só devolve detecções cruas.
type Backend interface {
	Name() string

	// Load deve falhar se o modelo não puder ser carregado. O Engine nunca
	// roda com backend parcialmente inicializado.
	Load(ctx context.Context) error

	// Detect devolve as detecções do frame, sem filtro de confiança.
	Detect(ctx context.Context, frame *core.Frame) ([]core.Detection, error)
}
