package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

// HTTPBackend fala com um serviço de inferência (ex.: container YOLO com GPU).
//
//	GET  {BaseURL}/health  -> 200 quando o modelo está carregado
//	POST {BaseURL}/detect  (body JPEG) -> {"detections":[{"class":..,"confidence":..,"bbox":[x1,y1,x2,y2]}]}
type HTTPBackend struct {
	BaseURL string
	Model   string
	Device  string
	HTTP    *http.Client
}

func NewHTTPBackend(baseURL, model, device string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Device:  device,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("erro ao criar request health: %w", err)
	}
	resp, err := b.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("erro ao chamar health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

type rawDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type detectResponse struct {
	Detections []rawDetection `json:"detections"`
}

func (b *HTTPBackend) Detect(ctx context.Context, frame *core.Frame) ([]core.Detection, error) {
	body, err := frameJPEG(frame)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request detect: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	if b.Model != "" {
		req.Header.Set("X-Model", b.Model)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar detect: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta detect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsed detectResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("erro ao parsear JSON detect: %w", err)
	}

	out := make([]core.Detection, 0, len(parsed.Detections))
	for _, rd := range parsed.Detections {
		if len(rd.BBox) != 4 {
			continue
		}
		isViolation, sev := core.Classify(rd.Class)
		out = append(out, core.Detection{
			ClassName:  rd.Class,
			Confidence: rd.Confidence,
			BBox: core.Box{
				X1: int(rd.BBox[0]), Y1: int(rd.BBox[1]),
				X2: int(rd.BBox[2]), Y2: int(rd.BBox[3]),
			},
			IsViolation: isViolation,
			Severity:    sev,
		})
	}
	return out, nil
}

// frameJPEG reaproveita o JPEG original quando existe.
func frameJPEG(frame *core.Frame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("frame nil")
	}
	if len(frame.Data) > 0 {
		return frame.Data, nil
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("frame sem imagem")
	}
	return frame.EncodeJPEG(85)
}
