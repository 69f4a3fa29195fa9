package redact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RegionDetector localiza regiões identificáveis (rostos) numa imagem.
// Nenhuma região encontrada = slice vazio e err nil.
type RegionDetector interface {
	DetectRegions(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// NoopDetector nunca encontra nada.
type NoopDetector struct{}

func (NoopDetector) DetectRegions(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return nil, nil
}

// SimulatedDetector devolve de 0 a 2 "rostos" aleatórios no terço superior
// da imagem, para desenvolvimento sem serviço de faces.
type SimulatedDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedDetector(seed int64) *SimulatedDetector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedDetector{rng: rand.New(rand.NewSource(seed))}
}

func (d *SimulatedDetector) DetectRegions(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	b := img.Bounds()
	if b.Dx() < 40 || b.Dy() < 40 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.rng.Intn(3)
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		size := b.Dx()/16 + d.rng.Intn(b.Dx()/16+1)
		x := b.Min.X + d.rng.Intn(b.Dx()-size+1)
		if size > b.Dy() {
			size = b.Dy()
		}
		y := b.Min.Y + d.rng.Intn(b.Dy()/3+1)
		if y+size > b.Max.Y {
			y = b.Max.Y - size
		}
		out = append(out, image.Rect(x, y, x+size, y+size))
	}
	return out, nil
}

// HTTPDetector usa o mesmo serviço de inferência:
// POST {BaseURL}/faces (JPEG) -> {"faces":[[x1,y1,x2,y2], ...]}
type HTTPDetector struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type facesResponse struct {
	Faces [][]float64 `json:"faces"`
}

func (d *HTTPDetector) DetectRegions(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("erro ao codificar JPEG: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/faces", &buf)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request faces: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar faces: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta faces: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("faces status %d: %s", resp.StatusCode, string(body))
	}

	var parsed facesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("erro ao parsear JSON faces: %w", err)
	}
	out := make([]image.Rectangle, 0, len(parsed.Faces))
	for _, f := range parsed.Faces {
		if len(f) != 4 {
			continue
		}
		out = append(out, image.Rect(int(f[0]), int(f[1]), int(f[2]), int(f[3])))
	}
	return out, nil
}
