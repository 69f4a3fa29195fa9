package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

func init() {
	Register("synthetic", Factory{Open: openSynthetic, Validate: func(u *url.URL) error {
		_, _, err := syntheticSize(u)
		return err
	}})
}

// syntheticSize lê "synthetic://640x480"; sem tamanho usa 1280x720.
func syntheticSize(u *url.URL) (int, int, error) {
	size := u.Host
	if size == "" {
		size = u.Opaque
	}
	if size == "" {
		return 1280, 720, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return 0, 0, fmt.Errorf("tamanho inválido %q (use WxH)", size)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 || wi > 7680 || hi > 4320 {
		return 0, 0, fmt.Errorf("tamanho inválido %q", size)
	}
	return wi, hi, nil
}

// SyntheticSource gera frames (gradiente com um bloco em movimento) sem
// câmera nenhuma.
type SyntheticSource struct {
	cameraID string
	w, h     int

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func openSynthetic(p Params) (Source, error) {
	w, h, err := syntheticSize(p.Locator)
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{cameraID: p.CameraID, w: w, h: h}, nil
}

func (s *SyntheticSource) Next(ctx context.Context) (*core.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			o := img.PixOffset(x, y)
			img.Pix[o] = uint8(x * 255 / s.w)
			img.Pix[o+1] = uint8(y * 255 / s.h)
			img.Pix[o+2] = 96
			img.Pix[o+3] = 255
		}
	}
	size := s.h / 4
	x0 := int(seq*8) % maxInt(1, s.w-size)
	block := color.RGBA{240, 240, 240, 255}
	for y := s.h / 3; y < s.h/3+size && y < s.h; y++ {
		for x := x0; x < x0+size && x < s.w; x++ {
			img.SetRGBA(x, y, block)
		}
	}
	return &core.Frame{CameraID: s.cameraID, Seq: seq, Timestamp: time.Now(), Image: img}, nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
