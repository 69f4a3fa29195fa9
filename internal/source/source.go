// Package source entrega frames das câmeras. Cada esquema de locator
// (rtsp, http, file, synthetic, hikvision, dahua) tem sua factory registrada
// no init().
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sua-org/edge-agent/internal/core"
)

var (
	// ErrNoFrame: nenhum frame novo ainda; tentar de novo em seguida.
	ErrNoFrame           = errors.New("no frame available")
	ErrSourceUnsupported = errors.New("unsupported source locator")
	ErrClosed            = errors.New("source closed")
)

type Source interface {
	// Next devolve o próximo frame ou ErrNoFrame.
	Next(ctx context.Context) (*core.Frame, error)
	Close() error
}

// Params é o que uma factory recebe.
type Params struct {
	CameraID  string
	Locator   *url.URL
	Raw       string
	TargetFPS float64
}

type Factory struct {
	Open     func(p Params) (Source, error)
	Validate func(u *url.URL) error
}

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register é chamado no init() de cada tipo de fonte.
func Register(scheme string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(scheme)] = f
}

func lookup(raw string) (*url.URL, Factory, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, Factory{}, fmt.Errorf("%w: %q: %v", ErrSourceUnsupported, raw, err)
	}
	regMu.RLock()
	f, ok := registry[strings.ToLower(u.Scheme)]
	regMu.RUnlock()
	if !ok {
		return nil, Factory{}, fmt.Errorf("%w: esquema %q", ErrSourceUnsupported, u.Scheme)
	}
	return u, f, nil
}

// Validate checa o locator sem abrir nada.
func Validate(raw string) error {
	u, f, err := lookup(raw)
	if err != nil {
		return err
	}
	if f.Validate != nil {
		if err := f.Validate(u); err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnsupported, err)
		}
	}
	return nil
}

// Open abre a fonte da câmera.
func Open(cfg core.CameraConfig) (Source, error) {
	u, f, err := lookup(cfg.SourceLocator)
	if err != nil {
		return nil, err
	}
	if f.Validate != nil {
		if err := f.Validate(u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnsupported, err)
		}
	}
	return f.Open(Params{CameraID: cfg.CameraID, Locator: u, Raw: cfg.SourceLocator, TargetFPS: cfg.TargetFPS})
}

func requireHost(u *url.URL) error {
	if u.Host == "" {
		return fmt.Errorf("locator sem host: %s", u.Redacted())
	}
	return nil
}
