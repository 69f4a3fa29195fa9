package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

func init() {
	Register("file", Factory{Open: openDir, Validate: validateDir})
}

func dirPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return filepath.FromSlash(u.Host + u.Path)
}

func validateDir(u *url.URL) error {
	p := dirPath(u)
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("diretório %s: %w", p, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s não é diretório", p)
	}
	return nil
}

// DirSource repete em loop os JPEGs de um diretório, em ordem de nome.
// Útil para replay de gravações e testes.
type DirSource struct {
	cameraID string
	files    []string

	mu     sync.Mutex
	idx    int
	seq    uint64
	closed bool
}

func openDir(p Params) (Source, error) {
	dir := dirPath(p.Locator)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("erro lendo %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".jpg" && ext != ".jpeg") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("nenhum JPEG em %s", dir)
	}
	return &DirSource{cameraID: p.CameraID, files: files}, nil
}

func (s *DirSource) Next(ctx context.Context) (*core.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	path := s.files[s.idx]
	s.idx = (s.idx + 1) % len(s.files)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("erro lendo %s: %w", path, err)
	}
	f, err := core.DecodeJPEGFrame(s.cameraID, seq, data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("JPEG inválido %s: %w", path, err)
	}
	return f, nil
}

func (s *DirSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
