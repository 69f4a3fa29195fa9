package inventory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sua-org/edge-agent/internal/core"
)

// File representa o cameras.yaml do edge.
//
//	cameras:
//	  - camera_id: cam-01
//	    name: Doca 1
//	    source: rtsp://10.0.0.10:554/Streaming/Channels/101
//	    site_id: site-001
//	    zone_id: doca
//	    fps: 5
//	    enabled: true
//	zones:
//	  doca:
//	    - zone_id: doca-exclusao
//	      zone_type: exclusion
//	      polygon: [{x: 0, y: 0}, {x: 100, y: 0}, {x: 100, y: 100}]
type File struct {
	Cameras []CameraEntry          `yaml:"cameras"`
	Zones   map[string][]core.Zone `yaml:"zones"`
}

// CameraEntry usa ponteiro em Enabled para diferenciar "ausente" (default true).
type CameraEntry struct {
	CameraID string  `yaml:"camera_id"`
	Name     string  `yaml:"name"`
	Source   string  `yaml:"source"`
	SiteID   string  `yaml:"site_id"`
	ZoneID   string  `yaml:"zone_id"`
	PolicyID string  `yaml:"policy_id"`
	FPS      float64 `yaml:"fps"`
	Enabled  *bool   `yaml:"enabled"`
}

// Load lê o arquivo. Arquivo inexistente => inventário vazio.
func Load(path string, defaultSite string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{Zones: map[string][]core.Zone{}}, nil
		}
		return nil, fmt.Errorf("erro lendo inventário %s: %w", path, err)
	}
	return Parse(data, defaultSite)
}

func Parse(data []byte, defaultSite string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("inventário YAML inválido: %w", err)
	}
	if f.Zones == nil {
		f.Zones = map[string][]core.Zone{}
	}

	seen := make(map[string]struct{}, len(f.Cameras))
	for i := range f.Cameras {
		c := &f.Cameras[i]
		c.CameraID = strings.TrimSpace(c.CameraID)
		c.Source = strings.TrimSpace(c.Source)
		if c.CameraID == "" {
			return nil, fmt.Errorf("câmera #%d sem camera_id", i)
		}
		if _, dup := seen[c.CameraID]; dup {
			return nil, fmt.Errorf("camera_id duplicado no inventário: %s", c.CameraID)
		}
		seen[c.CameraID] = struct{}{}
		if c.SiteID == "" {
			c.SiteID = defaultSite
		}
	}

	for zoneID, zones := range f.Zones {
		for j := range zones {
			if zones[j].ZoneID == "" {
				zones[j].ZoneID = zoneID
			}
			if len(zones[j].Polygon) < 3 {
				return nil, fmt.Errorf("zona %s/%d precisa de pelo menos 3 vértices", zoneID, j)
			}
		}
	}
	return &f, nil
}

// CameraConfigs converte as entradas para core.CameraConfig.
func (f *File) CameraConfigs() []core.CameraConfig {
	out := make([]core.CameraConfig, 0, len(f.Cameras))
	for _, c := range f.Cameras {
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		name := c.Name
		if name == "" {
			name = c.CameraID
		}
		out = append(out, core.CameraConfig{
			CameraID:      c.CameraID,
			Name:          name,
			SourceLocator: c.Source,
			SiteID:        c.SiteID,
			ZoneID:        c.ZoneID,
			PolicyID:      c.PolicyID,
			TargetFPS:     c.FPS,
			Enabled:       enabled,
		})
	}
	return out
}
