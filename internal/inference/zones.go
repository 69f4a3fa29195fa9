package inference

import "github.com/sua-org/edge-agent/internal/core"

// DetectZones: para cada detecção "person", testa o centro da bbox contra os
// polígonos de exclusão. Uma pessoa dentro de N zonas gera N breaches.
func DetectZones(dets []core.Detection, zones []core.Zone) []core.Detection {
	var out []core.Detection
	for _, d := range dets {
		if d.ClassName != core.ClassPerson {
			continue
		}
		cx, cy := d.BBox.Center()
		for _, z := range zones {
			if z.ZoneType != core.ZoneTypeExclusion {
				continue
			}
			if !PointInPolygon(float64(cx), float64(cy), z.Polygon) {
				continue
			}
			out = append(out, core.Detection{
				ClassName:   core.ClassExclusionZoneBreach,
				Confidence:  1.0,
				BBox:        d.BBox,
				IsViolation: true,
				Severity:    core.SeverityCritical,
			})
		}
	}
	return out
}

// PointInPolygon é ray casting na lista ordenada de vértices. A comparação
// meio-aberta (yi > y) != (yj > y) faz um vértice exatamente na altura do raio
// contar para uma só das arestas adjacentes, e arestas horizontais nunca
// cruzam.
func PointInPolygon(x, y float64, polygon []core.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := polygon[i].X, polygon[i].Y
		xj, yj := polygon[j].X, polygon[j].Y
		if (yi > y) != (yj > y) {
			xCross := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
