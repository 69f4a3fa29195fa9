package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/core"
)

var square = []core.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

func TestPointInPolygonBasic(t *testing.T) {
	assert.True(t, PointInPolygon(5, 5, square))
	assert.False(t, PointInPolygon(15, 5, square))
	assert.False(t, PointInPolygon(5, -1, square))
}

func TestPointInPolygonDegenerate(t *testing.T) {
	assert.False(t, PointInPolygon(0, 0, nil))
	assert.False(t, PointInPolygon(1, 1, []core.Point{{X: 0, Y: 0}, {X: 5, Y: 5}}))
}

// Pontos em aresta/vértice seguem a regra meio-aberta; o valor exato importa
// menos que ser estável entre versões.
func TestPointInPolygonBoundaryIsDeterministic(t *testing.T) {
	cases := []struct {
		x, y float64
		want bool
	}{
		{0, 5, true},   // aresta esquerda
		{10, 5, false}, // aresta direita
		{5, 0, true},   // aresta inferior
		{5, 10, false}, // aresta superior
		{0, 0, true},
		{10, 10, false},
	}
	for _, c := range cases {
		for i := 0; i < 3; i++ {
			assert.Equal(t, c.want, PointInPolygon(c.x, c.y, square), "ponto (%v,%v)", c.x, c.y)
		}
	}
}

func TestPointInPolygonConcave(t *testing.T) {
	// "U" aberto para cima
	u := []core.Point{{X: 0, Y: 0}, {X: 30, Y: 0}, {X: 30, Y: 30}, {X: 20, Y: 30}, {X: 20, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 30}, {X: 0, Y: 30}}
	assert.True(t, PointInPolygon(5, 20, u))
	assert.False(t, PointInPolygon(15, 20, u))
	assert.True(t, PointInPolygon(15, 5, u))
}

func TestDetectZonesPersonInsideExclusion(t *testing.T) {
	zones := []core.Zone{
		{ZoneID: "z1", ZoneType: core.ZoneTypeExclusion, Polygon: []core.Point{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 200}, {X: 0, Y: 200}}},
		{ZoneID: "z2", ZoneType: "restricted", Polygon: []core.Point{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 200}, {X: 0, Y: 200}}},
	}
	person := core.Detection{ClassName: core.ClassPerson, Confidence: 0.9, BBox: core.Box{X1: 50, Y1: 50, X2: 150, Y2: 150}}
	vest := core.Detection{ClassName: "no_safety_vest", Confidence: 0.9, BBox: core.Box{X1: 50, Y1: 50, X2: 150, Y2: 150}, IsViolation: true}

	out := DetectZones([]core.Detection{person, vest}, zones)
	require.Len(t, out, 1)
	assert.Equal(t, core.ClassExclusionZoneBreach, out[0].ClassName)
	assert.Equal(t, 1.0, out[0].Confidence)
	assert.Equal(t, core.SeverityCritical, out[0].Severity)
	assert.True(t, out[0].IsViolation)
	assert.Equal(t, person.BBox, out[0].BBox)
}

func TestDetectZonesOutside(t *testing.T) {
	zones := []core.Zone{{ZoneID: "z1", ZoneType: core.ZoneTypeExclusion, Polygon: square}}
	person := core.Detection{ClassName: core.ClassPerson, BBox: core.Box{X1: 100, Y1: 100, X2: 120, Y2: 120}}
	assert.Empty(t, DetectZones([]core.Detection{person}, zones))
	assert.Empty(t, DetectZones([]core.Detection{person}, nil))
}
