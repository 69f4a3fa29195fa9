package redact

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/core"
)

// xadrez 1px: qualquer blur muda os pixels.
func checkerFrame(w, h int) *core.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	return &core.Frame{CameraID: "cam1", Image: img, Data: []byte{0xFF, 0xD8}}
}

type fixedDetector struct {
	regions []image.Rectangle
	err     error
}

func (d fixedDetector) DetectRegions(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return d.regions, d.err
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	in := checkerFrame(40, 40)
	orig := append([]uint8(nil), in.Image.Pix...)

	r := New(10, nil)
	out, err := r.Redact(context.Background(), in, []image.Rectangle{image.Rect(5, 5, 20, 20)})
	require.NoError(t, err)

	assert.Equal(t, orig, in.Image.Pix)
	assert.NotEqual(t, in.Image.Pix, out.Image.Pix)
	assert.Nil(t, out.Data)
	assert.Equal(t, in.Image.At(0, 0), out.Image.At(0, 0))
	assert.NotEqual(t, in.Image.At(10, 10), out.Image.At(10, 10))
}

func TestRedactNoRegionsReturnsCopy(t *testing.T) {
	in := checkerFrame(20, 20)
	r := New(10, NoopDetector{})
	out, err := r.Redact(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, in.Image.Pix, out.Image.Pix)
	assert.NotSame(t, in.Image, out.Image)
	assert.Equal(t, in.Data, out.Data)
}

func TestRedactClampsRegions(t *testing.T) {
	in := checkerFrame(20, 20)
	r := New(6, fixedDetector{regions: []image.Rectangle{
		image.Rect(-10, -10, 5, 5),     // cruza a borda
		image.Rect(100, 100, 200, 200), // fora
	}})
	out, err := r.Redact(context.Background(), in, nil)
	require.NoError(t, err)
	assert.NotEqual(t, in.Image.At(2, 2), out.Image.At(2, 2))
	assert.Equal(t, in.Image.At(15, 15), out.Image.At(15, 15))
}

func TestRedactDetectorErrorPropagates(t *testing.T) {
	r := New(10, fixedDetector{err: errors.New("faces down")})
	_, err := r.Redact(context.Background(), checkerFrame(10, 10), nil)
	assert.Error(t, err)

	// com regiões explícitas o detector nem é chamado
	_, err = r.BlurRegions(context.Background(), checkerFrame(10, 10), nil)
	assert.NoError(t, err)
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/faces", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"faces":[[1,2,11,12],[0,0]]}`))
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL + "/")
	regs, err := d.DetectRegions(context.Background(), checkerFrame(20, 20).Image)
	require.NoError(t, err)
	assert.Equal(t, []image.Rectangle{image.Rect(1, 2, 11, 12)}, regs)
}

func TestSimulatedDetectorStaysInBounds(t *testing.T) {
	d := NewSimulatedDetector(3)
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := 0; i < 50; i++ {
		regs, err := d.DetectRegions(context.Background(), img)
		require.NoError(t, err)
		for _, r := range regs {
			assert.True(t, r.In(img.Bounds()), "%v", r)
		}
	}
}
