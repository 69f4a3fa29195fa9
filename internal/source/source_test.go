package source

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/core"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("rtsp://user:pw@10.0.0.5:554/stream1"))
	assert.NoError(t, Validate("http://cam.local/mjpeg"))
	assert.NoError(t, Validate("synthetic://640x480"))
	assert.NoError(t, Validate("synthetic://"))
	assert.NoError(t, Validate("file://"+t.TempDir()))

	for _, bad := range []string{"", "ftp://x/y", "rtsp:///nohost", "synthetic://abc", "file:///does/not/exist"} {
		err := Validate(bad)
		assert.ErrorIs(t, err, ErrSourceUnsupported, bad)
	}
}

func TestSplitJPEG(t *testing.T) {
	a := jpegBytes(t, 8, 8)
	b := jpegBytes(t, 16, 16)
	stream := append([]byte("lixo"), a...)
	stream = append(stream, b...)
	stream = append(stream, 0xFF, 0xD8, 0x01) // truncado no fim

	var got [][]byte
	require.NoError(t, SplitJPEG(bytes.NewReader(stream), func(f []byte) { got = append(got, f) }))
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
}

func TestSplitJPEGResyncsAfterOversizedFrame(t *testing.T) {
	a := jpegBytes(t, 8, 8)
	stream := []byte{0xFF, 0xD8}
	stream = append(stream, make([]byte, 3*len(a))...) // SOI sem EOI
	stream = append(stream, a...)

	var got [][]byte
	require.NoError(t, splitJPEG(bytes.NewReader(stream), 2*len(a), func(f []byte) { got = append(got, f) }))
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0])
}

func TestDirSourceLoops(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), jpegBytes(t, 10, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpeg"), jpegBytes(t, 20, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := Open(core.CameraConfig{CameraID: "cam1", SourceLocator: "file://" + dir})
	require.NoError(t, err)
	defer src.Close()

	widths := []int{}
	for i := 0; i < 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cam1", f.CameraID)
		assert.Equal(t, uint64(i+1), f.Seq)
		widths = append(widths, f.Width())
	}
	assert.Equal(t, []int{10, 20, 10}, widths)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSyntheticSource(t *testing.T) {
	src, err := Open(core.CameraConfig{CameraID: "cam9", SourceLocator: "synthetic://64x48"})
	require.NoError(t, err)
	f1, err := src.Next(context.Background())
	require.NoError(t, err)
	f2, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, f1.Width())
	assert.Equal(t, 48, f1.Height())
	assert.Less(t, f1.Seq, f2.Seq)
}

func TestFFmpegArgs(t *testing.T) {
	u, _, err := lookup("rtsp://10.0.0.5/stream")
	require.NoError(t, err)
	args := ffmpegArgs(Params{Locator: u, Raw: "rtsp://10.0.0.5/stream", TargetFPS: 5})
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "image2pipe")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	u, _, err = lookup("http://cam/mjpeg")
	require.NoError(t, err)
	args = ffmpegArgs(Params{Locator: u, Raw: "http://cam/mjpeg"})
	assert.NotContains(t, args, "-rtsp_transport")
	assert.NotContains(t, args, "-r")
}
