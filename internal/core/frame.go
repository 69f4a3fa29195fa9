package core

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"time"
)

// Frame é um quadro capturado de uma câmera.
//
// Image é a versão decodificada (RGBA) usada por inferência e redação.
// Data guarda o JPEG original quando a fonte entrega JPEG (pode ser nil).
// Quem recebe um Frame NÃO deve alterar Image/Data: para modificar, usar Clone.
type Frame struct {
	CameraID  string
	Seq       uint64
	Timestamp time.Time
	Image     *image.RGBA
	Data      []byte
}

func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Clone faz cópia profunda do frame (pixels inclusive).
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := *f
	if f.Image != nil {
		img := image.NewRGBA(f.Image.Rect)
		copy(img.Pix, f.Image.Pix)
		out.Image = img
	}
	if f.Data != nil {
		out.Data = append([]byte(nil), f.Data...)
	}
	return &out
}

// ToRGBA converte qualquer image.Image para *image.RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// DecodeJPEGFrame monta um Frame a partir de bytes JPEG.
func DecodeJPEGFrame(cameraID string, seq uint64, data []byte, ts time.Time) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Frame{
		CameraID:  cameraID,
		Seq:       seq,
		Timestamp: ts,
		Image:     ToRGBA(img),
		Data:      data,
	}, nil
}

// EncodeJPEG serializa a imagem do frame em JPEG.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
