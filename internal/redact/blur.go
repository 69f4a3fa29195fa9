package redact

import "image"

// boxBlur borra r in-place com duas passadas (horizontal e vertical) de
// média móvel. Pixels fora de r não são lidos nem escritos.
func boxBlur(img *image.RGBA, r image.Rectangle, radius int) {
	if radius < 1 || r.Empty() {
		return
	}
	w, h := r.Dx(), r.Dy()
	tmp := make([]uint32, 4*maxInt(w, h))
	acc := make([]uint32, 4)

	// horizontal
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.PixOffset(r.Min.X, y)
		blurLine(img.Pix, row, 4, w, radius, tmp, acc)
	}
	// vertical
	for x := r.Min.X; x < r.Max.X; x++ {
		col := img.PixOffset(x, r.Min.Y)
		blurLine(img.Pix, col, img.Stride, h, radius, tmp, acc)
	}
}

// blurLine aplica a média de janela 2*radius+1 sobre n pixels espaçados por
// step, replicando as bordas.
func blurLine(pix []uint8, start, step, n, radius int, tmp, acc []uint32) {
	for c := 0; c < 4; c++ {
		acc[c] = 0
	}
	at := func(i int) int {
		if i < 0 {
			i = 0
		} else if i >= n {
			i = n - 1
		}
		return start + i*step
	}
	for i := -radius; i <= radius; i++ {
		o := at(i)
		for c := 0; c < 4; c++ {
			acc[c] += uint32(pix[o+c])
		}
	}
	win := uint32(2*radius + 1)
	for i := 0; i < n; i++ {
		for c := 0; c < 4; c++ {
			tmp[4*i+c] = acc[c] / win
		}
		out, in := at(i-radius), at(i+radius+1)
		for c := 0; c < 4; c++ {
			acc[c] += uint32(pix[in+c])
			acc[c] -= uint32(pix[out+c])
		}
	}
	for i := 0; i < n; i++ {
		o := start + i*step
		for c := 0; c < 4; c++ {
			pix[o+c] = uint8(tmp[4*i+c])
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
