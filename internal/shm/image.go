package shm

import (
	"encoding/binary"
	"image"
	"image/color"
)

// XRGBModel converts any color to an opaque XRGB color.
var XRGBModel = color.ModelFunc(func(c color.Color) color.Color {
	r, g, b, _ := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
})

// XRGB is an image laid out as WL_SHM_FORMAT_XRGB8888: one 32-bit word per
// pixel in host byte order, 0xXXRRGGBB. The X byte is written as 0xff.
type XRGB struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewXRGB wraps pix, which must hold at least Stride*Dy bytes.
func NewXRGB(pix []byte, stride int, r image.Rectangle) *XRGB {
	return &XRGB{Pix: pix, Stride: stride, Rect: r}
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *XRGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

// Bounds implements image.Image.
func (p *XRGB) Bounds() image.Rectangle {
	return p.Rect
}

// ColorModel returns XRGBModel.
func (p *XRGB) ColorModel() color.Model {
	return XRGBModel
}

// At returns the opaque color at (x, y), or transparent black outside the
// bounds.
func (p *XRGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	v := binary.NativeEndian.Uint32(p.Pix[p.PixOffset(x, y):])
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// Word returns the raw pixel word at (x, y).
func (p *XRGB) Word(x, y int) uint32 {
	return binary.NativeEndian.Uint32(p.Pix[p.PixOffset(x, y):])
}

// Set stores c at (x, y) with the X byte set. Points outside the bounds are
// ignored.
func (p *XRGB) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	binary.NativeEndian.PutUint32(p.Pix[p.PixOffset(x, y):], Word(c))
}

// Word packs c into an XRGB8888 pixel word.
func Word(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return 0xff<<24 | (r>>8)<<16 | (g>>8)<<8 | b>>8
}
