package shm

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewBuffer(t *testing.T) {
	buf, err := New(200, 200)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 800, buf.Stride)
	assert.Equal(t, 800*200, buf.Size())

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(buf.Fd(), &st))
	assert.Equal(t, int64(buf.Size()), st.Size)
}

func TestNewBufferInvalidSize(t *testing.T) {
	for _, size := range [][2]int{{0, 10}, {10, 0}, {-1, 5}} {
		_, err := New(size[0], size[1])
		assert.Error(t, err, "New(%d, %d)", size[0], size[1])
	}
}

func TestFillRed(t *testing.T) {
	buf, err := New(16, 8)
	require.NoError(t, err)
	defer buf.Close()

	buf.Fill(color.RGBA{R: 0xff, A: 0xff})

	img := buf.Image()
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			require.Equal(t, uint32(0xFFFF0000), img.Word(x, y), "pixel (%d,%d)", x, y)
		}
	}
}

func TestFillVisibleThroughFd(t *testing.T) {
	buf, err := New(4, 4)
	require.NoError(t, err)
	defer buf.Close()

	buf.Fill(color.RGBA{B: 0xff, A: 0xff})

	// A second mapping of the same fd sees the pixels, which is what the
	// compositor relies on.
	other, err := unix.Mmap(buf.Fd(), 0, buf.Size(), unix.PROT_READ, unix.MAP_SHARED)
	require.NoError(t, err)
	defer unix.Munmap(other)

	img := NewXRGB(other, buf.Stride, buf.Image().Rect)
	assert.Equal(t, uint32(0xFF0000FF), img.Word(3, 3))
}

func TestCloseIsIdempotent(t *testing.T) {
	buf, err := New(1, 1)
	require.NoError(t, err)
	assert.NoError(t, buf.Close())
	assert.NoError(t, buf.Close())
}

func TestXRGBColorRoundTrip(t *testing.T) {
	img := NewXRGB(make([]byte, 4*4), 8, image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{R: 0x12, G: 0x34, B: 0x56, A: 0xff})

	assert.Equal(t, uint32(0xFF123456), img.Word(1, 1))
	assert.Equal(t, color.RGBA{R: 0x12, G: 0x34, B: 0x56, A: 0xff}, img.At(1, 1))

	// Out of bounds writes are dropped.
	img.Set(5, 5, color.White)
	assert.Equal(t, color.RGBA{}, img.At(5, 5))
}

func TestWord(t *testing.T) {
	assert.Equal(t, uint32(0xFFFF0000), Word(color.RGBA{R: 0xff, A: 0xff}))
	assert.Equal(t, uint32(0xFFFFFFFF), Word(color.White))
	assert.Equal(t, uint32(0xFF000000), Word(color.Black))
}

func TestXRGBOutOfBounds(t *testing.T) {
	pix := make([]byte, 2*2*BytesPerPixel)
	img := NewXRGB(pix, 2*BytesPerPixel, image.Rect(0, 0, 2, 2))

	img.Set(2, 0, color.White)
	img.Set(-1, 1, color.White)
	assert.Equal(t, make([]byte, len(pix)), pix)
	assert.Equal(t, color.RGBA{}, img.At(5, 5))
	assert.Equal(t, XRGBModel, img.ColorModel())

	img.Set(1, 1, color.RGBA{G: 0x80, A: 0xff})
	assert.Equal(t, 3*BytesPerPixel, img.PixOffset(1, 1))
	assert.Equal(t, color.RGBA{G: 0x80, A: 0xff}, img.At(1, 1))
}
