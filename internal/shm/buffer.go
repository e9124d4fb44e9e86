// Package shm allocates shared-memory pixel buffers that can be handed to
// the compositor through wl_shm.
package shm

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/sys/unix"
)

// BytesPerPixel is the size of an XRGB8888 pixel.
const BytesPerPixel = 4

// Buffer is an anonymous memory file mapped into the process.
type Buffer struct {
	fd     int
	data   []byte
	Width  int
	Height int
	Stride int
}

// New creates a width x height XRGB8888 buffer backed by a memfd.
func New(width, height int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}

	stride := width * BytesPerPixel
	size := stride * height

	fd, err := unix.MemfdCreate("wlactivate-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create failed: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate failed: %w", err)
	}

	// The size never changes once the pool exists.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to seal shm file: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return &Buffer{
		fd:     fd,
		data:   data,
		Width:  width,
		Height: height,
		Stride: stride,
	}, nil
}

// Fd is the memfd backing the buffer, suitable for wl_shm.create_pool.
func (b *Buffer) Fd() int {
	return b.fd
}

// Size is the mapped size in bytes.
func (b *Buffer) Size() int {
	return b.Stride * b.Height
}

// Image exposes the mapping as a drawable image. It must not be used after
// Close.
func (b *Buffer) Image() *XRGB {
	return NewXRGB(b.data, b.Stride, image.Rect(0, 0, b.Width, b.Height))
}

// Fill paints the whole buffer with c.
func (b *Buffer) Fill(c color.Color) {
	img := b.Image()
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Close unmaps the memory and closes the file. A compositor that already
// received the fd keeps its own mapping.
func (b *Buffer) Close() error {
	var errs []error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			errs = append(errs, fmt.Errorf("munmap failed: %w", err))
		}
		b.data = nil
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil {
			errs = append(errs, fmt.Errorf("close failed: %w", err))
		}
		b.fd = -1
	}
	return errors.Join(errs...)
}
