package wayland

import (
	"fmt"
	"image/color"

	"github.com/bnema/wlactivate/internal/logger"
	"github.com/bnema/wlactivate/internal/protocols"
	"github.com/bnema/wlactivate/internal/shm"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
)

// WindowOptions describes a top-level window.
type WindowOptions struct {
	Title  string
	AppID  string
	Width  int
	Height int
	Color  color.Color
}

// Window is an xdg_toplevel surface showing a solid shm buffer.
type Window struct {
	Title string

	Surface    *client.Surface
	xdgSurface *xdg_shell.Surface
	toplevel   *xdg_shell.Toplevel
	buffer     *client.Buffer

	configured     bool
	closeRequested bool
}

// CreateWindow maps a new top-level window. It blocks until the compositor
// sent the first configure and it was acknowledged, then attaches a buffer
// filled with opts.Color and commits.
func (c *Client) CreateWindow(opts WindowOptions) (*Window, error) {
	if err := c.Require(protocols.CompositorInterfaceName, protocols.ShmInterfaceName, protocols.WmBaseInterfaceName); err != nil {
		return nil, err
	}

	w := &Window{Title: opts.Title}

	surface, err := c.Compositor.CreateSurface()
	if err != nil {
		return nil, fmt.Errorf("failed to create surface: %w", err)
	}
	w.Surface = surface

	xdgSurface, err := c.WmBase.GetXdgSurface(surface)
	if err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to get xdg surface: %w", err)
	}
	w.xdgSurface = xdgSurface
	xdgSurface.SetConfigureHandler(func(e xdg_shell.SurfaceConfigureEvent) {
		if err := xdgSurface.AckConfigure(e.Serial); err != nil {
			logger.Errorf("Failed to ack configure for %q: %v", w.Title, err)
			return
		}
		w.configured = true
	})

	toplevel, err := xdgSurface.GetToplevel()
	if err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to get toplevel: %w", err)
	}
	w.toplevel = toplevel
	toplevel.SetConfigureHandler(func(e xdg_shell.ToplevelConfigureEvent) {
		logger.Debug("Toplevel configure", "title", w.Title, "width", e.Width, "height", e.Height)
	})
	toplevel.SetCloseHandler(func(xdg_shell.ToplevelCloseEvent) {
		logger.Debug("Close requested", "title", w.Title)
		w.closeRequested = true
	})

	if err := toplevel.SetTitle(opts.Title); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to set title: %w", err)
	}
	if err := toplevel.SetAppId(opts.AppID); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to set app id: %w", err)
	}

	// Initial commit without a buffer asks the compositor for a configure.
	if err := surface.Commit(); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to commit surface: %w", err)
	}

	if err := c.DispatchUntil(w.Configured); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("waiting for configure: %w", err)
	}

	buffer, err := c.createBuffer(opts.Width, opts.Height, opts.Color)
	if err != nil {
		w.Destroy()
		return nil, err
	}
	w.buffer = buffer

	if err := surface.Attach(buffer, 0, 0); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to attach buffer: %w", err)
	}
	if err := surface.Damage(0, 0, int32(opts.Width), int32(opts.Height)); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to damage surface: %w", err)
	}
	if err := surface.Commit(); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("failed to commit surface: %w", err)
	}

	return w, nil
}

// createBuffer fills a fresh shm file and wraps it in a wl_buffer. The pool
// and the local mapping are released right away, the compositor keeps its
// own reference to the memory.
func (c *Client) createBuffer(width, height int, fill color.Color) (*client.Buffer, error) {
	format := uint32(client.ShmFormatXrgb8888)

	buf, err := shm.New(width, height)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	if fill == nil {
		fill = color.Black
	}
	buf.Fill(fill)

	pool, err := c.Shm.CreatePool(buf.Fd(), int32(buf.Size()))
	if err != nil {
		return nil, fmt.Errorf("failed to create shm pool: %w", err)
	}
	defer pool.Destroy()

	wlBuffer, err := pool.CreateBuffer(0, int32(width), int32(height), int32(buf.Stride), format)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %w", err)
	}
	return wlBuffer, nil
}

// Configured reports whether the first configure was acknowledged.
func (w *Window) Configured() bool {
	return w.configured
}

// CloseRequested reports whether the compositor asked to close the window.
func (w *Window) CloseRequested() bool {
	return w.closeRequested
}

// Destroy releases the window objects in reverse creation order.
func (w *Window) Destroy() {
	if w.toplevel != nil {
		if err := w.toplevel.Destroy(); err != nil {
			logger.Debugf("Failed to destroy toplevel: %v", err)
		}
		w.toplevel = nil
	}
	if w.xdgSurface != nil {
		if err := w.xdgSurface.Destroy(); err != nil {
			logger.Debugf("Failed to destroy xdg surface: %v", err)
		}
		w.xdgSurface = nil
	}
	if w.Surface != nil {
		if err := w.Surface.Destroy(); err != nil {
			logger.Debugf("Failed to destroy surface: %v", err)
		}
		w.Surface = nil
	}
	if w.buffer != nil {
		if err := w.buffer.Destroy(); err != nil {
			logger.Debugf("Failed to destroy buffer: %v", err)
		}
		w.buffer = nil
	}
}
