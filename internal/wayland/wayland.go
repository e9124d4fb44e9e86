package wayland

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bnema/wlactivate/internal/logger"
	"github.com/bnema/wlactivate/internal/protocols"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
)

var (
	// ErrMissingGlobal is returned by Require when the compositor does not
	// advertise an interface we need.
	ErrMissingGlobal = errors.New("missing required Wayland interfaces")

	// ErrDisconnected is returned once the connection has been closed.
	ErrDisconnected = errors.New("wayland connection closed")
)

// Highest versions we know how to speak.
var maxVersions = map[string]uint32{
	protocols.CompositorInterfaceName: 4,
	protocols.ShmInterfaceName:        1,
	protocols.SeatInterfaceName:       5,
	protocols.WmBaseInterfaceName:     2,
	protocols.ActivationInterfaceName: 1,
}

// Global is a registry global as advertised by the compositor.
type Global struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
}

// Options controls what Connect binds.
type Options struct {
	// BindSeat binds the first wl_seat and its pointer so that button press
	// serials can be captured.
	BindSeat bool
}

// Client is a connection to the compositor with the globals needed to put
// windows on screen and activate them.
type Client struct {
	display  *client.Display
	registry *client.Registry
	ctx      *client.Context
	opts     Options

	globals []Global

	Compositor *client.Compositor
	Shm        *client.Shm
	WmBase     *xdg_shell.WmBase
	Activation *protocols.Activation
	Seat       *client.Seat

	pointer      *client.Pointer
	shmFormats   map[uint32]bool
	buttonSerial uint32
	hasSerial    bool

	closeOnce sync.Once
	closed    atomic.Bool
}

// Connect dials the compositor socket and binds the globals. An empty
// socket selects $WAYLAND_DISPLAY under $XDG_RUNTIME_DIR.
func Connect(socket string, opts Options) (*Client, error) {
	display, err := client.Connect(socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland display: %w", err)
	}

	c := &Client{
		display:    display,
		ctx:        display.Context(),
		opts:       opts,
		shmFormats: make(map[uint32]bool),
	}

	display.SetErrorHandler(func(e client.DisplayErrorEvent) {
		logger.Error("Compositor reported a protocol error", "code", e.Code, "message", e.Message)
	})

	registry, err := display.GetRegistry()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	c.registry = registry
	registry.SetGlobalHandler(c.handleGlobal)

	// First roundtrip delivers the globals, the second one the events sent
	// in response to binding them (shm formats, seat capabilities, ping).
	for i := 0; i < 2; i++ {
		if err := c.Roundtrip(); err != nil {
			c.Close()
			return nil, fmt.Errorf("initial roundtrip failed: %w", err)
		}
	}

	return c, nil
}

func (c *Client) handleGlobal(e client.RegistryGlobalEvent) {
	c.globals = append(c.globals, Global{Name: e.Name, Interface: e.Interface, Version: e.Version})

	version := e.Version
	if limit, ok := maxVersions[e.Interface]; ok && version > limit {
		version = limit
	}

	switch e.Interface {
	case protocols.CompositorInterfaceName:
		if c.Compositor != nil {
			return
		}
		compositor := client.NewCompositor(c.ctx)
		if err := c.registry.Bind(e.Name, e.Interface, version, compositor); err != nil {
			logger.Errorf("Failed to bind %s: %v", e.Interface, err)
			return
		}
		c.Compositor = compositor

	case protocols.ShmInterfaceName:
		if c.Shm != nil {
			return
		}
		shm := client.NewShm(c.ctx)
		if err := c.registry.Bind(e.Name, e.Interface, version, shm); err != nil {
			logger.Errorf("Failed to bind %s: %v", e.Interface, err)
			return
		}
		shm.SetFormatHandler(func(ev client.ShmFormatEvent) {
			c.shmFormats[ev.Format] = true
		})
		c.Shm = shm

	case protocols.WmBaseInterfaceName:
		if c.WmBase != nil {
			return
		}
		wmBase := xdg_shell.NewWmBase(c.ctx)
		if err := c.registry.Bind(e.Name, e.Interface, version, wmBase); err != nil {
			logger.Errorf("Failed to bind %s: %v", e.Interface, err)
			return
		}
		wmBase.SetPingHandler(func(ev xdg_shell.WmBasePingEvent) {
			if err := wmBase.Pong(ev.Serial); err != nil {
				logger.Errorf("Failed to answer ping: %v", err)
			}
		})
		c.WmBase = wmBase

	case protocols.ActivationInterfaceName:
		if c.Activation != nil {
			return
		}
		activation := protocols.NewActivation(c.ctx)
		if err := c.registry.Bind(e.Name, e.Interface, version, activation); err != nil {
			logger.Errorf("Failed to bind %s: %v", e.Interface, err)
			return
		}
		c.Activation = activation

	case protocols.SeatInterfaceName:
		// Only the first seat is used.
		if !c.opts.BindSeat || c.Seat != nil {
			return
		}
		seat := client.NewSeat(c.ctx)
		if err := c.registry.Bind(e.Name, e.Interface, version, seat); err != nil {
			logger.Errorf("Failed to bind %s: %v", e.Interface, err)
			return
		}
		seat.SetCapabilitiesHandler(c.handleSeatCapabilities)
		c.Seat = seat
	}
}

func (c *Client) handleSeatCapabilities(e client.SeatCapabilitiesEvent) {
	hasPointer := e.Capabilities&uint32(client.SeatCapabilityPointer) != 0

	switch {
	case hasPointer && c.pointer == nil:
		pointer, err := c.Seat.GetPointer()
		if err != nil {
			logger.Errorf("Failed to get pointer: %v", err)
			return
		}
		pointer.SetButtonHandler(func(ev client.PointerButtonEvent) {
			if ev.State != uint32(client.PointerButtonStatePressed) {
				return
			}
			logger.Debug("Pointer button pressed", "serial", ev.Serial, "button", ev.Button)
			c.buttonSerial = ev.Serial
			c.hasSerial = true
		})
		c.pointer = pointer
		logger.Debug("Seat pointer acquired")

	case !hasPointer && c.pointer != nil:
		if err := c.pointer.Release(); err != nil {
			logger.Debugf("Failed to release pointer: %v", err)
		}
		c.pointer = nil
	}
}

// Roundtrip blocks until the compositor processed every request sent so far
// and all resulting events were dispatched.
func (c *Client) Roundtrip() error {
	callback, err := c.display.Sync()
	if err != nil {
		return fmt.Errorf("failed to send sync: %w", err)
	}
	done := false
	callback.SetDoneHandler(func(client.CallbackDoneEvent) {
		done = true
	})
	return c.DispatchUntil(func() bool { return done })
}

// Dispatch reads and handles one event, blocking until one arrives.
func (c *Client) Dispatch() error {
	if c.closed.Load() {
		return ErrDisconnected
	}
	if err := c.ctx.Dispatch(); err != nil {
		if c.closed.Load() || errors.Is(err, io.EOF) {
			return ErrDisconnected
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}
	return nil
}

// DispatchUntil dispatches events until cond reports true. cond is checked
// before every dispatch, so a condition that already holds returns at once.
func (c *Client) DispatchUntil(cond func() bool) error {
	for !cond() {
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// Globals lists every global advertised so far, ordered by name.
func (c *Client) Globals() []Global {
	out := make([]Global, len(c.globals))
	copy(out, c.globals)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Require reports ErrMissingGlobal listing every interface in ifaces that
// could not be bound.
func (c *Client) Require(ifaces ...string) error {
	var missing []string
	for _, iface := range ifaces {
		if !c.bound(iface) {
			missing = append(missing, iface)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingGlobal, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Client) bound(iface string) bool {
	switch iface {
	case protocols.CompositorInterfaceName:
		return c.Compositor != nil
	case protocols.ShmInterfaceName:
		return c.Shm != nil
	case protocols.WmBaseInterfaceName:
		return c.WmBase != nil
	case protocols.ActivationInterfaceName:
		return c.Activation != nil
	case protocols.SeatInterfaceName:
		return c.Seat != nil
	}
	for _, g := range c.globals {
		if g.Interface == iface {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether wl_shm announced format.
func (c *Client) SupportsFormat(format uint32) bool {
	return c.shmFormats[format]
}

// ButtonSerial returns the serial of the most recent pointer button press.
func (c *Client) ButtonSerial() (uint32, bool) {
	return c.buttonSerial, c.hasSerial
}

// HasPointer reports whether the bound seat exposes a pointer.
func (c *Client) HasPointer() bool {
	return c.pointer != nil
}

// Close tears down the connection. It is safe to call more than once and
// from another goroutine to interrupt a blocking Dispatch.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.ctx.Close()
	})
	return err
}
