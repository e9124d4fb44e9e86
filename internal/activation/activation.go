// Package activation runs the xdg-activation-v1 handshake between two
// windows: a token is requested on behalf of the first window and redeemed
// to activate the second one.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/logger"
	"github.com/bnema/wlactivate/internal/protocols"
	"github.com/bnema/wlactivate/internal/wayland"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

// TokenRequest describes what the token is tied to.
type TokenRequest struct {
	// Surface requesting the activation, usually the focused window.
	Surface *client.Surface
	// Serial of the input event that triggered the request, zero for none.
	Serial uint32
	// Seat the serial belongs to. Required when Serial is set.
	Seat *client.Seat
	// AppID of the application to be activated, optional.
	AppID string
}

// RequestToken asks the compositor for an activation token and blocks until
// it arrives. The token object is destroyed once the string is received.
func RequestToken(c *wayland.Client, req TokenRequest) (string, error) {
	if c.Activation == nil {
		return "", fmt.Errorf("%w: %s", wayland.ErrMissingGlobal, protocols.ActivationInterfaceName)
	}

	token, err := c.Activation.GetActivationToken()
	if err != nil {
		return "", fmt.Errorf("failed to get activation token: %w", err)
	}

	var (
		value    string
		received bool
	)
	token.SetDoneHandler(func(e protocols.ActivationTokenDoneEvent) {
		value = e.Token
		received = true
		if err := token.Destroy(); err != nil {
			logger.Debugf("Failed to destroy activation token: %v", err)
		}
	})

	if req.Serial != 0 && req.Seat != nil {
		if err := token.SetSerial(req.Serial, req.Seat); err != nil {
			return "", fmt.Errorf("failed to set token serial: %w", err)
		}
	}
	if req.AppID != "" {
		if err := token.SetAppID(req.AppID); err != nil {
			return "", fmt.Errorf("failed to set token app id: %w", err)
		}
	}
	if req.Surface != nil {
		if err := token.SetSurface(req.Surface); err != nil {
			return "", fmt.Errorf("failed to set token surface: %w", err)
		}
	}
	if err := token.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit token: %w", err)
	}

	if err := c.DispatchUntil(func() bool { return received }); err != nil {
		return "", fmt.Errorf("waiting for activation token: %w", err)
	}
	return value, nil
}

// Session creates the two windows and performs the handshake.
type Session struct {
	cfg     *config.Config
	client  *wayland.Client
	windows []*wayland.Window

	// Token holds the token received for the first window once Run got
	// that far.
	Token string
}

// NewSession prepares a session. Nothing touches the compositor until Run.
func NewSession(cfg *config.Config) *Session {
	return &Session{cfg: cfg}
}

// Run connects, performs the handshake and then dispatches events until the
// compositor disconnects, every window was closed, or ctx is done. A
// cancelled context is not an error.
func (s *Session) Run(ctx context.Context) error {
	inputSerial := s.cfg.Activation.Mode == config.ModeInputSerial

	c, err := wayland.Connect(s.cfg.Display.SocketPath(), wayland.Options{BindSeat: inputSerial})
	if err != nil {
		return err
	}
	s.client = c
	defer s.close()

	// A blocking dispatch only returns once the socket is closed.
	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	err = s.handshake(ctx, inputSerial)
	if err == nil {
		err = c.DispatchUntil(s.allClosed)
	}

	if ctx.Err() != nil {
		logger.Info("Interrupted, shutting down")
		return nil
	}
	if errors.Is(err, wayland.ErrDisconnected) {
		logger.Info("Compositor closed the connection")
		return nil
	}
	if err == nil {
		logger.Info("All windows closed")
	}
	return err
}

// RequiredGlobals lists the interfaces the handshake binds in the given mode.
func RequiredGlobals(mode string) []string {
	required := []string{
		protocols.CompositorInterfaceName,
		protocols.ShmInterfaceName,
		protocols.WmBaseInterfaceName,
		protocols.ActivationInterfaceName,
	}
	if mode == config.ModeInputSerial {
		required = append(required, protocols.SeatInterfaceName)
	}
	return required
}

func (s *Session) handshake(ctx context.Context, inputSerial bool) error {
	c := s.client

	if err := c.Require(RequiredGlobals(s.cfg.Activation.Mode)...); err != nil {
		return err
	}

	first, err := s.createWindow(s.cfg.FirstWindow)
	if err != nil {
		return fmt.Errorf("failed to create first window: %w", err)
	}
	logger.Info("First window created", "title", first.Title)

	req := TokenRequest{
		Surface: first.Surface,
		AppID:   s.cfg.Activation.TokenAppID,
	}
	if inputSerial {
		if !c.HasPointer() {
			logger.Warn("Seat has no pointer yet, waiting for one")
		}
		logger.Info("Click inside the first window to request the activation token")
		if err := c.DispatchUntil(func() bool { _, ok := c.ButtonSerial(); return ok }); err != nil {
			return fmt.Errorf("waiting for pointer button: %w", err)
		}
		req.Serial, _ = c.ButtonSerial()
		req.Seat = c.Seat
		logger.Debug("Captured input serial", "serial", req.Serial)
	}

	token, err := RequestToken(c, req)
	if err != nil {
		return err
	}
	s.Token = token

	if d := s.cfg.Activation.Delay; d > 0 {
		logger.Debugf("Waiting %s before activating", d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logger.Info("Activation token received", "token", token)

	second, err := s.createWindow(s.cfg.SecondWindow)
	if err != nil {
		return fmt.Errorf("failed to create second window: %w", err)
	}
	logger.Info("Second window created", "title", second.Title)

	if err := c.Activation.Activate(token, second.Surface); err != nil {
		return fmt.Errorf("failed to activate second window: %w", err)
	}
	logger.Info("Activation requested", "title", second.Title)
	return nil
}

func (s *Session) createWindow(wc config.WindowConfig) (*wayland.Window, error) {
	fill, err := wc.ParseColor()
	if err != nil {
		return nil, err
	}
	w, err := s.client.CreateWindow(wayland.WindowOptions{
		Title:  wc.Title,
		AppID:  wc.AppID,
		Width:  wc.Width,
		Height: wc.Height,
		Color:  fill,
	})
	if err != nil {
		return nil, err
	}
	s.windows = append(s.windows, w)
	return w, nil
}

func (s *Session) allClosed() bool {
	if len(s.windows) == 0 {
		return false
	}
	for _, w := range s.windows {
		if !w.CloseRequested() {
			return false
		}
	}
	return true
}

func (s *Session) close() {
	for i := len(s.windows) - 1; i >= 0; i-- {
		s.windows[i].Destroy()
	}
	s.windows = nil
	if err := s.client.Close(); err != nil {
		logger.Debugf("Failed to close connection: %v", err)
	}
}
