package protocols

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rajveermalviya/go-wayland/wayland/client"
)

// Protocol interface names
const (
	ActivationInterfaceName      = "xdg_activation_v1"
	ActivationTokenInterfaceName = "xdg_activation_token_v1"
)

// xdg_activation_v1 requests
const (
	activationDestroy = iota
	activationGetActivationToken
	activationActivate
)

// xdg_activation_token_v1 requests
const (
	tokenSetSerial = iota
	tokenSetAppID
	tokenSetSurface
	tokenCommit
	tokenDestroy
)

// xdg_activation_token_v1 events
const (
	tokenEventDone = 0
)

// maxMessageSize is the largest message the 16-bit size field can carry.
const maxMessageSize = 0xffff

var (
	_ client.Dispatcher = (*Activation)(nil)
	_ client.Dispatcher = (*ActivationToken)(nil)
)

// newRequest allocates a request of size bytes and writes its header.
func newRequest(sender uint32, opcode int, size int) ([]byte, error) {
	if size > maxMessageSize {
		return nil, fmt.Errorf("request %d on object %d is %d bytes, limit is %d", opcode, sender, size, maxMessageSize)
	}
	buf := make([]byte, size)
	client.PutUint32(buf[0:4], sender)
	client.PutUint32(buf[4:8], uint32(size<<16|opcode&0x0000ffff))
	return buf, nil
}

// Activation is the xdg_activation_v1 global. It hands out activation
// tokens and redeems them to activate surfaces.
type Activation struct {
	client.BaseProxy
}

// NewActivation registers a new xdg_activation_v1 proxy, ready to be bound
// through the registry.
func NewActivation(ctx *client.Context) *Activation {
	a := &Activation{}
	ctx.Register(a)
	return a
}

// Destroy releases the activation global. Tokens already handed out stay
// valid.
func (a *Activation) Destroy() error {
	defer a.Context().Unregister(a)
	req, err := newRequest(a.ID(), activationDestroy, 8)
	if err != nil {
		return err
	}
	return a.Context().WriteMsg(req, nil)
}

// GetActivationToken creates a token object. Fill it with SetSurface,
// SetSerial or SetAppID, then Commit and wait for the done event.
func (a *Activation) GetActivationToken() (*ActivationToken, error) {
	token := NewActivationToken(a.Context())
	req, err := newRequest(a.ID(), activationGetActivationToken, 8+4)
	if err != nil {
		return nil, err
	}
	client.PutUint32(req[8:12], token.ID())
	if err := a.Context().WriteMsg(req, nil); err != nil {
		a.Context().Unregister(token)
		return nil, err
	}
	return token, nil
}

// Activate asks the compositor to activate surface using token.
func (a *Activation) Activate(token string, surface *client.Surface) error {
	req, err := encodeActivate(a.ID(), token, surface.ID())
	if err != nil {
		return err
	}
	return a.Context().WriteMsg(req, nil)
}

func encodeActivate(sender uint32, token string, surfaceID uint32) ([]byte, error) {
	tokenLen := client.PaddedLen(len(token) + 1)
	req, err := newRequest(sender, activationActivate, 8+(4+tokenLen)+4)
	if err != nil {
		return nil, err
	}
	l := 8
	client.PutString(req[l:l+(4+tokenLen)], token, tokenLen)
	l += 4 + tokenLen
	client.PutUint32(req[l:l+4], surfaceID)
	return req, nil
}

// Dispatch is a no-op, xdg_activation_v1 has no events.
func (a *Activation) Dispatch(opcode uint32, fd int, data []byte) {}

// ActivationTokenDoneEvent carries the token string issued by the
// compositor.
type ActivationTokenDoneEvent struct {
	Token string
}

// ActivationTokenDoneHandlerFunc handles ActivationTokenDoneEvent.
type ActivationTokenDoneHandlerFunc func(ActivationTokenDoneEvent)

// ActivationToken is an xdg_activation_token_v1 object. The compositor
// sends exactly one done event after Commit.
type ActivationToken struct {
	client.BaseProxy
	doneHandler ActivationTokenDoneHandlerFunc
}

// NewActivationToken registers a new token proxy.
func NewActivationToken(ctx *client.Context) *ActivationToken {
	t := &ActivationToken{}
	ctx.Register(t)
	return t
}

// SetSerial binds the token to the input event identified by serial on
// seat. Compositors use it to decide whether the request is legitimate.
func (t *ActivationToken) SetSerial(serial uint32, seat *client.Seat) error {
	req, err := newRequest(t.ID(), tokenSetSerial, 8+4+4)
	if err != nil {
		return err
	}
	client.PutUint32(req[8:12], serial)
	client.PutUint32(req[12:16], seat.ID())
	return t.Context().WriteMsg(req, nil)
}

// SetAppID tags the token with the application id of the client that will
// be activated.
func (t *ActivationToken) SetAppID(appID string) error {
	appIDLen := client.PaddedLen(len(appID) + 1)
	req, err := newRequest(t.ID(), tokenSetAppID, 8+(4+appIDLen))
	if err != nil {
		return err
	}
	client.PutString(req[8:8+(4+appIDLen)], appID, appIDLen)
	return t.Context().WriteMsg(req, nil)
}

// SetSurface names the surface requesting the activation.
func (t *ActivationToken) SetSurface(surface *client.Surface) error {
	req, err := newRequest(t.ID(), tokenSetSurface, 8+4)
	if err != nil {
		return err
	}
	client.PutUint32(req[8:12], surface.ID())
	return t.Context().WriteMsg(req, nil)
}

// Commit sends the token request. No more setters may be called after it.
func (t *ActivationToken) Commit() error {
	req, err := newRequest(t.ID(), tokenCommit, 8)
	if err != nil {
		return err
	}
	return t.Context().WriteMsg(req, nil)
}

// Destroy releases the token object. The token string stays valid.
func (t *ActivationToken) Destroy() error {
	defer t.Context().Unregister(t)
	req, err := newRequest(t.ID(), tokenDestroy, 8)
	if err != nil {
		return err
	}
	return t.Context().WriteMsg(req, nil)
}

// SetDoneHandler sets the handler for the done event.
func (t *ActivationToken) SetDoneHandler(f ActivationTokenDoneHandlerFunc) {
	t.doneHandler = f
}

// Dispatch decodes events sent to the token.
func (t *ActivationToken) Dispatch(opcode uint32, fd int, data []byte) {
	switch opcode {
	case tokenEventDone:
		if t.doneHandler == nil {
			return
		}
		token, ok := decodeString(data)
		if !ok {
			return
		}
		t.doneHandler(ActivationTokenDoneEvent{Token: token})
	}
}

// decodeString reads a string argument at the start of data. The length
// prefix may include padding, the value ends at the first NUL.
func decodeString(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	n := int(client.Uint32(data[0:4]))
	if n == 0 {
		return "", true
	}
	l := 4 + client.PaddedLen(n)
	if l > len(data) || bytes.IndexByte(data[4:l], 0) < 0 {
		return "", false
	}
	return strings.Clone(client.String(data[4:l])), true
}
