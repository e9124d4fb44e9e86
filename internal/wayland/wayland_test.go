package wayland

import (
	"image"
	"image/color"
	"testing"

	"github.com/bnema/wlactivate/internal/protocols"
	"github.com/bnema/wlactivate/internal/shm"
	"github.com/bnema/wlactivate/internal/wltest"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts wltest.Options) *wltest.Server {
	t.Helper()
	srv, err := wltest.NewServer(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestConnectBindsGlobals(t *testing.T) {
	srv := startServer(t, wltest.Options{})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Require("wl_compositor", "wl_shm", "xdg_wm_base", "xdg_activation_v1"))
	assert.True(t, c.SupportsFormat(uint32(client.ShmFormatXrgb8888)))
	assert.False(t, c.HasPointer())

	globals := c.Globals()
	require.Len(t, globals, 4)
	assert.Equal(t, Global{Name: 1, Interface: "wl_compositor", Version: 4}, globals[0])
	assert.Equal(t, "xdg_activation_v1", globals[3].Interface)

	require.NoError(t, c.Roundtrip())
	rec := srv.Record()
	assert.Equal(t, uint32(4), rec.Binds["wl_compositor"])
	assert.Equal(t, uint32(1), rec.Binds["wl_shm"])
	assert.Equal(t, uint32(2), rec.Binds["xdg_wm_base"])
	assert.Equal(t, uint32(1), rec.Binds["xdg_activation_v1"])
	// The ping sent on bind was answered.
	assert.Len(t, rec.Pongs, 1)
	assert.Empty(t, rec.Violations)
}

func TestRequireReportsMissing(t *testing.T) {
	srv := startServer(t, wltest.Options{
		Globals: []wltest.Global{
			{Interface: "wl_compositor", Version: 4},
			{Interface: "wl_shm", Version: 1},
		},
	})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Require("wl_compositor", "xdg_wm_base", "xdg_activation_v1")
	require.ErrorIs(t, err, ErrMissingGlobal)
	assert.Contains(t, err.Error(), "xdg_wm_base")
	assert.Contains(t, err.Error(), "xdg_activation_v1")
	assert.NotContains(t, err.Error(), "wl_compositor")

	_, err = c.CreateWindow(WindowOptions{Title: "x", Width: 10, Height: 10})
	assert.ErrorIs(t, err, ErrMissingGlobal)
}

func TestSeatNotBoundByDefault(t *testing.T) {
	srv := startServer(t, wltest.Options{Seat: true, ButtonSerial: 77})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Seat)
	_, ok := c.ButtonSerial()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Require("wl_seat"), ErrMissingGlobal)
	assert.Contains(t, c.Globals(), Global{Name: 5, Interface: "wl_seat", Version: 5})
}

func TestSeatButtonSerial(t *testing.T) {
	srv := startServer(t, wltest.Options{Seat: true, ButtonSerial: 77})

	c, err := Connect(srv.Path, Options{BindSeat: true})
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Seat)
	require.NoError(t, c.Roundtrip())
	assert.True(t, c.HasPointer())

	serial, ok := c.ButtonSerial()
	assert.True(t, ok)
	assert.Equal(t, uint32(77), serial)
}

func TestCreateWindow(t *testing.T) {
	srv := startServer(t, wltest.Options{})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)
	defer c.Close()

	w, err := c.CreateWindow(WindowOptions{
		Title:  "First Window",
		AppID:  "com.example.firstwindow",
		Width:  20,
		Height: 10,
		Color:  color.RGBA{R: 0xff, A: 0xff},
	})
	require.NoError(t, err)
	assert.True(t, w.Configured())
	assert.False(t, w.CloseRequested())

	require.NoError(t, c.Roundtrip())
	rec := srv.Record()
	require.Len(t, rec.Surfaces, 1)
	s := rec.Surfaces[0]

	assert.Equal(t, w.Surface.ID(), s.ID)
	assert.Equal(t, "First Window", s.Title)
	assert.Equal(t, "com.example.firstwindow", s.AppID)
	assert.True(t, s.Acked)
	assert.Equal(t, 2, s.Commits)
	assert.NotZero(t, s.AttachedBuffer)
	assert.Equal(t, int32(20), s.Width)
	assert.Equal(t, int32(10), s.Height)
	assert.Equal(t, int32(80), s.Stride)
	assert.Equal(t, uint32(client.ShmFormatXrgb8888), s.Format)
	assert.Empty(t, rec.Violations)

	require.Len(t, s.Pixels, 80*10)
	img := shm.NewXRGB(s.Pixels, int(s.Stride), image.Rect(0, 0, 20, 10))
	assert.Equal(t, uint32(0xFFFF0000), img.Word(0, 0))
	assert.Equal(t, uint32(0xFFFF0000), img.Word(19, 9))

	w.Destroy()
	assert.Nil(t, w.Surface)
}

func TestActivationTokenThroughConnection(t *testing.T) {
	srv := startServer(t, wltest.Options{})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)
	defer c.Close()

	token, err := c.Activation.GetActivationToken()
	require.NoError(t, err)
	var value string
	token.SetDoneHandler(func(e protocols.ActivationTokenDoneEvent) {
		value = e.Token
	})

	// 18 bytes plus NUL, sent with a padded length prefix.
	require.NoError(t, token.SetAppID("com.example.second"))
	require.NoError(t, token.Commit())
	require.NoError(t, c.DispatchUntil(func() bool { return value != "" }))
	require.NoError(t, token.Destroy())
	require.NoError(t, c.Roundtrip())

	rec := srv.Record()
	assert.Empty(t, rec.Violations)
	require.Len(t, rec.Tokens, 1)
	assert.Equal(t, value, rec.Tokens[0].Value)
	assert.Equal(t, "com.example.second", rec.Tokens[0].AppID)
	assert.True(t, rec.Tokens[0].Destroyed)
}

func TestCloseInterruptsDispatch(t *testing.T) {
	srv := startServer(t, wltest.Options{})

	c, err := Connect(srv.Path, Options{})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		errc <- c.DispatchUntil(func() bool { return false })
	}()

	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-errc, ErrDisconnected)
	// Closing twice is fine.
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Dispatch(), ErrDisconnected)
}

func TestConnectFailsWithoutCompositor(t *testing.T) {
	_, err := Connect(t.TempDir()+"/nothing-here", Options{})
	assert.Error(t, err)
}
