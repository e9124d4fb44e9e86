// Package wltest provides an in-process fake compositor for tests. It speaks
// just enough of wl_display, wl_registry, wl_compositor, wl_shm, wl_seat,
// xdg_wm_base and xdg_activation_v1 to drive a client through window
// creation and activation, and records what the client asked for.
package wltest

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Global is a global advertised by the fake compositor.
type Global struct {
	Interface string
	Version   uint32
}

// DefaultGlobals is what a compositor supporting xdg-activation advertises,
// minus a seat.
var DefaultGlobals = []Global{
	{"wl_compositor", 4},
	{"wl_shm", 1},
	{"xdg_wm_base", 2},
	{"xdg_activation_v1", 1},
}

// Options configures the fake compositor.
type Options struct {
	// Globals advertised through the registry. Nil means DefaultGlobals.
	Globals []Global
	// Seat adds a wl_seat with pointer capability.
	Seat bool
	// ButtonSerial, when non-zero, is sent as a pointer button press right
	// after the client gets a pointer.
	ButtonSerial uint32
	// CloseAfterActivate sends xdg_toplevel.close to every toplevel once a
	// surface was activated.
	CloseAfterActivate bool
	// DisconnectAfterActivate hangs up once a surface was activated.
	DisconnectAfterActivate bool
}

// Surface is what the client did with a wl_surface.
type Surface struct {
	ID             uint32
	Title          string
	AppID          string
	ConfigureSent  bool
	Acked          bool
	Commits        int
	AttachedBuffer uint32
	// Pixels of the attached buffer as seen through the shared memory.
	Pixels []byte
	Width  int32
	Height int32
	Stride int32
	Format uint32
}

// Token is an xdg_activation_token_v1 request.
type Token struct {
	ID        uint32
	Value     string
	Surface   uint32
	Serial    uint32
	Seat      uint32
	AppID     string
	Committed bool
	Destroyed bool
}

// Activation is an xdg_activation_v1.activate request.
type Activation struct {
	Token   string
	Surface uint32
}

// Record is a snapshot of everything the client did.
type Record struct {
	Binds       map[string]uint32 // interface -> bound version
	Surfaces    []Surface         // in creation order
	Tokens      []Token
	Activations []Activation
	Pongs       []uint32
	Violations  []string
}

type object struct {
	iface string
	// Role links: xdg_surface -> wl_surface, xdg_toplevel -> xdg_surface.
	parent uint32
}

type pool struct {
	fd   int
	size int32
}

type buffer struct {
	pixels []byte
	width  int32
	height int32
	stride int32
	format uint32
}

// Server is a fake compositor listening on a Unix socket.
type Server struct {
	Path string

	opts     Options
	listener *net.UnixListener

	mu        sync.Mutex
	conn      *net.UnixConn
	objects   map[uint32]*object
	surfaces  map[uint32]*Surface
	order     []uint32
	tokens    map[uint32]*Token
	tokenIDs  []uint32
	pools     map[uint32]*pool
	buffers   map[uint32]*buffer
	pending   map[uint32]uint32 // wl_surface -> attached, not yet committed buffer
	configure map[uint32]uint32 // wl_surface -> last configure serial
	rec       Record
	serial    uint32
	globals   []Global
	fds       []int
	hungUp    bool

	done chan struct{}
	err  error
}

// NewServer listens on a fresh socket in dir and serves a single client in
// the background.
func NewServer(dir string, opts Options) (*Server, error) {
	path := filepath.Join(dir, "wayland-test")
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	globals := opts.Globals
	if globals == nil {
		globals = DefaultGlobals
	}
	if opts.Seat {
		globals = append(append([]Global(nil), globals...), Global{"wl_seat", 5})
	}

	s := &Server{
		Path:      path,
		opts:      opts,
		listener:  listener,
		objects:   map[uint32]*object{1: {iface: "wl_display"}},
		surfaces:  make(map[uint32]*Surface),
		tokens:    make(map[uint32]*Token),
		pools:     make(map[uint32]*pool),
		buffers:   make(map[uint32]*buffer),
		pending:   make(map[uint32]uint32),
		configure: make(map[uint32]uint32),
		rec:       Record{Binds: make(map[string]uint32)},
		globals:   globals,
		done:      make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// Done is closed once the client disconnected or the server was closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the server, if any. Valid after Done.
func (s *Server) Err() error {
	return s.err
}

// Close stops listening and drops the client.
func (s *Server) Close() error {
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return err
}

// Record returns a copy of what the client did so far.
func (s *Server) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Binds:       make(map[string]uint32, len(s.rec.Binds)),
		Activations: append([]Activation(nil), s.rec.Activations...),
		Pongs:       append([]uint32(nil), s.rec.Pongs...),
		Violations:  append([]string(nil), s.rec.Violations...),
	}
	for k, v := range s.rec.Binds {
		rec.Binds[k] = v
	}
	for _, id := range s.order {
		rec.Surfaces = append(rec.Surfaces, *s.surfaces[id])
	}
	for _, id := range s.tokenIDs {
		rec.Tokens = append(rec.Tokens, *s.tokens[id])
	}
	return rec
}

func (s *Server) serve() {
	defer close(s.done)
	defer s.listener.Close()

	conn, err := s.listener.AcceptUnix()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.err = err
		}
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()
	defer s.closeFds()

	var data []byte
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(28*4))
	for {
		n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if oobn > 0 {
			s.collectFds(oob[:oobn])
		}
		if err != nil || n <= 0 {
			// Client hung up.
			return
		}
		data = append(data, buf[:n]...)

		for len(data) >= headerSize {
			h, herr := parseHeader(data)
			if herr != nil {
				s.err = herr
				return
			}
			if len(data) < int(h.size) {
				break
			}
			s.mu.Lock()
			herr = s.handle(h, data[headerSize:h.size])
			hungUp := s.hungUp
			s.mu.Unlock()
			if herr != nil {
				s.err = herr
				return
			}
			if hungUp {
				return
			}
			data = data[h.size:]
		}
	}
}

func (s *Server) collectFds(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		s.fds = append(s.fds, fds...)
	}
}

func (s *Server) closeFds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fd := range s.fds {
		unix.Close(fd)
	}
	s.fds = nil
	for id, p := range s.pools {
		unix.Close(p.fd)
		delete(s.pools, id)
	}
}

func (s *Server) nextSerial() uint32 {
	s.serial++
	return s.serial
}

func (s *Server) send(m *message) {
	if s.conn == nil || s.hungUp {
		return
	}
	if _, err := s.conn.Write(m.Bytes()); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *Server) violation(format string, args ...any) {
	s.rec.Violations = append(s.rec.Violations, fmt.Sprintf(format, args...))
}

func (s *Server) handle(h header, payload []byte) error {
	obj, ok := s.objects[h.objectID]
	if !ok {
		s.violation("request %d on unknown object %d", h.opcode, h.objectID)
		return nil
	}

	d := newDecoder(payload)
	switch obj.iface {
	case "wl_display":
		s.handleDisplay(h.opcode, d)
	case "wl_registry":
		s.handleRegistry(h.opcode, d)
	case "wl_compositor":
		if h.opcode == 0 { // create_surface
			id := d.Uint32()
			s.objects[id] = &object{iface: "wl_surface"}
			s.surfaces[id] = &Surface{ID: id}
			s.order = append(s.order, id)
		}
	case "wl_shm":
		if h.opcode == 0 { // create_pool
			id := d.Uint32()
			size := d.Int32()
			if len(s.fds) == 0 {
				return fmt.Errorf("wl_shm.create_pool without a file descriptor")
			}
			fd := s.fds[0]
			s.fds = s.fds[1:]
			s.objects[id] = &object{iface: "wl_shm_pool"}
			s.pools[id] = &pool{fd: fd, size: size}
		}
	case "wl_shm_pool":
		s.handleShmPool(h.objectID, h.opcode, d)
	case "wl_surface":
		s.handleSurface(h.objectID, h.opcode, d)
	case "xdg_wm_base":
		s.handleWmBase(h.opcode, d)
	case "xdg_surface":
		s.handleXdgSurface(h.objectID, obj, h.opcode, d)
	case "xdg_toplevel":
		s.handleToplevel(obj, h.opcode, d)
	case "xdg_activation_v1":
		s.handleActivation(h.opcode, d)
	case "xdg_activation_token_v1":
		s.handleToken(h.objectID, h.opcode, d)
	case "wl_seat":
		if h.opcode == 0 { // get_pointer
			id := d.Uint32()
			s.objects[id] = &object{iface: "wl_pointer"}
			if s.opts.ButtonSerial != 0 {
				// button(serial, time, button, state): BTN_LEFT pressed
				s.send(newMessage(id, 3).
					PutUint32(s.opts.ButtonSerial).
					PutUint32(1000).
					PutUint32(0x110).
					PutUint32(1))
			}
		}
	}

	if err := d.Err(); err != nil {
		return fmt.Errorf("%s opcode %d: %w", obj.iface, h.opcode, err)
	}
	return nil
}

func (s *Server) handleDisplay(opcode uint16, d *decoder) {
	switch opcode {
	case 0: // sync
		id := d.Uint32()
		s.send(newMessage(id, 0).PutUint32(s.nextSerial()))
		s.send(newMessage(1, 1).PutUint32(id)) // delete_id
	case 1: // get_registry
		id := d.Uint32()
		s.objects[id] = &object{iface: "wl_registry"}
		for i, g := range s.globals {
			s.send(newMessage(id, 0).
				PutUint32(uint32(i+1)).
				PutString(g.Interface).
				PutUint32(g.Version))
		}
	}
}

func (s *Server) handleRegistry(opcode uint16, d *decoder) {
	if opcode != 0 { // bind
		return
	}
	name := d.Uint32()
	iface, version, id := d.NewID()
	if d.Err() != nil {
		return
	}
	if name == 0 || int(name) > len(s.globals) || s.globals[name-1].Interface != iface {
		s.violation("bind of unknown global %d (%s)", name, iface)
		return
	}
	if version > s.globals[name-1].Version {
		s.violation("bind of %s version %d above advertised %d", iface, version, s.globals[name-1].Version)
	}
	s.objects[id] = &object{iface: iface}
	s.rec.Binds[iface] = version

	switch iface {
	case "wl_shm":
		s.send(newMessage(id, 0).PutUint32(0)) // argb8888
		s.send(newMessage(id, 0).PutUint32(1)) // xrgb8888
	case "xdg_wm_base":
		s.send(newMessage(id, 0).PutUint32(s.nextSerial())) // ping
	case "wl_seat":
		s.send(newMessage(id, 0).PutUint32(1)) // capabilities: pointer
	}
}

func (s *Server) handleShmPool(id uint32, opcode uint16, d *decoder) {
	p := s.pools[id]
	switch opcode {
	case 0: // create_buffer
		bufID := d.Uint32()
		offset := d.Int32()
		width := d.Int32()
		height := d.Int32()
		stride := d.Int32()
		format := d.Uint32()
		if d.Err() != nil || p == nil {
			return
		}
		s.objects[bufID] = &object{iface: "wl_buffer"}
		b := &buffer{width: width, height: height, stride: stride, format: format}
		if end := offset + stride*height; end <= p.size && offset >= 0 {
			if mem, err := unix.Mmap(p.fd, 0, int(p.size), unix.PROT_READ, unix.MAP_SHARED); err == nil {
				b.pixels = append([]byte(nil), mem[offset:end]...)
				unix.Munmap(mem)
			}
		} else {
			s.violation("buffer %d exceeds pool of %d bytes", bufID, p.size)
		}
		s.buffers[bufID] = b
	case 1: // destroy
		if p != nil {
			unix.Close(p.fd)
			delete(s.pools, id)
		}
		delete(s.objects, id)
	}
}

func (s *Server) handleSurface(id uint32, opcode uint16, d *decoder) {
	surf := s.surfaces[id]
	switch opcode {
	case 0: // destroy
		delete(s.objects, id)
	case 1: // attach
		bufID := d.Uint32()
		d.Int32()
		d.Int32()
		if s.hasRole(id) && !surf.Acked {
			s.violation("buffer attached to surface %d before ack_configure", id)
		}
		s.pending[id] = bufID
	case 6: // commit
		surf.Commits++
		if bufID, ok := s.pending[id]; ok {
			delete(s.pending, id)
			surf.AttachedBuffer = bufID
			if b := s.buffers[bufID]; b != nil {
				surf.Pixels = b.pixels
				surf.Width, surf.Height, surf.Stride, surf.Format = b.width, b.height, b.stride, b.format
			}
		}
		if !surf.ConfigureSent {
			if xdgID, toplevelID := s.roleObjects(id); xdgID != 0 {
				if toplevelID != 0 {
					// configure(width, height, states)
					s.send(newMessage(toplevelID, 0).PutInt32(0).PutInt32(0).PutArray(nil))
				}
				serial := s.nextSerial()
				s.configure[id] = serial
				s.send(newMessage(xdgID, 0).PutUint32(serial))
				surf.ConfigureSent = true
			}
		}
	}
}

func (s *Server) hasRole(surfaceID uint32) bool {
	xdgID, _ := s.roleObjects(surfaceID)
	return xdgID != 0
}

// roleObjects finds the xdg_surface and xdg_toplevel of a wl_surface.
func (s *Server) roleObjects(surfaceID uint32) (xdgID, toplevelID uint32) {
	for id, o := range s.objects {
		if o.iface == "xdg_surface" && o.parent == surfaceID {
			xdgID = id
		}
	}
	if xdgID == 0 {
		return 0, 0
	}
	for id, o := range s.objects {
		if o.iface == "xdg_toplevel" && o.parent == xdgID {
			toplevelID = id
		}
	}
	return xdgID, toplevelID
}

func (s *Server) handleWmBase(opcode uint16, d *decoder) {
	switch opcode {
	case 2: // get_xdg_surface
		id := d.Uint32()
		surfaceID := d.Uint32()
		if _, ok := s.surfaces[surfaceID]; !ok {
			s.violation("get_xdg_surface for unknown surface %d", surfaceID)
		}
		s.objects[id] = &object{iface: "xdg_surface", parent: surfaceID}
	case 3: // pong
		s.rec.Pongs = append(s.rec.Pongs, d.Uint32())
	}
}

func (s *Server) handleXdgSurface(id uint32, obj *object, opcode uint16, d *decoder) {
	switch opcode {
	case 0: // destroy
		delete(s.objects, id)
	case 1: // get_toplevel
		toplevelID := d.Uint32()
		s.objects[toplevelID] = &object{iface: "xdg_toplevel", parent: id}
	case 4: // ack_configure
		serial := d.Uint32()
		surf := s.surfaces[obj.parent]
		if surf == nil {
			return
		}
		if want, ok := s.configure[obj.parent]; !ok || want != serial {
			s.violation("ack_configure with unexpected serial %d on surface %d", serial, obj.parent)
			return
		}
		surf.Acked = true
	}
}

func (s *Server) handleToplevel(obj *object, opcode uint16, d *decoder) {
	xdg := s.objects[obj.parent]
	if xdg == nil {
		return
	}
	surf := s.surfaces[xdg.parent]
	switch opcode {
	case 2: // set_title
		surf.Title = d.String()
	case 3: // set_app_id
		surf.AppID = d.String()
	}
}

func (s *Server) handleActivation(opcode uint16, d *decoder) {
	switch opcode {
	case 1: // get_activation_token
		id := d.Uint32()
		s.objects[id] = &object{iface: "xdg_activation_token_v1"}
		s.tokens[id] = &Token{ID: id}
		s.tokenIDs = append(s.tokenIDs, id)
	case 2: // activate
		token := d.String()
		surfaceID := d.Uint32()
		if d.Err() != nil {
			return
		}
		valid := false
		for _, t := range s.tokens {
			if t.Committed && t.Value == token {
				valid = true
			}
		}
		if !valid {
			s.violation("activate with unknown token %q", token)
		}
		s.rec.Activations = append(s.rec.Activations, Activation{Token: token, Surface: surfaceID})
		s.afterActivate()
	}
}

func (s *Server) afterActivate() {
	if s.opts.CloseAfterActivate {
		for id, o := range s.objects {
			if o.iface == "xdg_toplevel" {
				s.send(newMessage(id, 1)) // close
			}
		}
	}
	if s.opts.DisconnectAfterActivate {
		s.hungUp = true
	}
}

func (s *Server) handleToken(id uint32, opcode uint16, d *decoder) {
	t := s.tokens[id]
	if t.Committed && opcode != 4 {
		s.violation("request %d on committed token %d", opcode, id)
	}
	switch opcode {
	case 0: // set_serial
		t.Serial = d.Uint32()
		t.Seat = d.Uint32()
	case 1: // set_app_id
		t.AppID = d.String()
	case 2: // set_surface
		t.Surface = d.Uint32()
	case 3: // commit
		t.Committed = true
		t.Value = uuid.NewString()
		s.send(newMessage(id, 0).PutString(t.Value)) // done
	case 4: // destroy
		t.Destroyed = true
		delete(s.objects, id)
	}
}
