package protocols

// Core and xdg-shell interface names as advertised by wl_registry.global.
const (
	CompositorInterfaceName = "wl_compositor"
	ShmInterfaceName        = "wl_shm"
	SeatInterfaceName       = "wl_seat"
	WmBaseInterfaceName     = "xdg_wm_base"
)
