package apps

import (
	"context"
	"sort"

	"tn3270kit/internal/registry"
	"tn3270kit/internal/tn3270"
)

// Screen is the part of a 3270 session an App draws on.
type Screen interface {
	Rows() int
	Cols() int
	Send(data []byte) error
}

// Terminal is what an App sees of the connection it serves.
type Terminal struct {
	Screen   Screen
	Peer     string
	LU       registry.LU
	Registry *registry.Registry
}

// SwitchTo asks for the peer to move to target at its next ready point.
func (t *Terminal) SwitchTo(ctx context.Context, target string, drain bool) error {
	return t.Registry.RequestSwitch(ctx, t.Peer, target, drain)
}

// Stream starts an Erase/Write for the terminal's geometry, using the
// alternate partition when it differs from the default screen.
func (t *Terminal) Stream() *tn3270.Stream {
	rows, cols := t.Screen.Rows(), t.Screen.Cols()
	alternate := rows != tn3270.DefaultRows || cols != tn3270.DefaultCols
	return tn3270.NewStream(rows, cols).EraseWrite(alternate, tn3270.WCCReset)
}

// App defines the interface for a host application served to a terminal.
type App interface {
	// Name returns the unique identifier for the app.
	Name() string
	// Ready draws the app's first screen once the terminal is in 3270 mode
	// or the app has just been switched to.
	Ready(ctx context.Context, t *Terminal) error
	// Process handles one inbound 3270 record.
	Process(ctx context.Context, t *Terminal, data []byte) error
}

// Registry holds all available apps.
type Registry struct {
	apps map[string]App
}

func NewRegistry() *Registry {
	return &Registry{
		apps: make(map[string]App),
	}
}

// Builtin returns a registry with the echo and banner apps.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(&Echo{Exit: BannerName})
	r.Register(&Banner{Next: EchoName})
	return r
}

func (r *Registry) Register(a App) {
	r.apps[a.Name()] = a
}

func (r *Registry) Get(name string) App {
	return r.apps[name]
}

// Names lists the registered apps in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
