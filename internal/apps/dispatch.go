package apps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Consecutive switches without operator input before a cycle is assumed.
const maxSwitchChain = 8

var ErrSwitchLoop = errors.New("application switch loop")

// Dispatcher runs the active app for one terminal and applies the switches
// apps request through the session registry.
type Dispatcher struct {
	apps    *Registry
	term    *Terminal
	initial string
	logger  *slog.Logger

	active App
}

func NewDispatcher(apps *Registry, term *Terminal, initial string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		apps:    apps,
		term:    term,
		initial: initial,
		logger:  logger,
	}
}

// Active returns the name of the running app, or "" before Start.
func (d *Dispatcher) Active() string {
	if d.active == nil {
		return ""
	}
	return d.active.Name()
}

// Start activates the initial app. Calling it again, as after a
// renegotiation, redraws whichever app is active.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.active != nil {
		if err := d.active.Ready(ctx, d.term); err != nil {
			return err
		}
		return d.settle(ctx)
	}
	if err := d.activate(ctx, d.initial); err != nil {
		return err
	}
	return d.settle(ctx)
}

// Handle passes one inbound record to the active app. A record that arrives
// while a draining switch is pending is consumed by the switch instead.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) error {
	if d.active == nil {
		return d.Start(ctx)
	}

	pending, ok, err := d.term.Registry.PendingSwitch(ctx, d.term.Peer)
	if err != nil {
		return err
	}
	if ok && pending.Drain {
		d.logger.Debug("Input drained before switch", "from", d.Active(), "to", pending.Target, "len", len(data))
		if err := d.complete(ctx); err != nil {
			return err
		}
		return d.settle(ctx)
	}

	if err := d.active.Process(ctx, d.term, data); err != nil {
		return err
	}
	return d.settle(ctx)
}

// settle applies switches that do not wait for input.
func (d *Dispatcher) settle(ctx context.Context) error {
	for i := 0; i < maxSwitchChain; i++ {
		pending, ok, err := d.term.Registry.PendingSwitch(ctx, d.term.Peer)
		if err != nil {
			return err
		}
		if !ok || pending.Drain {
			return nil
		}
		if err := d.complete(ctx); err != nil {
			return err
		}
	}
	return ErrSwitchLoop
}

func (d *Dispatcher) complete(ctx context.Context) error {
	name, err := d.term.Registry.CompleteSwitch(ctx, d.term.Peer)
	if err != nil {
		return err
	}
	if d.apps.Get(name) == nil {
		return fmt.Errorf("switch to unknown app %q", name)
	}
	d.logger.Info("Switching app", "from", d.Active(), "to", name)
	return d.run(ctx, name)
}

func (d *Dispatcher) activate(ctx context.Context, name string) error {
	if d.apps.Get(name) == nil {
		return fmt.Errorf("unknown app %q", name)
	}
	if err := d.term.Registry.SetActive(ctx, d.term.Peer, name); err != nil {
		return err
	}
	return d.run(ctx, name)
}

func (d *Dispatcher) run(ctx context.Context, name string) error {
	d.active = d.apps.Get(name)
	return d.active.Ready(ctx, d.term)
}
