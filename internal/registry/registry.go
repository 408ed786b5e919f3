// Package registry owns the running instances and routes every device poll
// to the controller of the instance the device is assigned to.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"scanbrain/internal/controller"
	"scanbrain/internal/events"
	"scanbrain/internal/geo"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

var (
	ErrUnknownInstance = errors.New("unknown instance")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnsupported     = errors.New("operation not supported by instance")
)

// Factory builds a controller. controller.New is the default.
type Factory func(cfg model.InstanceConfig, deps controller.Deps) (controller.Controller, error)

// InstanceStatus is one row of Status.
type InstanceStatus struct {
	Name    string             `json:"name"`
	Kind    model.InstanceKind `json:"kind"`
	Status  string             `json:"status"`
	Devices int                `json:"devices"`
}

// Registry is safe for concurrent use. Controllers are called outside the
// registry lock so a slow poll never blocks assignment changes.
type Registry struct {
	deps   controller.Deps
	broker events.Broker
	build  Factory
	log    *slog.Logger

	mu        sync.RWMutex
	instances map[string]controller.Controller
	devices   map[string]string
}

// New returns an empty registry. broker may be nil.
func New(deps controller.Deps, broker events.Broker) *Registry {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		broker:    broker,
		build:     controller.New,
		log:       log,
		instances: map[string]controller.Controller{},
		devices:   map[string]string{},
	}
	deps.OnComplete = r.handleCompletion
	r.deps = deps
	return r
}

// SetFactory replaces the controller constructor; call before Load.
func (r *Registry) SetFactory(f Factory) { r.build = f }

func (r *Registry) newController(cfg model.InstanceConfig) (controller.Controller, error) {
	deps := r.deps
	deps.Logger = r.log.With("instance", cfg.Name, "kind", string(cfg.Kind))
	return r.build(cfg, deps)
}

// Load replaces every running instance with the given set and assigns the
// devices. Nothing changes when any instance fails to build.
func (r *Registry) Load(cfgs []model.InstanceConfig, devices map[string]string) error {
	built := make(map[string]controller.Controller, len(cfgs))
	stopAll := func() {
		for _, c := range built {
			c.Stop()
		}
	}
	for _, cfg := range cfgs {
		if _, dup := built[cfg.Name]; dup {
			stopAll()
			return fmt.Errorf("load instances: duplicate name %q", cfg.Name)
		}
		c, err := r.newController(cfg)
		if err != nil {
			stopAll()
			return fmt.Errorf("load instances: %w", err)
		}
		built[cfg.Name] = c
	}
	assigned := make(map[string]string, len(devices))
	for uuid, name := range devices {
		if _, ok := built[name]; !ok {
			stopAll()
			return fmt.Errorf("load instances: device %s: %w %q", uuid, ErrUnknownInstance, name)
		}
		assigned[uuid] = name
	}

	r.mu.Lock()
	old := r.instances
	r.instances, r.devices = built, assigned
	r.mu.Unlock()
	for _, c := range old {
		c.Stop()
	}
	r.log.Info("instances loaded", "instances", len(built), "devices", len(assigned))
	return nil
}

// AddInstance builds and starts one more instance, replacing a running
// instance with the same name.
func (r *Registry) AddInstance(cfg model.InstanceConfig) error {
	c, err := r.newController(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.instances[cfg.Name]
	r.instances[cfg.Name] = c
	r.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	return nil
}

// RemoveInstance stops an instance and unassigns its devices.
func (r *Registry) RemoveInstance(name string) error {
	r.mu.Lock()
	c, ok := r.instances[name]
	if ok {
		delete(r.instances, name)
		for uuid, inst := range r.devices {
			if inst == name {
				delete(r.devices, uuid)
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownInstance, name)
	}
	c.Stop()
	return nil
}

// AssignDevice points a device at an instance.
func (r *Registry) AssignDevice(uuid, instance string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[instance]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownInstance, instance)
	}
	r.devices[uuid] = instance
	return nil
}

// DeviceInstance returns the instance a device is assigned to.
func (r *Registry) DeviceInstance(uuid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.devices[uuid]
	return name, ok
}

func (r *Registry) instance(name string) (controller.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownInstance, name)
	}
	return c, nil
}

func (r *Registry) deviceController(uuid string) (controller.Controller, error) {
	r.mu.RLock()
	name, ok := r.devices[uuid]
	c := r.instances[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDevice, uuid)
	}
	if c == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownInstance, name)
	}
	return c, nil
}

// GetTask routes a poll to the controller of the device's instance. A nil
// task with a nil error means there is no work right now.
func (r *Registry) GetTask(ctx context.Context, req model.TaskRequest) (*model.Task, error) {
	c, err := r.deviceController(req.UUID)
	if err != nil {
		return nil, err
	}
	return c.GetTask(ctx, req), nil
}

// Status reports every instance, sorted by name.
func (r *Registry) Status(ctx context.Context) []InstanceStatus {
	r.mu.RLock()
	list := make([]controller.Controller, 0, len(r.instances))
	counts := map[string]int{}
	for _, c := range r.instances {
		list = append(list, c)
	}
	for _, name := range r.devices {
		counts[name]++
	}
	r.mu.RUnlock()

	out := make([]InstanceStatus, 0, len(list))
	for _, c := range list {
		out = append(out, InstanceStatus{
			Name:    c.Name(),
			Kind:    c.Kind(),
			Status:  c.GetStatus(ctx),
			Devices: counts[c.Name()],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reload re-derives one instance's working set.
func (r *Registry) Reload(ctx context.Context, name string) error {
	c, err := r.instance(name)
	if err != nil {
		return err
	}
	c.Reload(ctx)
	return nil
}

// ScanNext queues priority coordinates on an instance that supports it.
func (r *Registry) ScanNext(name string, coords []geo.Coord) error {
	c, err := r.instance(name)
	if err != nil {
		return err
	}
	sn, ok := c.(controller.ScanNexter)
	if !ok {
		return fmt.Errorf("%w: scan next on %s", ErrUnsupported, c.Kind())
	}
	sn.ScanNext(coords)
	return nil
}

// Account returns the account a device should log in with. An account
// reserved by the device's instance wins over a fresh one from storage.
func (r *Registry) Account(ctx context.Context, uuid string) (model.Account, error) {
	c, err := r.deviceController(uuid)
	if err != nil {
		return model.Account{}, err
	}
	if res, ok := c.(controller.AccountReserver); ok {
		if name, ok := res.TakeReservation(uuid); ok {
			a, err := r.deps.Store.GetAccount(ctx, name)
			if errors.Is(err, store.ErrNotFound) {
				return model.Account{Username: name}, nil
			}
			return a, err
		}
	}
	cfg := c.Config()
	a, err := r.deps.Store.NextAccount(ctx, cfg.MinLevel, cfg.MaxLevel)
	if err != nil {
		return model.Account{}, fmt.Errorf("account for %s: %w", uuid, err)
	}
	return a, nil
}

func (r *Registry) snapshot() []controller.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]controller.Controller, 0, len(r.instances))
	for _, c := range r.instances {
		out = append(out, c)
	}
	return out
}

// GotPokemon hands a sighting to every instance that tracks pokemon.
func (r *Registry) GotPokemon(p model.Pokemon) {
	for _, c := range r.snapshot() {
		if pr, ok := c.(controller.PokemonReceiver); ok {
			pr.GotPokemon(p)
		}
	}
}

// GotForts hands the stops an account saw to every fort receiver.
func (r *Registry) GotForts(username string, stops []model.Pokestop) {
	for _, c := range r.snapshot() {
		if fr, ok := c.(controller.FortReceiver); ok {
			fr.GotForts(username, stops)
		}
	}
}

// GotPlayer hands a level report to every player receiver.
func (r *Registry) GotPlayer(username string, level int, xp int64) {
	for _, c := range r.snapshot() {
		if pr, ok := c.(controller.PlayerReceiver); ok {
			pr.GotPlayer(username, level, xp)
		}
	}
}

// handleCompletion runs on the goroutine of the controller that finished.
// The controller has already counted the completion.
func (r *Registry) handleCompletion(evt events.Completion) {
	r.log.Info("instance completed", "instance", evt.Instance, "kind", string(evt.Kind), "at", evt.CompletedAt)
	if r.broker != nil {
		r.broker.Publish(evt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.instances[evt.Instance]
	if !ok {
		return
	}
	next := c.Config().NextInstance
	if next == "" || next == evt.Instance {
		return
	}
	if _, ok := r.instances[next]; !ok {
		r.log.Warn("next instance not found", "instance", evt.Instance, "next_instance", next)
		return
	}
	moved := 0
	for uuid, name := range r.devices {
		if name == evt.Instance {
			r.devices[uuid] = next
			moved++
		}
	}
	r.log.Info("devices moved to next instance", "instance", evt.Instance, "next_instance", next, "devices", moved)
}

// Stop halts every instance.
func (r *Registry) Stop() {
	for _, c := range r.snapshot() {
		c.Stop()
	}
}
