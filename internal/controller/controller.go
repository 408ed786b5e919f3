// Package controller holds the per-instance job controllers that decide,
// on every device poll, what that device should do next.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"scanbrain/internal/clock"
	"scanbrain/internal/cooldown"
	"scanbrain/internal/events"
	"scanbrain/internal/geo"
	"scanbrain/internal/metrics"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

// DefaultStorageTimeout bounds every storage call a controller makes.
const DefaultStorageTimeout = 5 * time.Second

var ErrInvalidConfig = errors.New("invalid instance config")

// Controller is the contract the registry dispatches through. All methods
// are total: failures are logged and degrade to a nil task or a placeholder
// status.
type Controller interface {
	Name() string
	Kind() model.InstanceKind
	Config() model.InstanceConfig
	GetTask(ctx context.Context, req model.TaskRequest) *model.Task
	GetStatus(ctx context.Context) string
	Reload(ctx context.Context)
	Stop()
}

// PokemonReceiver accepts freshly seen pokemon.
type PokemonReceiver interface {
	GotPokemon(p model.Pokemon)
}

// FortReceiver accepts pokestops seen by an account while playing.
type FortReceiver interface {
	GotForts(username string, stops []model.Pokestop)
}

// PlayerReceiver accepts level and xp reports for an account.
type PlayerReceiver interface {
	GotPlayer(username string, level int, xp int64)
}

// ScanNexter accepts out-of-band coordinates that are served first.
type ScanNexter interface {
	ScanNext(coords []geo.Coord)
}

// AccountReserver hands out accounts pre-fetched for a device.
type AccountReserver interface {
	TakeReservation(uuid string) (string, bool)
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Store          store.Store
	Geo            geo.Geometry
	Cooldown       cooldown.Service
	Clock          clock.Clock
	Logger         *slog.Logger
	Rand           *rand.Rand
	OnComplete     func(events.Completion)
	StorageTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Geo == nil {
		d.Geo = geo.NewPlanner()
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(d.Clock.Now().UnixNano()))
	}
	if d.Cooldown == nil && d.Store != nil {
		d.Cooldown = cooldown.New(d.Store, d.Clock, d.Logger)
	}
	if d.StorageTimeout <= 0 {
		d.StorageTimeout = DefaultStorageTimeout
	}
	return d
}

// New builds the controller for cfg; the working set is loaded before New
// returns.
func New(cfg model.InstanceConfig, deps Deps) (Controller, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: %s: no store", ErrInvalidConfig, cfg.Name)
	}
	deps = deps.withDefaults()
	switch cfg.Kind {
	case model.KindCirclePokemon, model.KindCircleRaid:
		return NewCircle(cfg, deps), nil
	case model.KindSmartRaid:
		return NewSmartRaid(cfg, deps), nil
	case model.KindAutoQuest:
		return NewAutoQuest(cfg, deps), nil
	case model.KindPokemonIV:
		return NewIVQueue(cfg, deps), nil
	case model.KindBootstrap:
		return NewBootstrap(cfg, deps), nil
	case model.KindFindTTH:
		return NewTTHFinder(cfg, deps), nil
	case model.KindLeveling:
		return NewLeveling(cfg, deps), nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidConfig, cfg.Name, cfg.Kind)
	}
}

// base carries what every variant needs. Variants embed it.
type base struct {
	cfg  model.InstanceConfig
	deps Deps
	log  *slog.Logger
	rng  *lockedRand
}

func newBase(cfg model.InstanceConfig, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("instance", cfg.Name, "kind", string(cfg.Kind)),
		rng:  &lockedRand{r: deps.Rand},
	}
}

// lockedRand serialises access to a *rand.Rand shared across goroutines.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (b *base) Name() string                 { return b.cfg.Name }
func (b *base) Kind() model.InstanceKind     { return b.cfg.Kind }
func (b *base) Config() model.InstanceConfig { return b.cfg }

func (b *base) now() time.Time { return b.deps.Clock.Now() }

// storageCtx derives the bounded context every storage call runs under.
func (b *base) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.deps.StorageTimeout)
}

func (b *base) storageErr(op string, err error) {
	metrics.StorageErrors.WithLabelValues(b.cfg.Name, op).Inc()
	b.log.Error("storage call failed", "op", op, "err", err)
}

// task builds the common task header.
func (b *base) task(action model.Action, at geo.Coord) *model.Task {
	metrics.TasksIssued.WithLabelValues(b.cfg.Name, string(action)).Inc()
	return &model.Task{
		Area:     b.cfg.Name,
		Action:   action,
		Lat:      at.Lat,
		Lon:      at.Lon,
		MinLevel: b.cfg.MinLevel,
		MaxLevel: b.cfg.MaxLevel,
	}
}

func (b *base) empty(reason string, args ...any) *model.Task {
	metrics.EmptyPolls.WithLabelValues(b.cfg.Name).Inc()
	b.log.Warn(reason, args...)
	return nil
}

// complete raises the completion event for this instance.
func (b *base) complete(at time.Time) {
	metrics.Completions.WithLabelValues(b.cfg.Name, string(b.cfg.Kind)).Inc()
	b.log.Info("work cycle completed", "at", at)
	if b.deps.OnComplete != nil {
		b.deps.OnComplete(events.NewCompletion(b.cfg.Name, b.cfg.Kind, at))
	}
}

// account resolves the account a request plays on, if any.
func (b *base) account(ctx context.Context, req model.TaskRequest) *model.Account {
	if req.Account != nil && req.Account.Username != "" {
		return req.Account
	}
	name := req.AccountName()
	if name == "" {
		return nil
	}
	sctx, cancel := b.storageCtx(ctx)
	defer cancel()
	a, err := b.deps.Store.GetAccount(sctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.storageErr("get_account", err)
		}
		return &model.Account{Username: name}
	}
	return &a
}

// guard runs a timer callback body, logging a panic instead of letting it
// kill the process so later ticks still run.
func (b *base) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("timer callback panicked", "timer", name, "panic", r)
		}
	}()
	fn()
}

// areaBounds returns the bounding box of the configured geofence.
func (b *base) areaBounds() geo.BBox { return geo.BoundsOf(b.cfg.Area) }

// ticking runs fn every interval until stop is closed.
type ticking struct {
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newTicking() *ticking { return &ticking{stop: make(chan struct{})} }

func (t *ticking) run(clk clock.Clock, interval time.Duration, fn func()) {
	ticker := clk.NewTicker(interval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// halt stops every loop started by run and waits for them. Safe to call
// more than once.
func (t *ticking) halt() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}
