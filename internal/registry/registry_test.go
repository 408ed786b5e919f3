package registry

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/clock"
	"scanbrain/internal/controller"
	"scanbrain/internal/events"
	"scanbrain/internal/geo"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

var epoch = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, broker events.Broker) (*Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	r := New(controller.Deps{
		Store:  mem,
		Clock:  clock.Fake(epoch),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:   rand.New(rand.NewSource(1)),
	}, broker)
	t.Cleanup(r.Stop)
	return r, mem
}

func circle(name string, points ...geo.Coord) model.InstanceConfig {
	return model.InstanceConfig{Name: name, Kind: model.KindCirclePokemon, Points: points}
}

func TestGetTaskRoutesByDevice(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Load([]model.InstanceConfig{
		circle("north", geo.Coord{Lat: 10, Lon: 10}),
		circle("south", geo.Coord{Lat: -10, Lon: -10}),
	}, map[string]string{"dev-a": "north", "dev-b": "south"}))
	ctx := context.Background()

	task, err := r.GetTask(ctx, model.TaskRequest{UUID: "dev-b"})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "south", task.Area)

	_, err = r.GetTask(ctx, model.TaskRequest{UUID: "stranger"})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	require.NoError(t, r.AssignDevice("stranger", "north"))
	task, err = r.GetTask(ctx, model.TaskRequest{UUID: "stranger"})
	require.NoError(t, err)
	assert.Equal(t, "north", task.Area)
	assert.ErrorIs(t, r.AssignDevice("stranger", "nowhere"), ErrUnknownInstance)
}

func TestLoadRejectsBadSetAndKeepsOld(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Load([]model.InstanceConfig{circle("a")}, nil))

	err := r.Load([]model.InstanceConfig{circle("b"), circle("b")}, nil)
	assert.Error(t, err)
	err = r.Load([]model.InstanceConfig{{Name: "c", Kind: "nope"}}, nil)
	assert.ErrorIs(t, err, controller.ErrInvalidConfig)
	err = r.Load([]model.InstanceConfig{circle("d")}, map[string]string{"dev": "missing"})
	assert.ErrorIs(t, err, ErrUnknownInstance)

	status := r.Status(context.Background())
	require.Len(t, status, 1)
	assert.Equal(t, "a", status[0].Name)
}

func TestStatusSortedWithDeviceCounts(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Load([]model.InstanceConfig{
		circle("zeta", geo.Coord{Lat: 1, Lon: 1}),
		circle("alpha"),
	}, map[string]string{"d1": "zeta", "d2": "zeta"}))

	status := r.Status(context.Background())
	require.Len(t, status, 2)
	assert.Equal(t, InstanceStatus{Name: "alpha", Kind: model.KindCirclePokemon, Status: "No coordinates configured"}, status[0])
	assert.Equal(t, "zeta", status[1].Name)
	assert.Equal(t, 2, status[1].Devices)
}

func TestRemoveInstanceUnassignsDevices(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Load([]model.InstanceConfig{circle("a", geo.Coord{Lat: 1, Lon: 1})}, map[string]string{"dev": "a"}))
	require.NoError(t, r.RemoveInstance("a"))
	_, ok := r.DeviceInstance("dev")
	assert.False(t, ok)
	assert.ErrorIs(t, r.RemoveInstance("a"), ErrUnknownInstance)
	assert.ErrorIs(t, r.Reload(context.Background(), "a"), ErrUnknownInstance)
}

func TestCompletionMovesDevicesToNextInstance(t *testing.T) {
	broker := events.NewBroker()
	sub := broker.Subscribe(events.All)
	r, _ := newRegistry(t, broker)
	tth := model.InstanceConfig{Name: "tth", Kind: model.KindFindTTH, NextInstance: "after"}
	require.NoError(t, r.Load([]model.InstanceConfig{
		tth,
		circle("after", geo.Coord{Lat: 3, Lon: 3}),
	}, map[string]string{"dev": "tth"}))
	ctx := context.Background()

	// No spawnpoints with unknown despawn: the first poll completes.
	task, err := r.GetTask(ctx, model.TaskRequest{UUID: "dev"})
	require.NoError(t, err)
	assert.Nil(t, task)
	name, _ := r.DeviceInstance("dev")
	assert.Equal(t, "after", name)

	select {
	case evt := <-sub:
		assert.Equal(t, "tth", evt.Instance)
		assert.Equal(t, model.KindFindTTH, evt.Kind)
		assert.Equal(t, epoch, evt.CompletedAt)
	case <-time.After(time.Second):
		t.Fatal("no completion published")
	}

	task, err = r.GetTask(ctx, model.TaskRequest{UUID: "dev"})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "after", task.Area)
}

func TestScanNextAndFanOut(t *testing.T) {
	r, _ := newRegistry(t, nil)
	area := geo.Polygon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}}
	require.NoError(t, r.Load([]model.InstanceConfig{
		{Name: "iv", Kind: model.KindPokemonIV, Area: []geo.Polygon{area}, IVList: []int{25}},
		circle("plain", geo.Coord{Lat: 1, Lon: 1}),
	}, map[string]string{"dev": "iv"}))
	ctx := context.Background()

	r.GotPokemon(model.Pokemon{ID: "p1", PokemonID: 25, Lat: 0.5, Lon: 0.5, FirstSeenTimestamp: epoch.Unix()})
	status := r.Status(ctx)
	assert.Contains(t, status[0].Status, "Queue: 1")

	require.NoError(t, r.ScanNext("iv", []geo.Coord{{Lat: 0.2, Lon: 0.2}}))
	task, err := r.GetTask(ctx, model.TaskRequest{UUID: "dev"})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, geo.Coord{Lat: 0.2, Lon: 0.2}, task.Coord())

	assert.ErrorIs(t, r.ScanNext("plain", nil), ErrUnsupported)
	assert.ErrorIs(t, r.ScanNext("ghost", nil), ErrUnknownInstance)
}

// reserving is a controller with a fixed reservation.
type reserving struct {
	cfg      model.InstanceConfig
	mu       sync.Mutex
	reserved map[string]string
	forts    int
	players  int
}

func (c *reserving) Name() string                 { return c.cfg.Name }
func (c *reserving) Kind() model.InstanceKind     { return c.cfg.Kind }
func (c *reserving) Config() model.InstanceConfig { return c.cfg }
func (c *reserving) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	return nil
}
func (c *reserving) GetStatus(ctx context.Context) string { return "ok" }
func (c *reserving) Reload(ctx context.Context)           {}
func (c *reserving) Stop()                                {}

func (c *reserving) TakeReservation(uuid string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.reserved[uuid]
	delete(c.reserved, uuid)
	return name, ok
}

func (c *reserving) GotForts(username string, stops []model.Pokestop) { c.forts++ }
func (c *reserving) GotPlayer(username string, level int, xp int64)  { c.players++ }

func TestAccountPrefersReservation(t *testing.T) {
	r, mem := newRegistry(t, nil)
	mem.SetNow(func() time.Time { return epoch })
	mem.UpsertAccounts(
		model.Account{Username: "reserved", Level: 30},
		model.Account{Username: "fresh", Level: 30},
	)
	fake := &reserving{reserved: map[string]string{"dev": "reserved"}}
	r.SetFactory(func(cfg model.InstanceConfig, deps controller.Deps) (controller.Controller, error) {
		fake.cfg = cfg
		return fake, nil
	})
	require.NoError(t, r.Load([]model.InstanceConfig{{Name: "q", Kind: model.KindAutoQuest, MinLevel: 20}}, map[string]string{"dev": "q"}))
	ctx := context.Background()

	a, err := r.Account(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "reserved", a.Username)

	a, err = r.Account(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "fresh", a.Username)

	// The reserved account was never handed out by storage.
	a, err = r.Account(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "reserved", a.Username)

	_, err = r.Account(ctx, "dev")
	assert.ErrorIs(t, err, store.ErrNoAccount)
	_, err = r.Account(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	r.GotForts("fresh", nil)
	r.GotPlayer("fresh", 30, 1)
	assert.Equal(t, 1, fake.forts)
	assert.Equal(t, 1, fake.players)
}
