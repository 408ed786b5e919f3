package api

import (
	"sort"
	"sync"
	"time"
)

// DeviceSeen is the last contact of a device.
type DeviceSeen struct {
	UUID     string    `json:"uuid"`
	Instance string    `json:"instance,omitempty"`
	Username string    `json:"username,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// deviceTracker remembers when each device last talked to the brain.
type deviceTracker struct {
	mu       sync.Mutex
	m        map[string]DeviceSeen
	starting map[string]struct{}
}

func newDeviceTracker() *deviceTracker {
	return &deviceTracker{m: map[string]DeviceSeen{}, starting: map[string]struct{}{}}
}

// started marks uuid as freshly started; the next takeStartup reports it.
func (d *deviceTracker) started(uuid string) {
	d.mu.Lock()
	d.starting[uuid] = struct{}{}
	d.mu.Unlock()
}

// takeStartup reports whether uuid sent init since its last job poll.
func (d *deviceTracker) takeStartup(uuid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.starting[uuid]
	delete(d.starting, uuid)
	return ok
}

// touch records a contact; an empty username keeps the previous one.
func (d *deviceTracker) touch(uuid, instance, username string, at time.Time) {
	if uuid == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.m[uuid]
	if username == "" {
		username = prev.Username
	}
	d.m[uuid] = DeviceSeen{UUID: uuid, Instance: instance, Username: username, LastSeen: at}
}

func (d *deviceTracker) list() []DeviceSeen {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeviceSeen, 0, len(d.m))
	for _, v := range d.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}
