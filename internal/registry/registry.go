// Package registry provides the thread-safe device registry.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/kcbridge/kcbridge/internal/model"
)

// ChangeType indicates the type of registry change.
type ChangeType int

const (
	// ChangeTypeUpsert indicates a device was created or updated.
	ChangeTypeUpsert ChangeType = iota
	// ChangeTypeUnreachable indicates a device was marked unreachable.
	ChangeTypeUnreachable
	// ChangeTypeRemove indicates a device record was removed.
	ChangeTypeRemove
)

// ChangeEvent signals registry content changes.
type ChangeEvent struct {
	Type     ChangeType
	DeviceID string
}

// DeviceFields is a partial device update. Nil fields are left
// untouched, so concurrent reporters only overwrite what they know.
type DeviceFields struct {
	Name         *string
	Type         *model.DeviceType
	Reachable    *bool
	Paired       *bool
	Trusted      *bool
	Battery      *model.BatteryState
	Connectivity *model.ConnectivityState
}

// Registry manages device records with thread-safe operations.
// Updates are applied in arrival order: the latest write of a field
// wins. Reads hand out deep copies, never live records.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*model.Device

	subscribers []chan ChangeEvent
	closed      bool

	now func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:     make(map[string]*model.Device),
		subscribers: make([]chan ChangeEvent, 0),
		now:         time.Now,
	}
}

// Upsert creates or updates a device record, applying only the non-nil
// fields. Returns a copy of the resulting record.
func (r *Registry) Upsert(id string, fields DeviceFields) (*model.Device, error) {
	if id == "" {
		return nil, model.ErrEmptyDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	d, exists := r.devices[id]
	if !exists {
		d = &model.Device{ID: id, Type: model.DeviceTypeUnknown}
		r.devices[id] = d
	}

	if fields.Name != nil {
		d.Name = *fields.Name
	}
	if fields.Type != nil {
		d.Type = *fields.Type
	}
	if fields.Reachable != nil {
		d.Reachable = *fields.Reachable
	}
	if fields.Paired != nil {
		d.Paired = *fields.Paired
	}
	if fields.Trusted != nil {
		d.Trusted = *fields.Trusted
	}
	if fields.Battery != nil {
		b := *fields.Battery
		d.Battery = &b
	}
	if fields.Connectivity != nil {
		c := *fields.Connectivity
		d.Connectivity = &c
	}

	// A report about the device counts as hearing from it, unless the
	// report itself says the device went away.
	if fields.Reachable == nil || *fields.Reachable {
		d.LastSeen = r.now().Unix()
	}

	r.notifyChange(ChangeEvent{Type: ChangeTypeUpsert, DeviceID: id})

	return d.Clone(), nil
}

// MarkUnreachable flags a device as unreachable without touching the
// rest of its record. Unknown ids are ignored.
func (r *Registry) MarkUnreachable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	d, exists := r.devices[id]
	if !exists || !d.Reachable {
		return nil
	}

	d.Reachable = false
	r.notifyChange(ChangeEvent{Type: ChangeTypeUnreachable, DeviceID: id})
	return nil
}

// Remove deletes a device record entirely.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	if _, exists := r.devices[id]; !exists {
		return nil
	}

	delete(r.devices, id)
	r.notifyChange(ChangeEvent{Type: ChangeTypeRemove, DeviceID: id})
	return nil
}

// Get returns a copy of a device record, or nil if unknown.
func (r *Registry) Get(id string) *model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.devices[id]
	if !exists {
		return nil
	}
	return d.Clone()
}

// All returns copies of all device records sorted by id.
func (r *Registry) All() []model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		result = append(result, *d.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// Count returns the number of device records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SweepStale marks reachable devices unreachable when they have not
// been heard from within the given window. Returns the affected ids.
// A zero window disables the sweep.
func (r *Registry) SweepStale(window time.Duration) []string {
	if window <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	cutoff := r.now().Add(-window).Unix()
	var stale []string

	for id, d := range r.devices {
		if d.Reachable && d.LastSeen < cutoff {
			d.Reachable = false
			stale = append(stale, id)
			r.notifyChange(ChangeEvent{Type: ChangeTypeUnreachable, DeviceID: id})
		}
	}

	sort.Strings(stale)
	return stale
}

// Subscribe returns a channel that receives change events.
func (r *Registry) Subscribe() <-chan ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (r *Registry) Unsubscribe(ch <-chan ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close releases resources and closes all subscriber channels.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil

	return nil
}

// notifyChange sends a change event to all subscribers (non-blocking).
func (r *Registry) notifyChange(event ChangeEvent) {
	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// Errors
var (
	ErrRegistryClosed = registryError("registry is closed")
)

type registryError string

func (e registryError) Error() string {
	return string(e)
}
