package schema

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateUUID = errors.New("device uuid already registered")
	ErrUnknownDevice = errors.New("unknown device")
)

// ComponentItems pairs a component with the data items it owns, in document
// order. A nil Component means the items hang off the device element itself.
type ComponentItems struct {
	Component *Component
	DataItems []*DataItem
}

type deviceIndex struct {
	device *Device
	byID   map[string]*DataItem
	byName map[string]*DataItem
	walk   []ComponentItems
}

// Registry indexes registered devices for SHDR key resolution and response
// assembly. Registration happens once at startup; reads are concurrent.
type Registry struct {
	mu         sync.RWMutex
	byUUID     map[string]*deviceIndex
	nameToUUID map[string]string
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{
		byUUID:     make(map[string]*deviceIndex),
		nameToUUID: make(map[string]string),
	}
}

// Register indexes a device. A uuid collision is rejected and the existing
// registration wins.
func (r *Registry) Register(d *Device) error {
	if d.UUID == "" {
		return errors.New("device uuid is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUUID[d.UUID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, d.UUID)
	}

	idx := &deviceIndex{
		device: d,
		byID:   make(map[string]*DataItem),
		byName: make(map[string]*DataItem),
	}
	d.eachDataItem(func(_ *Component, di *DataItem) {
		idx.byID[di.ID] = di
		if di.Name != "" {
			idx.byName[di.Name] = di
		}
	})

	if len(d.DataItems) > 0 {
		idx.walk = append(idx.walk, ComponentItems{Component: nil, DataItems: d.DataItems})
	}
	d.eachComponent(func(c *Component) {
		if len(c.DataItems) > 0 {
			idx.walk = append(idx.walk, ComponentItems{Component: c, DataItems: c.DataItems})
		}
	})

	r.byUUID[d.UUID] = idx
	if d.Name != "" {
		r.nameToUUID[d.Name] = d.UUID
	}
	r.order = append(r.order, d.UUID)
	return nil
}

// DeviceUUID resolves a device name or uuid to its uuid.
func (r *Registry) DeviceUUID(nameOrUUID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byUUID[nameOrUUID]; ok {
		return nameOrUUID, true
	}
	uuid, ok := r.nameToUUID[nameOrUUID]
	return uuid, ok
}

// Device returns the schema tree for a registered uuid.
func (r *Registry) Device(uuid string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byUUID[uuid]
	if !ok {
		return nil, false
	}
	return idx.device, true
}

// Devices returns all registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, uuid := range r.order {
		out = append(out, r.byUUID[uuid].device)
	}
	return out
}

// DataItem resolves a SHDR key (data item name or id) for a device.
func (r *Registry) DataItem(uuid, nameOrID string) (*DataItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byUUID[uuid]
	if !ok {
		return nil, false
	}
	if di, ok := idx.byName[nameOrID]; ok {
		return di, true
	}
	di, ok := idx.byID[nameOrID]
	return di, ok
}

// Walk returns the components of a device that own data items, in document
// order. The returned slice is shared and must not be mutated.
func (r *Registry) Walk(uuid string) ([]ComponentItems, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, uuid)
	}
	return idx.walk, nil
}
