package host

import (
	"fmt"
	"slices"
	"sync"

	"tinnicap/internal/domain"
)

// MemoryDevice describes one simulated endpoint.
type MemoryDevice struct {
	UID           string
	Name          string
	Transport     domain.TransportClass
	OutputStreams int
	Volume        float64
	// NoVolume simulates an endpoint without a master volume control.
	NoVolume bool
}

// MemoryHost implements domain.AudioHost entirely in memory.
// Handles are never reused, so a replugged device always gets a new one.
type MemoryHost struct {
	mu        sync.Mutex
	next      domain.Handle
	order     []domain.Handle
	devices   map[domain.Handle]*MemoryDevice
	listeners map[int]func()
	nextSub   int

	enumErr  error
	infoErr  map[domain.Handle]error
	setErr   map[domain.Handle]error
	setCalls int
}

// NewMemoryHost creates a host seeded with devices.
func NewMemoryHost(devices ...MemoryDevice) *MemoryHost {
	h := &MemoryHost{
		next:      100,
		devices:   map[domain.Handle]*MemoryDevice{},
		listeners: map[int]func(){},
		infoErr:   map[domain.Handle]error{},
		setErr:    map[domain.Handle]error{},
	}
	for _, d := range devices {
		h.add(d)
	}
	return h
}

func (h *MemoryHost) add(d MemoryDevice) domain.Handle {
	h.next++
	handle := h.next
	dev := d
	h.devices[handle] = &dev
	h.order = append(h.order, handle)
	return handle
}

// Plug attaches a device and notifies listeners.
func (h *MemoryHost) Plug(d MemoryDevice) domain.Handle {
	h.mu.Lock()
	handle := h.add(d)
	h.mu.Unlock()
	h.notify()
	return handle
}

// Unplug detaches a device and notifies listeners.
func (h *MemoryHost) Unplug(handle domain.Handle) bool {
	h.mu.Lock()
	_, ok := h.devices[handle]
	if ok {
		delete(h.devices, handle)
		h.order = slices.DeleteFunc(h.order, func(x domain.Handle) bool { return x == handle })
	}
	h.mu.Unlock()
	if ok {
		h.notify()
	}
	return ok
}

// Adjust changes a volume the way a user pressing volume keys would. No clamping.
func (h *MemoryHost) Adjust(handle domain.Handle, volume float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, ok := h.devices[handle]
	if !ok {
		return fmt.Errorf("handle %d: %w", handle, domain.ErrDeviceNotFound)
	}
	dev.Volume = volume
	return nil
}

// Volume returns the current simulated volume.
func (h *MemoryHost) Volume(handle domain.Handle) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, ok := h.devices[handle]
	if !ok {
		return 0, false
	}
	return dev.Volume, true
}

// FailEnumeration makes DeviceHandles return err until cleared with nil.
func (h *MemoryHost) FailEnumeration(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumErr = err
}

// FailInfo makes DeviceInfo fail for handle until cleared with nil.
func (h *MemoryHost) FailInfo(handle domain.Handle, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.infoErr, handle)
		return
	}
	h.infoErr[handle] = err
}

// FailSet makes SetOutputVolume fail for handle until cleared with nil.
func (h *MemoryHost) FailSet(handle domain.Handle, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.setErr, handle)
		return
	}
	h.setErr[handle] = err
}

// SetCalls counts SetOutputVolume calls, including failed ones.
func (h *MemoryHost) SetCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setCalls
}

// Listeners returns the number of active subscriptions.
func (h *MemoryHost) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *MemoryHost) DeviceHandles() ([]domain.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	return slices.Clone(h.order), nil
}

func (h *MemoryHost) DeviceInfo(handle domain.Handle) (domain.RawDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.infoErr[handle]; err != nil {
		return domain.RawDevice{}, err
	}
	dev, ok := h.devices[handle]
	if !ok {
		return domain.RawDevice{}, fmt.Errorf("handle %d: %w", handle, domain.ErrDeviceNotFound)
	}
	return domain.RawDevice{
		Handle:        handle,
		UID:           dev.UID,
		Name:          dev.Name,
		Transport:     dev.Transport,
		OutputStreams: dev.OutputStreams,
	}, nil
}

func (h *MemoryHost) OutputVolume(handle domain.Handle) (float64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, ok := h.devices[handle]
	if !ok {
		return 0, false, fmt.Errorf("handle %d: %w", handle, domain.ErrDeviceNotFound)
	}
	if dev.NoVolume {
		return 0, false, nil
	}
	return dev.Volume, true, nil
}

func (h *MemoryHost) SetOutputVolume(handle domain.Handle, volume float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setCalls++
	if err := h.setErr[handle]; err != nil {
		return err
	}
	dev, ok := h.devices[handle]
	if !ok {
		return fmt.Errorf("handle %d: %w", handle, domain.ErrDeviceNotFound)
	}
	if dev.NoVolume {
		return domain.ErrNoVolumeControl
	}
	dev.Volume = domain.ClampFraction(volume)
	return nil
}

// Subscribe registers onChange. Notifications are delivered on fresh goroutines, the way
// real hosts call back on their own threads.
func (h *MemoryHost) Subscribe(onChange func()) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.listeners[id] = onChange
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}, nil
}

func (h *MemoryHost) notify() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		go fn()
	}
}
