//go:build darwin && cgo

package host

/*
#cgo LDFLAGS: -framework CoreAudio -framework AudioToolbox -framework CoreFoundation
#include "coreaudio_darwin.h"
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"tinnicap/internal/domain"
)

const maxDevices = 256

// CoreAudioHost implements domain.AudioHost on macOS.
type CoreAudioHost struct{}

// NewCoreAudioHost returns the CoreAudio backend.
func NewCoreAudioHost() (*CoreAudioHost, error) {
	return &CoreAudioHost{}, nil
}

func (c *CoreAudioHost) DeviceHandles() ([]domain.Handle, error) {
	var ids [maxDevices]C.AudioObjectID
	n := int(C.tc_device_ids(&ids[0], C.int(maxDevices)))
	if n < 0 {
		return nil, fmt.Errorf("coreaudio: enumerate devices failed")
	}
	out := make([]domain.Handle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Handle(ids[i]))
	}
	return out, nil
}

func (c *CoreAudioHost) DeviceInfo(h domain.Handle) (domain.RawDevice, error) {
	id := C.AudioObjectID(h)
	streams := int(C.tc_output_streams(id))
	if streams < 0 {
		return domain.RawDevice{}, fmt.Errorf("coreaudio: device %d: %w", h, domain.ErrDeviceNotFound)
	}
	name, err := deviceString(id, C.TC_STRING_NAME)
	if err != nil {
		return domain.RawDevice{}, fmt.Errorf("coreaudio: device %d name: %w", h, err)
	}
	// A missing UID is not an error: identity falls back to transport and name.
	uid, _ := deviceString(id, C.TC_STRING_UID)
	return domain.RawDevice{
		Handle:        h,
		UID:           uid,
		Name:          name,
		Transport:     transportFromCode(int(C.tc_transport(id))),
		OutputStreams: streams,
	}, nil
}

func (c *CoreAudioHost) OutputVolume(h domain.Handle) (float64, bool, error) {
	var v C.float
	switch C.tc_get_volume(C.AudioObjectID(h), &v) {
	case 0:
		return float64(v), true, nil
	case 1:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("coreaudio: read volume of device %d failed", h)
	}
}

func (c *CoreAudioHost) SetOutputVolume(h domain.Handle, volume float64) error {
	switch C.tc_set_volume(C.AudioObjectID(h), C.float(domain.ClampFraction(volume))) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("coreaudio: device %d: %w", h, domain.ErrNoVolumeControl)
	default:
		return fmt.Errorf("coreaudio: set volume of device %d failed", h)
	}
}

func (c *CoreAudioHost) Subscribe(onChange func()) (func(), error) {
	return topology.add(onChange)
}

func deviceString(id C.AudioObjectID, which C.int) (string, error) {
	buf := (*C.char)(C.malloc(512))
	defer C.free(unsafe.Pointer(buf))
	if C.tc_string(id, which, buf, 512) != 0 {
		return "", fmt.Errorf("property unavailable")
	}
	return C.GoString(buf), nil
}

func transportFromCode(code int) domain.TransportClass {
	switch code {
	case C.TC_TRANSPORT_BUILTIN:
		return domain.TransportBuiltIn
	case C.TC_TRANSPORT_BLUETOOTH:
		return domain.TransportBluetooth
	case C.TC_TRANSPORT_USB:
		return domain.TransportUSB
	case C.TC_TRANSPORT_HDMI:
		return domain.TransportHDMI
	case C.TC_TRANSPORT_DISPLAYPORT:
		return domain.TransportDisplayPort
	case C.TC_TRANSPORT_THUNDERBOLT:
		return domain.TransportThunderbolt
	default:
		return domain.TransportOther
	}
}

// topologyListeners multiplexes the single CoreAudio property listener.
type topologyListeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

var topology = &topologyListeners{fns: map[int]func(){}}

func (t *topologyListeners) add(fn func()) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.fns) == 0 && C.tc_listen() != 0 {
		return nil, fmt.Errorf("coreaudio: add device listener failed")
	}
	t.next++
	id := t.next
	t.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.fns, id)
			if len(t.fns) == 0 {
				C.tc_unlisten()
			}
		})
	}, nil
}

func (t *topologyListeners) fire() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.fns))
	for _, fn := range t.fns {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

//export tinnicapTopologyChanged
func tinnicapTopologyChanged() {
	topology.fire()
}
