package domain

// SettingsRepository is a secondary port that defines how user settings are persisted.
// This interface is defined in the domain layer and implemented by adapters.
type SettingsRepository interface {
	Load() (Settings, error)
	Save(settings Settings) error
}

// RawDevice is what the host reports about one endpoint before identity resolution.
type RawDevice struct {
	Handle Handle
	// UID is a persistent hardware identifier. Empty when the host exposes none.
	UID           string
	Name          string
	Transport     TransportClass
	OutputStreams int
}

// AudioHost is a secondary port onto the host audio subsystem.
// Every call is expected to complete quickly or fail fast.
type AudioHost interface {
	// DeviceHandles enumerates every endpoint currently known to the host.
	DeviceHandles() ([]Handle, error)
	// DeviceInfo resolves name, UID, transport and stream layout of one endpoint.
	DeviceInfo(h Handle) (RawDevice, error)
	// OutputVolume reads the output volume. ok is false when the device has no volume control.
	OutputVolume(h Handle) (volume float64, ok bool, err error)
	// SetOutputVolume sets the output volume to a fraction in [0, 1].
	SetOutputVolume(h Handle, volume float64) error
	// Subscribe registers onChange for device arrival/removal. onChange may be invoked on
	// any goroutine, possibly more than once per physical event.
	Subscribe(onChange func()) (cancel func(), err error)
}
