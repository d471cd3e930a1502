package usecase

import (
	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
)

// SnapshotReader turns host queries into an immutable device list.
type SnapshotReader struct {
	host domain.AudioHost
}

// NewSnapshotReader creates a reader over host.
func NewSnapshotReader(host domain.AudioHost) *SnapshotReader {
	return &SnapshotReader{host: host}
}

// Snapshot lists every output-capable endpoint. It never fails: an enumeration error
// yields an empty list and a device whose queries fail is left out.
func (r *SnapshotReader) Snapshot() []domain.Device {
	handles, err := r.host.DeviceHandles()
	if err != nil {
		logging.Debugf("snapshot: enumerate devices: %v", err)
		return []domain.Device{}
	}

	devices := make([]domain.Device, 0, len(handles))
	for _, h := range handles {
		raw, err := r.host.DeviceInfo(h)
		if err != nil {
			logging.Debugf("snapshot: device %d info: %v", h, err)
			continue
		}
		if raw.OutputStreams <= 0 {
			continue
		}
		volume, ok, err := r.host.OutputVolume(h)
		if err != nil {
			logging.Debugf("snapshot: device %d volume: %v", h, err)
			continue
		}
		dev := domain.Device{
			Handle:    h,
			StableID:  domain.ResolveStableID(raw),
			Name:      raw.Name,
			Transport: raw.Transport,
			HasVolume: ok,
		}
		if ok {
			dev.Volume = domain.ClampFraction(volume)
		}
		devices = append(devices, dev)
	}
	return devices
}
