// Package host contains the domain.AudioHost backends.
package host

import (
	"fmt"
	"runtime"
	"strings"

	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
)

// Backend names accepted by Open.
const (
	BackendAuto      = "auto"
	BackendCoreAudio = "coreaudio"
	BackendPactl     = "pactl"
	BackendMemory    = "memory"
)

// Open selects a backend by name. fixture seeds the memory backend and is ignored otherwise.
func Open(backend, fixture string) (domain.AudioHost, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		return openAuto(fixture)
	case BackendCoreAudio:
		h, err := NewCoreAudioHost()
		if err != nil {
			return nil, err
		}
		return h, nil
	case BackendPactl:
		p := NewPactlHost()
		if !p.Available() {
			return nil, fmt.Errorf("pactl not found in PATH: %w", domain.ErrBackendUnavailable)
		}
		return p, nil
	case BackendMemory:
		if fixture == "" {
			return NewMemoryHost(), nil
		}
		return LoadFixture(fixture)
	default:
		return nil, fmt.Errorf("unknown backend %q (want auto, coreaudio, pactl or memory)", backend)
	}
}

func openAuto(fixture string) (domain.AudioHost, error) {
	if fixture != "" {
		return LoadFixture(fixture)
	}
	if runtime.GOOS == "darwin" {
		if h, err := NewCoreAudioHost(); err == nil {
			return h, nil
		}
	}
	if p := NewPactlHost(); p.Available() {
		return p, nil
	}
	logging.Warnf("host: no audio backend available, using an empty simulated host")
	return NewMemoryHost(), nil
}
