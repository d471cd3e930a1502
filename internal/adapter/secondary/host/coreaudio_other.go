//go:build !darwin || !cgo

package host

import (
	"fmt"

	"tinnicap/internal/domain"
)

// CoreAudioHost is only available on macOS builds with cgo.
type CoreAudioHost struct{ domain.AudioHost }

// NewCoreAudioHost always fails on this platform.
func NewCoreAudioHost() (*CoreAudioHost, error) {
	return nil, fmt.Errorf("coreaudio: %w", domain.ErrBackendUnavailable)
}
