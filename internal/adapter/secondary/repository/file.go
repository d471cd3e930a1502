package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tinnicap/internal/domain"
)

// FileRepository implements domain.SettingsRepository using a JSON file.
// This is a secondary adapter.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileRepository creates a new file-based settings repository.
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	return &FileRepository{path: path}, nil
}

// Path returns the settings file location.
func (f *FileRepository) Path() string {
	return f.path
}

// persistedData represents the JSON structure on disk.
type persistedData struct {
	EnforcementMode string             `json:"enforcementMode"`
	CooldownSeconds float64            `json:"cooldownSeconds"`
	DeviceLimits    map[string]float64 `json:"deviceLimits"`
}

// Load reads the settings from disk. A missing file yields defaults.
func (f *FileRepository) Load() (domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var persisted persistedData
	if err := json.Unmarshal(data, &persisted); err != nil {
		return domain.Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}

	settings := domain.Settings{
		Mode:     domain.ModeHardCap,
		Cooldown: time.Duration(persisted.CooldownSeconds * float64(time.Second)),
		Limits:   persisted.DeviceLimits,
	}
	if persisted.EnforcementMode != "" {
		mode, err := domain.ParseMode(persisted.EnforcementMode)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("settings: %w", err)
		}
		settings.Mode = mode
	}

	// Apply defaults if necessary
	return settings.Normalize(), nil
}

// Save persists the settings to disk.
func (f *FileRepository) Save(settings domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	persisted := persistedData{
		EnforcementMode: string(settings.Mode),
		CooldownSeconds: math.Round(settings.Cooldown.Seconds()*1000) / 1000,
		DeviceLimits:    settings.Limits,
	}
	if persisted.DeviceLimits == nil {
		persisted.DeviceLimits = map[string]float64{}
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Atomic write
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename tmp: %w", err)
	}

	return nil
}
