package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tinnicap/internal/domain"
)

// fixtureFile is the on-disk layout of a simulated device set.
//
//	devices:
//	  - name: MacBook Pro Speakers
//	    uid: BuiltInSpeakerDevice
//	    transport: built-in
//	    volume: 0.6
type fixtureFile struct {
	Devices []fixtureDevice `yaml:"devices" toml:"devices"`
}

type fixtureDevice struct {
	Name      string  `yaml:"name" toml:"name"`
	UID       string  `yaml:"uid" toml:"uid"`
	Transport string  `yaml:"transport" toml:"transport"`
	Volume    float64 `yaml:"volume" toml:"volume"`
	// Outputs defaults to 1; set 0 for an input-only device.
	Outputs  *int `yaml:"outputs" toml:"outputs"`
	NoVolume bool `yaml:"no_volume" toml:"no_volume"`
}

// LoadFixture builds a MemoryHost from a .yaml/.yml or .toml file.
func LoadFixture(path string) (*MemoryHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	devices, err := ParseFixture(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return NewMemoryHost(devices...), nil
}

// ParseFixture decodes fixture data; ext selects the format.
func ParseFixture(ext string, data []byte) ([]MemoryDevice, error) {
	var f fixtureFile
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", ext)
	}

	out := make([]MemoryDevice, 0, len(f.Devices))
	for i, d := range f.Devices {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("device %d: name is required", i)
		}
		outputs := 1
		if d.Outputs != nil {
			outputs = *d.Outputs
		}
		out = append(out, MemoryDevice{
			UID:           d.UID,
			Name:          d.Name,
			Transport:     domain.ParseTransportClass(d.Transport),
			OutputStreams: outputs,
			Volume:        d.Volume,
			NoVolume:      d.NoVolume,
		})
	}
	return out, nil
}
