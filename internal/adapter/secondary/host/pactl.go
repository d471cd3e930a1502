package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
)

// paVolumeNorm is PA_VOLUME_NORM, the raw value of 100%.
const paVolumeNorm = 65536

const pactlTimeout = 2 * time.Second

const (
	// defaultResubscribeInterval is the first delay before restarting a dead event stream.
	defaultResubscribeInterval = time.Second
	// maxResubscribeInterval caps the exponential backoff.
	maxResubscribeInterval = 30 * time.Second
)

// commandRunner abstracts process execution so the pactl backend can be tested.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("%s failed: %w, output: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

func (execRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &streamCloser{ReadCloser: stdout, cmd: cmd}, nil
}

type streamCloser struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (s *streamCloser) Close() error {
	s.once.Do(func() {
		_ = s.ReadCloser.Close()
		_ = s.cmd.Wait()
	})
	return nil
}

// pactlSink is the subset of `pactl -f json list sinks` this backend reads.
type pactlSink struct {
	Index       uint32                  `json:"index"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Volume      map[string]pactlChannel `json:"volume"`
	Properties  map[string]string       `json:"properties"`
	ActivePort  string                  `json:"active_port"`
}

type pactlChannel struct {
	Value int `json:"value"`
}

// PactlHost implements domain.AudioHost for PulseAudio and PipeWire through the pactl CLI.
// Each sink is one output endpoint; its sink name is the persistent UID.
type PactlHost struct {
	run commandRunner

	resubscribeMin time.Duration
	resubscribeMax time.Duration

	mu    sync.Mutex
	sinks map[domain.Handle]pactlSink
}

// NewPactlHost creates a backend that shells out to pactl.
func NewPactlHost() *PactlHost {
	return newPactlHost(execRunner{})
}

func newPactlHost(run commandRunner) *PactlHost {
	return &PactlHost{
		run:            run,
		resubscribeMin: defaultResubscribeInterval,
		resubscribeMax: maxResubscribeInterval,
		sinks:          map[domain.Handle]pactlSink{},
	}
}

// Available reports whether pactl is on PATH.
func (p *PactlHost) Available() bool {
	_, err := exec.LookPath("pactl")
	return err == nil
}

// DeviceHandles lists sinks and caches them for the per-device queries that follow.
func (p *PactlHost) DeviceHandles() ([]domain.Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()

	out, err := p.run.Output(ctx, "pactl", "-f", "json", "list", "sinks")
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	var sinks []pactlSink
	if err := json.Unmarshal(out, &sinks); err != nil {
		return nil, fmt.Errorf("decode sinks: %w", err)
	}

	cache := make(map[domain.Handle]pactlSink, len(sinks))
	handles := make([]domain.Handle, 0, len(sinks))
	for _, s := range sinks {
		h := domain.Handle(s.Index)
		cache[h] = s
		handles = append(handles, h)
	}

	p.mu.Lock()
	p.sinks = cache
	p.mu.Unlock()
	return handles, nil
}

func (p *PactlHost) sink(h domain.Handle) (pactlSink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sinks[h]
	if !ok {
		return pactlSink{}, fmt.Errorf("sink %d: %w", h, domain.ErrDeviceNotFound)
	}
	return s, nil
}

func (p *PactlHost) DeviceInfo(h domain.Handle) (domain.RawDevice, error) {
	s, err := p.sink(h)
	if err != nil {
		return domain.RawDevice{}, err
	}
	name := s.Description
	if name == "" {
		name = s.Name
	}
	return domain.RawDevice{
		Handle:        h,
		UID:           s.Name,
		Name:          name,
		Transport:     sinkTransport(s),
		OutputStreams: 1,
	}, nil
}

func (p *PactlHost) OutputVolume(h domain.Handle) (float64, bool, error) {
	s, err := p.sink(h)
	if err != nil {
		return 0, false, err
	}
	if len(s.Volume) == 0 {
		return 0, false, nil
	}
	return sinkVolume(s), true, nil
}

// SetOutputVolume sets every channel of the sink to volume.
func (p *PactlHost) SetOutputVolume(h domain.Handle, volume float64) error {
	s, err := p.sink(h)
	if err != nil {
		return err
	}
	if len(s.Volume) == 0 {
		return domain.ErrNoVolumeControl
	}
	raw := int(math.Round(domain.ClampFraction(volume) * paVolumeNorm))

	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()
	if _, err := p.run.Output(ctx, "pactl", "set-sink-volume", s.Name, strconv.Itoa(raw)); err != nil {
		return fmt.Errorf("set sink volume %s: %w", s.Name, err)
	}

	p.mu.Lock()
	if cached, ok := p.sinks[h]; ok {
		channels := make(map[string]pactlChannel, len(cached.Volume))
		for ch := range cached.Volume {
			channels[ch] = pactlChannel{Value: raw}
		}
		cached.Volume = channels
		p.sinks[h] = cached
	}
	p.mu.Unlock()
	return nil
}

// Subscribe follows `pactl subscribe` and reports sink arrival and removal.
// When the stream ends (for example because the sound server restarted) it is
// restarted with exponential backoff, and onChange fires once it is back.
func (p *PactlHost) Subscribe(onChange func()) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.run.Stream(ctx, "pactl", "subscribe")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pactl subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.follow(ctx, stream, onChange)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (p *PactlHost) follow(ctx context.Context, stream io.ReadCloser, onChange func()) {
	backoff := p.resubscribeMin
	for {
		if scanEvents(ctx, stream, onChange) {
			backoff = p.resubscribeMin
		}
		if ctx.Err() != nil {
			return
		}
		logging.Warnf("pactl subscribe: event stream ended, restarting in %s", backoff)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.resubscribeMax)

			next, err := p.run.Stream(ctx, "pactl", "subscribe")
			if err == nil {
				stream = next
				break
			}
			logging.Warnf("pactl subscribe: restart failed: %v; retrying in %s", err, backoff)
		}
		logging.Infof("pactl subscribe: event stream restarted")
		// Sinks may have come or gone while the stream was down.
		onChange()
	}
}

// scanEvents reads stream until it ends or ctx is cancelled and reports whether
// any line arrived.
func scanEvents(ctx context.Context, stream io.ReadCloser, onChange func()) bool {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()
	defer stream.Close()

	seen := false
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		seen = true
		if isTopologyEvent(scanner.Text()) {
			onChange()
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logging.Warnf("pactl subscribe: %v", err)
	}
	return seen
}

// isTopologyEvent matches lines like "Event 'new' on sink #57".
func isTopologyEvent(line string) bool {
	if !strings.Contains(line, " on sink #") {
		return false
	}
	return strings.Contains(line, "'new'") || strings.Contains(line, "'remove'")
}

func sinkVolume(s pactlSink) float64 {
	maxRaw := 0
	for _, ch := range s.Volume {
		maxRaw = max(maxRaw, ch.Value)
	}
	return domain.ClampFraction(float64(maxRaw) / paVolumeNorm)
}

func sinkTransport(s pactlSink) domain.TransportClass {
	lower := strings.ToLower(s.Name + " " + s.ActivePort)
	switch {
	case strings.Contains(lower, "hdmi"):
		return domain.TransportHDMI
	case strings.Contains(lower, "displayport"):
		return domain.TransportDisplayPort
	}
	switch s.Properties["device.bus"] {
	case "bluetooth":
		return domain.TransportBluetooth
	case "usb":
		return domain.TransportUSB
	case "pci", "isa":
		return domain.TransportBuiltIn
	}
	if s.Properties["device.form_factor"] == "internal" {
		return domain.TransportBuiltIn
	}
	return domain.TransportOther
}
