package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinnicap/internal/adapter/secondary/host"
	"tinnicap/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memRepo struct {
	mu       sync.Mutex
	settings domain.Settings
	loadErr  error
	saves    int
}

func (r *memRepo) Load() (domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return domain.Settings{}, r.loadErr
	}
	return r.settings, nil
}

func (r *memRepo) Save(s domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	r.saves++
	return nil
}

func (r *memRepo) saved() (domain.Settings, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, r.saves
}

func newTestMonitor(t *testing.T, h *host.MemoryHost, mode domain.EnforcementMode) (MonitorUseCase, *fakeClock, *memRepo) {
	t.Helper()
	clock := newFakeClock()
	repo := &memRepo{settings: domain.Settings{Mode: mode, Cooldown: domain.DefaultCooldown, Limits: map[string]float64{}}}
	m := NewMonitorUseCase(repo, h, WithClock(clock.Now))
	return m, clock, repo
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func violations(events []Event) []domain.Violation {
	var out []domain.Violation
	for _, ev := range events {
		if ev.Kind == EventLimitViolation {
			out = append(out, *ev.Violation)
		}
	}
	return out
}

func TestHardCapCorrectsAndNotifiesOnce(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "usb-dac", Name: "USB DAC", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.9})
	handles, _ := h.DeviceHandles()
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(8)

	_, err := m.SetLimit("uid:usb-dac", 0.5)
	require.NoError(t, err)
	m.Tick()

	v, _ := h.Volume(handles[0])
	assert.Equal(t, 0.5, v)

	got := violations(drain(sub))
	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Attempted)
	assert.Equal(t, 0.5, got[0].Limit)
	assert.Equal(t, domain.ModeHardCap, got[0].Mode)
	assert.Equal(t, "uid:usb-dac", got[0].Device.StableID)
}

func TestHardCapCorrectsEveryTickButNotifiesPerCooldown(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 0.9})
	handles, _ := h.DeviceHandles()
	m, clock, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(8)
	_, _ = m.SetLimit("uid:spk", 0.5)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Adjust(handles[0], 0.95))
		m.Tick()
		v, _ := h.Volume(handles[0])
		assert.LessOrEqual(t, v, 0.5)
		clock.Advance(5 * time.Second)
	}
	assert.Len(t, violations(drain(sub)), 1)
	assert.Equal(t, 3, h.SetCalls())
}

func TestWarningModeNeverChangesVolume(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "hp", Name: "Headphones", OutputStreams: 1, Volume: 0.8})
	handles, _ := h.DeviceHandles()
	m, clock, _ := newTestMonitor(t, h, domain.ModeWarning)
	sub := m.Subscribe(8)
	_, _ = m.SetLimit("uid:hp", 0.5)

	m.Tick()
	clock.Advance(10 * time.Second)
	m.Tick()
	clock.Advance(10 * time.Second)
	m.Tick()

	v, _ := h.Volume(handles[0])
	assert.Equal(t, 0.8, v)
	assert.Equal(t, 0, h.SetCalls())
	got := violations(drain(sub))
	require.Len(t, got, 1)
	assert.Equal(t, domain.ModeWarning, got[0].Mode)

	clock.Advance(10 * time.Second)
	m.Tick()
	assert.Len(t, violations(drain(sub)), 1, "cooldown elapsed exactly at 30s")
}

func TestLimitForAbsentDeviceAppliesOnReappearance(t *testing.T) {
	h := host.NewMemoryHost()
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(8)

	_, err := m.SetLimit("bluetooth:X", 0.4)
	require.NoError(t, err)
	m.Tick()
	assert.Empty(t, drain(sub))

	handle := h.Plug(host.MemoryDevice{Name: "X", Transport: domain.TransportBluetooth, OutputStreams: 1, Volume: 0.9})
	m.Tick()
	v, _ := h.Volume(handle)
	assert.Equal(t, 0.4, v)
}

func TestLimitFollowsDeviceAcrossReplug(t *testing.T) {
	dev := host.MemoryDevice{Name: "AirPods", Transport: domain.TransportBluetooth, OutputStreams: 1, Volume: 0.9}
	h := host.NewMemoryHost()
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	_, _ = m.SetLimit("bluetooth:AirPods", 0.3)

	first := h.Plug(dev)
	m.Tick()
	h.Unplug(first)
	second := h.Plug(dev)
	require.NotEqual(t, first, second)
	m.Tick()

	v, _ := h.Volume(second)
	assert.Equal(t, 0.3, v)
}

func TestRemoveLimitStopsEnforcement(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "X", Name: "X", OutputStreams: 1, Volume: 0.99})
	handles, _ := h.DeviceHandles()
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(8)

	_, _ = m.SetLimit("uid:X", 0.5)
	require.NoError(t, m.RemoveLimit("uid:X"))
	require.NoError(t, h.Adjust(handles[0], 0.99))
	m.Tick()

	v, _ := h.Volume(handles[0])
	assert.Equal(t, 0.99, v)
	assert.Empty(t, drain(sub))
	assert.Zero(t, h.SetCalls())
}

func TestWithinLimitResetsCooldown(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 0.8})
	handles, _ := h.DeviceHandles()
	m, clock, _ := newTestMonitor(t, h, domain.ModeWarning)
	sub := m.Subscribe(8)
	_, _ = m.SetLimit("uid:spk", 0.5)

	m.Tick()
	clock.Advance(time.Second)
	require.NoError(t, h.Adjust(handles[0], 0.5))
	m.Tick()
	clock.Advance(time.Second)
	require.NoError(t, h.Adjust(handles[0], 0.8))
	m.Tick()

	assert.Len(t, violations(drain(sub)), 2)
}

func TestSharedStableIDNotifiesOncePerCooldown(t *testing.T) {
	h := host.NewMemoryHost(
		host.MemoryDevice{Name: "Headset", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.9},
		host.MemoryDevice{Name: "Headset", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.2},
	)
	m, clock, _ := newTestMonitor(t, h, domain.ModeWarning)
	sub := m.Subscribe(16)
	_, _ = m.SetLimit("usb:Headset", 0.5)

	for i := 0; i < 5; i++ {
		m.Tick()
		clock.Advance(500 * time.Millisecond)
	}

	got := violations(drain(sub))
	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Attempted)
	assert.Equal(t, "usb:Headset", got[0].Device.StableID)
}

func TestSharedStableIDCorrectsEveryHandle(t *testing.T) {
	h := host.NewMemoryHost(
		host.MemoryDevice{Name: "Headset", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.7},
		host.MemoryDevice{Name: "Headset", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.9},
	)
	handles, _ := h.DeviceHandles()
	m, clock, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(16)
	_, _ = m.SetLimit("usb:Headset", 0.5)

	m.Tick()
	for _, handle := range handles {
		v, _ := h.Volume(handle)
		assert.Equal(t, 0.5, v)
	}
	got := violations(drain(sub))
	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Attempted)

	// Both back within the limit: the shared cooldown resets.
	clock.Advance(time.Second)
	m.Tick()
	require.NoError(t, h.Adjust(handles[0], 0.8))
	m.Tick()
	assert.Len(t, violations(drain(sub)), 1)
}

func TestLimitOfOneIsNeverViolated(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 1.0})
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	sub := m.Subscribe(8)
	_, _ = m.SetLimit("uid:spk", 1.0)

	m.Tick()
	assert.Empty(t, drain(sub))
	assert.Zero(t, h.SetCalls())
}

func TestFailedCorrectionIsRetried(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 0.9})
	handles, _ := h.DeviceHandles()
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	_, _ = m.SetLimit("uid:spk", 0.5)

	h.FailSet(handles[0], errors.New("device busy"))
	m.Tick()
	v, _ := h.Volume(handles[0])
	assert.Equal(t, 0.9, v)

	h.FailSet(handles[0], nil)
	m.Tick()
	v, _ = h.Volume(handles[0])
	assert.Equal(t, 0.5, v)
}

func TestSetLimitValidation(t *testing.T) {
	m, _, _ := newTestMonitor(t, host.NewMemoryHost(), domain.ModeHardCap)

	_, err := m.SetLimit("  ", 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	assert.ErrorIs(t, m.RemoveLimit(""), domain.ErrInvalidIdentifier)

	stored, err := m.SetLimit("uid:a", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored)

	_, _ = m.SetLimit("uid:b", 0.25)
	_, _ = m.SetLimit("uid:b", 0.25)
	got, ok := m.GetLimit("uid:b")
	assert.True(t, ok)
	assert.Equal(t, 0.25, got)
	assert.Equal(t, map[string]float64{"uid:a": 1.0, "uid:b": 0.25}, m.Limits())
}

func TestModeAndCooldownSetters(t *testing.T) {
	m, _, _ := newTestMonitor(t, host.NewMemoryHost(), domain.ModeHardCap)

	assert.ErrorIs(t, m.SetMode("loud"), domain.ErrInvalidMode)
	require.NoError(t, m.SetMode(domain.ModeWarning))
	assert.Equal(t, domain.ModeWarning, m.Mode())

	assert.ErrorIs(t, m.SetCooldown(0), domain.ErrInvalidCooldown)
	require.NoError(t, m.SetCooldown(time.Minute))
	assert.Equal(t, time.Minute, m.Settings().Cooldown)
}

func TestLoadFailureFallsBackToDefaults(t *testing.T) {
	repo := &memRepo{loadErr: errors.New("corrupt settings")}
	m := NewMonitorUseCase(repo, host.NewMemoryHost())

	s := m.Settings()
	assert.Equal(t, domain.ModeHardCap, s.Mode)
	assert.Equal(t, domain.DefaultCooldown, s.Cooldown)
	assert.Empty(t, s.Limits)
}

func TestDeviceStatuses(t *testing.T) {
	h := host.NewMemoryHost(
		host.MemoryDevice{UID: "a", Name: "A", OutputStreams: 1, Volume: 0.9},
		host.MemoryDevice{UID: "b", Name: "B", OutputStreams: 1, Volume: 0.2},
	)
	m, _, _ := newTestMonitor(t, h, domain.ModeHardCap)
	_, _ = m.SetLimit("uid:a", 0.5)

	statuses := m.DeviceStatuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].HasLimit)
	assert.Equal(t, domain.StateViolation, statuses[0].State)
	assert.False(t, statuses[1].HasLimit)
	assert.Equal(t, domain.StateUnconstrained, statuses[1].State)
}

func TestStartStopLifecycle(t *testing.T) {
	h := host.NewMemoryHost(host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 0.9})
	handles, _ := h.DeviceHandles()
	repo := &memRepo{settings: domain.Settings{
		Mode:     domain.ModeHardCap,
		Cooldown: domain.DefaultCooldown,
		Limits:   map[string]float64{"uid:spk": 0.6},
	}}
	m := NewMonitorUseCase(repo, h, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), domain.ErrAlreadyRunning)
	assert.Equal(t, 1, h.Listeners())

	assert.Eventually(t, func() bool {
		v, _ := h.Volume(handles[0])
		return v == 0.6
	}, time.Second, 5*time.Millisecond)

	_, _ = m.SetLimit("uid:other", 0.2)
	m.Stop()
	m.Stop()

	assert.Equal(t, 0, h.Listeners())
	saved, saves := repo.saved()
	assert.Equal(t, 1, saves)
	assert.Equal(t, map[string]float64{"uid:spk": 0.6, "uid:other": 0.2}, saved.Limits)
}

func TestHotPlugTriggersRescan(t *testing.T) {
	h := host.NewMemoryHost()
	repo := &memRepo{settings: domain.Settings{
		Mode:     domain.ModeHardCap,
		Cooldown: domain.DefaultCooldown,
		Limits:   map[string]float64{"usb:Desk Speakers": 0.35},
	}}
	m := NewMonitorUseCase(repo, h, WithPollInterval(time.Hour))
	sub := m.Subscribe(16)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	handle := h.Plug(host.MemoryDevice{Name: "Desk Speakers", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 0.8})

	assert.Eventually(t, func() bool {
		v, _ := h.Volume(handle)
		return v == 0.35
	}, time.Second, 5*time.Millisecond)

	var kinds []EventKind
	assert.Eventually(t, func() bool {
		for _, ev := range drain(sub) {
			kinds = append(kinds, ev.Kind)
		}
		return assert.ObjectsAreEqual([]EventKind{EventLimitViolation, EventDevicesChanged}, kinds)
	}, time.Second, 5*time.Millisecond)
}

func TestCancelledContextReleasesEngine(t *testing.T) {
	h := host.NewMemoryHost()
	m, _, repo := newTestMonitor(t, h, domain.ModeHardCap)
	_, _ = m.SetLimit("uid:spk", 0.4)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	require.Equal(t, 1, h.Listeners())
	cancel()

	assert.Eventually(t, func() bool { return h.Listeners() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, saves := repo.saved()
		return saves == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, h.Listeners())
	m.Stop()
	assert.Equal(t, 0, h.Listeners())
}

func TestConcurrentTopologyChurnKeepsState(t *testing.T) {
	h := host.NewMemoryHost(
		host.MemoryDevice{UID: "spk", Name: "Speakers", OutputStreams: 1, Volume: 0.9},
		host.MemoryDevice{UID: "gone", Name: "Old DAC", OutputStreams: 1, Volume: 0.4},
	)
	handles, _ := h.DeviceHandles()
	clock := newFakeClock()
	repo := &memRepo{settings: domain.Settings{
		Mode:     domain.ModeWarning,
		Cooldown: domain.DefaultCooldown,
		Limits:   map[string]float64{"uid:spk": 0.5, "uid:gone": 0.5},
	}}
	m := NewMonitorUseCase(repo, h, WithClock(clock.Now), WithPollInterval(MinPollInterval))
	sub := m.Subscribe(4096)

	require.NoError(t, m.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				handle := h.Plug(host.MemoryDevice{Name: "Dock", Transport: domain.TransportUSB, OutputStreams: 1, Volume: 1})
				// Duplicate and unknown removals arrive out of order.
				h.Unplug(handle)
				h.Unplug(handle)
				h.Unplug(domain.Handle(100000 + j))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Tick()
				_, _ = m.SetLimit("uid:spk", 0.5)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.RemoveLimit("uid:gone"))
		assert.NoError(t, h.Adjust(handles[1], 0.95))
		for j := 0; j < 50; j++ {
			assert.NoError(t, m.RemoveLimit("uid:gone"))
			m.Tick()
		}
	}()
	wg.Wait()
	m.Tick()
	m.Stop()

	assert.Equal(t, map[string]float64{"uid:spk": 0.5}, m.Limits())
	assert.Equal(t, domain.DefaultCooldown, m.Settings().Cooldown)
	assert.Zero(t, h.SetCalls())
	v, _ := h.Volume(handles[1])
	assert.Equal(t, 0.95, v)

	got := violations(drain(sub))
	require.Len(t, got, 1)
	assert.Equal(t, "uid:spk", got[0].Device.StableID)

	// The cooldown survived the churn and still gates the next notice.
	m.Tick()
	assert.Empty(t, violations(drain(sub)))
	clock.Advance(domain.DefaultCooldown)
	m.Tick()
	assert.Len(t, violations(drain(sub)), 1)
}

func TestRestartAfterStop(t *testing.T) {
	m, _, _ := newTestMonitor(t, host.NewMemoryHost(), domain.ModeHardCap)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}
