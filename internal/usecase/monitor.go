package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
)

// DefaultPollInterval is how often the engine re-reads device volumes.
const DefaultPollInterval = 500 * time.Millisecond

// MinPollInterval is the smallest accepted poll interval.
const MinPollInterval = 50 * time.Millisecond

// MonitorUseCase is the primary port for the enforcement engine.
// Collaborators (CLI, web, notifiers) only ever talk to the engine through it.
type MonitorUseCase interface {
	Start(ctx context.Context) error
	Stop()
	Tick()
	GetSnapshot() []domain.Device
	DeviceStatuses() []DeviceStatus
	SetLimit(id string, fraction float64) (float64, error)
	GetLimit(id string) (float64, bool)
	RemoveLimit(id string) error
	Limits() map[string]float64
	SetMode(mode domain.EnforcementMode) error
	Mode() domain.EnforcementMode
	SetCooldown(d time.Duration) error
	Settings() domain.Settings
	Persist() error
	Subscribe(buffer int) *Subscription
}

// DeviceStatus pairs a device from the latest snapshot with its configured limit.
type DeviceStatus struct {
	Device   domain.Device
	Limit    float64
	HasLimit bool
	State    domain.DeviceState
}

// Option customizes a monitor at construction.
type Option func(*monitorInteractor)

// WithPollInterval overrides DefaultPollInterval. Values below MinPollInterval are raised to it.
func WithPollInterval(d time.Duration) Option {
	return func(m *monitorInteractor) {
		if d < MinPollInterval {
			d = MinPollInterval
		}
		m.interval = d
	}
}

// WithClock replaces time.Now for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *monitorInteractor) {
		if now != nil {
			m.now = now
		}
	}
}

// monitorInteractor implements MonitorUseCase.
// It depends only on the domain layer and secondary ports.
type monitorInteractor struct {
	repo     domain.SettingsRepository
	host     domain.AudioHost
	reader   *SnapshotReader
	service  *domain.EnforcementService
	bus      *EventBus
	interval time.Duration
	now      func() time.Time

	// mu guards limits, mode and cooldowns, and is held across every volume correction.
	mu        sync.Mutex
	limits    *domain.LimitStore
	mode      domain.EnforcementMode
	cooldowns *domain.CooldownTracker

	// lifeMu guards the running state below; never taken while holding mu.
	lifeMu      sync.Mutex
	running     bool
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
	rescan      chan struct{}
}

// NewMonitorUseCase creates the engine. Settings that cannot be loaded are replaced by
// defaults; construction never fails because of them.
func NewMonitorUseCase(repo domain.SettingsRepository, host domain.AudioHost, opts ...Option) MonitorUseCase {
	settings, err := repo.Load()
	if err != nil {
		logging.Warnf("monitor: load settings: %v; using defaults", err)
		settings = domain.DefaultSettings()
	}
	settings = settings.Normalize()

	m := &monitorInteractor{
		repo:      repo,
		host:      host,
		reader:    NewSnapshotReader(host),
		service:   domain.NewEnforcementService(),
		bus:       NewEventBus(),
		interval:  DefaultPollInterval,
		now:       time.Now,
		limits:    domain.NewLimitStore(settings.Limits),
		mode:      settings.Mode,
		cooldowns: domain.NewCooldownTracker(settings.Cooldown),
		rescan:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to topology changes and launches the poll loop.
func (m *monitorInteractor) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running {
		return domain.ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	unsubscribe, err := m.host.Subscribe(m.requestRescan)
	if err != nil {
		logging.Warnf("monitor: hot-plug subscription failed, polling only: %v", err)
		unsubscribe = func() {}
	}

	m.running = true
	m.cancel = cancel
	m.unsubscribe = unsubscribe
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.done)
	logging.Infof("monitor: started (interval=%s mode=%s)", m.interval, m.Mode())
	return nil
}

// Stop cancels the loop, drops the subscription, waits for the loop and persists settings.
func (m *monitorInteractor) Stop() {
	m.lifeMu.Lock()
	if !m.running {
		m.lifeMu.Unlock()
		return
	}
	m.running = false
	cancel, unsubscribe, done := m.cancel, m.unsubscribe, m.done
	m.cancel, m.unsubscribe, m.done = nil, nil, nil
	m.lifeMu.Unlock()

	cancel()
	unsubscribe()
	<-done

	if err := m.Persist(); err != nil {
		logging.Warnf("monitor: persist settings on stop: %v", err)
	}
	logging.Infof("monitor: stopped")
}

// detach releases the run state when the loop ends because the parent context was
// cancelled. After Stop has claimed the run state it does nothing.
func (m *monitorInteractor) detach(done chan struct{}) {
	m.lifeMu.Lock()
	if !m.running || m.done != done {
		m.lifeMu.Unlock()
		return
	}
	m.running = false
	cancel, unsubscribe := m.cancel, m.unsubscribe
	m.cancel, m.unsubscribe, m.done = nil, nil, nil
	m.lifeMu.Unlock()

	cancel()
	unsubscribe()
	if err := m.Persist(); err != nil {
		logging.Warnf("monitor: persist settings on shutdown: %v", err)
	}
	logging.Infof("monitor: stopped (context done)")
}

// requestRescan runs on whatever goroutine the host uses; it only posts.
func (m *monitorInteractor) requestRescan() {
	select {
	case m.rescan <- struct{}{}:
	default:
	}
}

func (m *monitorInteractor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.detach(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		case <-m.rescan:
			logging.Debugf("monitor: device topology changed, rescanning")
			m.Tick()
			m.bus.Publish(newEvent(EventDevicesChanged, m.now()))
		}
	}
}

// Tick takes a fresh snapshot and enforces every stored limit once.
func (m *monitorInteractor) Tick() {
	violations := m.enforce()
	for i := range violations {
		ev := newEvent(EventLimitViolation, m.now())
		ev.Violation = &violations[i]
		m.bus.Publish(ev)
	}
}

// deviceGroup collects the devices of one snapshot that share a stable identifier.
type deviceGroup struct {
	id      string
	devices []domain.Device
}

// groupByStableID keeps the order in which identifiers first appear.
func groupByStableID(devices []domain.Device) []deviceGroup {
	index := make(map[string]int, len(devices))
	var groups []deviceGroup
	for _, dev := range devices {
		i, ok := index[dev.StableID]
		if !ok {
			i = len(groups)
			index[dev.StableID] = i
			groups = append(groups, deviceGroup{id: dev.StableID})
		}
		groups[i].devices = append(groups[i].devices, dev)
	}
	return groups
}

// enforce evaluates each stable identifier once. Devices sharing an identifier share
// its limit and cooldown: every violating handle is corrected, the loudest one is
// reported, and the cooldown only resets when none of them violates.
func (m *monitorInteractor) enforce() []domain.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var violations []domain.Violation
	now := m.now()
	for _, g := range groupByStableID(m.reader.Snapshot()) {
		limit, hasLimit := m.limits.Get(g.id)
		if !hasLimit {
			continue
		}
		elapsed := m.cooldowns.Elapsed(g.id, now)

		var (
			loudest  *domain.Violation
			notify   bool
			inLimits bool
		)
		for _, dev := range g.devices {
			d := m.service.Decide(dev, limit, hasLimit, m.mode, elapsed)
			switch d.State {
			case domain.StateWithinLimit:
				inLimits = true
				continue
			case domain.StateUnconstrained:
				continue
			}

			if loudest == nil || d.Attempted > loudest.Attempted {
				loudest = &domain.Violation{Device: dev, Attempted: d.Attempted, Limit: d.Limit, Mode: m.mode}
			}
			notify = notify || d.Notify
			if d.Correct {
				m.correct(dev, d)
			}
		}

		switch {
		case loudest != nil && notify:
			m.cooldowns.MarkNotified(g.id, now)
			violations = append(violations, *loudest)
		case loudest == nil && inLimits:
			m.cooldowns.Reset(g.id)
		}
	}
	return violations
}

// correct clamps one device to its limit. Failures are retried on the next tick.
func (m *monitorInteractor) correct(dev domain.Device, d domain.Decision) {
	if err := m.host.SetOutputVolume(dev.Handle, d.Limit); err != nil {
		logging.Debugf("monitor: cap %s (%s): %v", dev.Name, dev.StableID, err)
		return
	}
	logging.Tracef("monitor: capped %s from %d%% to %d%%", dev.Name, domain.Percent(d.Attempted), domain.Percent(d.Limit))
}

// GetSnapshot returns a fresh device list.
func (m *monitorInteractor) GetSnapshot() []domain.Device {
	return m.reader.Snapshot()
}

// DeviceStatuses returns a fresh snapshot annotated with limits and current state.
func (m *monitorInteractor) DeviceStatuses() []DeviceStatus {
	devices := m.reader.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceStatus, 0, len(devices))
	for _, dev := range devices {
		limit, ok := m.limits.Get(dev.StableID)
		out = append(out, DeviceStatus{
			Device:   dev,
			Limit:    limit,
			HasLimit: ok,
			State:    m.service.Classify(dev, limit, ok),
		})
	}
	return out
}

// SetLimit stores a clamped limit for id and returns the stored value.
// Limits for devices that are not present are kept until they reappear.
func (m *monitorInteractor) SetLimit(id string, fraction float64) (float64, error) {
	if strings.TrimSpace(id) == "" {
		return 0, domain.ErrInvalidIdentifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Set(id, fraction), nil
}

func (m *monitorInteractor) GetLimit(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Get(id)
}

// RemoveLimit drops the limit and forgets the cooldown for id.
func (m *monitorInteractor) RemoveLimit(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrInvalidIdentifier
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits.Remove(id)
	m.cooldowns.Reset(id)
	return nil
}

func (m *monitorInteractor) Limits() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Snapshot()
}

func (m *monitorInteractor) SetMode(mode domain.EnforcementMode) error {
	if !mode.Valid() {
		return domain.ErrInvalidMode
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}

func (m *monitorInteractor) Mode() domain.EnforcementMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *monitorInteractor) SetCooldown(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldowns.SetPeriod(d)
}

func (m *monitorInteractor) Settings() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settingsLocked()
}

func (m *monitorInteractor) settingsLocked() domain.Settings {
	return domain.Settings{
		Mode:     m.mode,
		Cooldown: m.cooldowns.Period(),
		Limits:   m.limits.Snapshot(),
	}
}

// Persist writes the current settings through the repository.
func (m *monitorInteractor) Persist() error {
	return m.repo.Save(m.Settings())
}

// Subscribe registers for engine events.
func (m *monitorInteractor) Subscribe(buffer int) *Subscription {
	return m.bus.Subscribe(buffer)
}
