package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"paraglider-sim/internal/logging"
	"paraglider-sim/internal/physics"
	"paraglider-sim/internal/registration"
	"paraglider-sim/internal/telemetry"
	"paraglider-sim/internal/transport"
)

// Tracker cadence and retry tuning.
const (
	tickAirborne   = 1 * time.Second
	tickGround     = 5 * time.Second
	tickLowBattery = 10 * time.Second
	lowBatteryPct  = 20

	registerBackoffInitial = 500 * time.Millisecond
	registerMaxAttempts    = 3

	sendBackoffInitial = 1 * time.Second
	sendBackoffMax     = 30 * time.Second
	sendMaxAttempts    = 5

	batchFlushInterval = 30 * time.Second
	shutdownGrace      = 3 * time.Second
)

// Status is the lifecycle outcome of one device.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDegraded  Status = "degraded"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time copy of a device's state for reporting.
type Snapshot struct {
	DeviceID      string              `json:"device_id"`
	Pilot         string              `json:"pilot"`
	Phase         physics.FlightPhase `json:"phase"`
	Altitude      float64             `json:"altitude"`
	Battery       float64             `json:"battery"`
	PointsSent    int                 `json:"points_sent"`
	PointsFailed  int                 `json:"points_failed"`
	BatchesSent   int                 `json:"batches_sent"`
	FlightsClosed int                 `json:"flights_closed"`
	Status        Status              `json:"status"`
	LastError     string              `json:"last_error,omitempty"`
}

// Options wires one device manager. NewPublisher lets the fleet decide
// between per-device, pooled, HTTP and dry-run transports.
type Options struct {
	Identity     telemetry.DeviceIdentity
	Seq          int
	Info         registration.DeviceInfo
	Engine       *physics.Engine
	Registrar    *registration.Client
	Limiter      *rate.Limiter // nil disables registration throttling
	NewPublisher func(telemetry.DeviceIdentity, telemetry.OperationalCredentials) (transport.Publisher, error)

	// Credentials short-circuits registration when a stored artifact
	// already holds them.
	Credentials *telemetry.OperationalCredentials

	BatchSize int // <= 1 sends each point individually
	Unsafe    bool
	ConfigDir string // empty disables artifact persistence
}

// Manager owns the full lifecycle of one simulated tracker:
// provision, register, tick loop, flight close, stop.
type Manager struct {
	opts  Options
	creds telemetry.OperationalCredentials
	pub   transport.Publisher
	state *physics.State

	buffer     []telemetry.GpsPoint
	lastFlush  time.Time
	openFlight string

	mu   sync.Mutex
	snap Snapshot
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts: opts,
		snap: Snapshot{
			DeviceID: opts.Identity.DeviceID,
			Pilot:    opts.Info.Pilot,
			Status:   StatusPending,
		},
	}
}

// Identity returns the device identity, which may have been renewed
// during provisioning after a duplicate-ID rejection.
func (m *Manager) Identity() telemetry.DeviceIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Identity
}

// Snapshot returns a copy of the device's current reporting state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Provision obtains operational credentials, persists them, and opens
// the device's publisher. Safe to call once before Run.
func (m *Manager) Provision(ctx context.Context) error {
	log := logging.FromContext(ctx).With("device_id", m.opts.Identity.DeviceID)

	if m.opts.Credentials != nil {
		m.creds = *m.opts.Credentials
		log.Debug("reusing stored credentials")
	} else {
		creds, err := m.register(ctx)
		if err != nil {
			m.fail(err)
			return err
		}
		m.creds = creds
		if m.opts.ConfigDir != "" {
			artifact := Artifact{
				Identity:     m.opts.Identity,
				Credentials:  creds,
				RegisteredAt: time.Now().UTC(),
			}
			if err := SaveArtifact(m.opts.ConfigDir, artifact); err != nil {
				log.Warn("credential artifact not saved", "error", err)
			}
		}
	}

	pub, err := m.opts.NewPublisher(m.opts.Identity, m.creds)
	if err != nil {
		m.fail(err)
		return fmt.Errorf("open publisher: %w", err)
	}
	m.pub = pub
	return nil
}

// register exchanges the identity for credentials with bounded
// exponential backoff. A duplicate-ID rejection renews the identity
// once; auth failures abort immediately.
func (m *Manager) register(ctx context.Context) (telemetry.OperationalCredentials, error) {
	log := logging.FromContext(ctx)
	id := m.opts.Identity
	name := fmt.Sprintf("Paraglider Tracker %04d", m.opts.Seq)
	renewed := false
	backoff := registerBackoffInitial

	for attempt := 1; ; attempt++ {
		if m.opts.Limiter != nil && !m.opts.Unsafe {
			if err := m.opts.Limiter.Wait(ctx); err != nil {
				return telemetry.OperationalCredentials{}, err
			}
		}
		creds, err := m.opts.Registrar.Register(ctx, id, name, m.opts.Info)
		if err == nil {
			m.mu.Lock()
			m.opts.Identity = id
			m.snap.DeviceID = id.DeviceID
			m.mu.Unlock()
			log.Info("device registered", "device_id", id.DeviceID)
			return creds, nil
		}
		if errors.Is(err, registration.ErrDuplicate) && !renewed {
			fresh, idErr := NewIdentity(id.Manufacturer, m.opts.Seq)
			if idErr != nil {
				return telemetry.OperationalCredentials{}, idErr
			}
			log.Warn("device ID already registered, renewing",
				"old", id.DeviceID, "new", fresh.DeviceID)
			id = fresh
			renewed = true
			continue
		}
		if !registration.Retryable(err) || attempt >= registerMaxAttempts {
			return telemetry.OperationalCredentials{}, fmt.Errorf("register %s: %w", id.DeviceID, err)
		}
		select {
		case <-ctx.Done():
			return telemetry.OperationalCredentials{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Run drives the tick loop until ctx is canceled or the device fails.
// On cancellation it flushes pending points and closes any open flight
// within a bounded grace window.
func (m *Manager) Run(ctx context.Context) error {
	if m.pub == nil {
		err := errors.New("device not provisioned")
		m.fail(err)
		return err
	}
	defer m.pub.Close()

	m.state = m.opts.Engine.NewState()
	m.lastFlush = time.Now()
	m.setStatus(StatusRunning)

	last := time.Now()
	timer := time.NewTimer(m.cadence())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.complete()
			return nil
		case now := <-timer.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := m.tick(ctx, dt); err != nil {
				m.fail(err)
				return err
			}
			timer.Reset(m.cadence())
		}
	}
}

// tick advances the flight state by dt seconds and transmits the
// resulting point. A fatal (auth) transport error stops the device.
func (m *Manager) tick(ctx context.Context, dt float64) error {
	m.opts.Engine.Step(m.state, dt)

	if m.state.Session != nil && m.state.Session.FlightID != m.openFlight {
		m.openFlight = m.state.Session.FlightID
	}
	if m.state.Session == nil && m.openFlight != "" {
		flightID := m.openFlight
		m.openFlight = ""
		// The backend finalizes distance and duration at close, so the
		// flight's buffered tail points must go out first.
		if err := m.flush(ctx); err != nil {
			return err
		}
		m.closeFlight(ctx, flightID)
	}

	m.mu.Lock()
	m.snap.Phase = m.state.Phase
	m.snap.Altitude = m.state.Altitude
	m.snap.Battery = m.state.Battery
	m.mu.Unlock()

	// Resting devices stay silent until the next flight starts.
	if m.state.Phase == physics.PhaseLanded {
		return nil
	}

	point := m.opts.Engine.Point(m.state, m.opts.Identity.DeviceID, m.opts.Info.Pilot)
	if m.opts.BatchSize > 1 {
		m.buffer = append(m.buffer, point)
		if len(m.buffer) >= m.opts.BatchSize || time.Since(m.lastFlush) >= batchFlushInterval {
			return m.flush(ctx)
		}
		return nil
	}
	return m.deliver(ctx, 1, func(c context.Context) error {
		return m.pub.PublishPoint(c, point)
	})
}

// flush sends the buffered points as one signed batch.
func (m *Manager) flush(ctx context.Context) error {
	if len(m.buffer) == 0 {
		return nil
	}
	points := m.buffer
	m.buffer = nil
	m.lastFlush = time.Now()
	err := m.deliver(ctx, len(points), func(c context.Context) error {
		return m.pub.PublishBatch(c, points)
	})
	if err == nil {
		m.mu.Lock()
		m.snap.BatchesSent++
		m.mu.Unlock()
	}
	return err
}

// deliver runs fn with transient-error retries. Auth errors propagate
// as fatal; exhausted retries degrade the device but keep it flying.
func (m *Manager) deliver(ctx context.Context, count int, fn func(context.Context) error) error {
	backoff := sendBackoffInitial
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			m.mu.Lock()
			m.snap.PointsSent += count
			m.mu.Unlock()
			return nil
		}
		if errors.Is(err, transport.ErrAuth) {
			return err
		}
		if !transport.Retryable(err) || attempt >= sendMaxAttempts {
			m.degrade(count, err)
			return nil
		}
		select {
		case <-ctx.Done():
			m.degrade(count, ctx.Err())
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > sendBackoffMax {
			backoff = sendBackoffMax
		}
	}
}

func (m *Manager) closeFlight(ctx context.Context, flightID string) {
	log := logging.FromContext(ctx).With("device_id", m.opts.Identity.DeviceID)
	confirmation, err := m.pub.CloseFlight(ctx, flightID)
	if err != nil {
		log.Warn("flight close failed", "flight_id", flightID, "error", err)
		m.degrade(0, err)
		return
	}
	m.mu.Lock()
	m.snap.FlightsClosed++
	m.mu.Unlock()
	log.Info("flight closed",
		"flight_id", flightID,
		"status", confirmation.Status,
		"distance_m", confirmation.Distance)
}

// drain flushes pending work after cancellation using a fresh bounded
// context, since the run context is already dead.
func (m *Manager) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if len(m.buffer) > 0 {
		_ = m.flush(ctx)
	}
	if m.openFlight != "" {
		m.closeFlight(ctx, m.openFlight)
		m.openFlight = ""
	}
}

func (m *Manager) cadence() time.Duration {
	if m.opts.Unsafe {
		return tickAirborne
	}
	switch {
	case m.state.Battery < lowBatteryPct:
		return tickLowBattery
	case m.state.Phase.Airborne():
		return tickAirborne
	default:
		return tickGround
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Status = s
}

// complete marks a clean finish; degraded and failed outcomes stick.
func (m *Manager) complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Status == StatusRunning {
		m.snap.Status = StatusCompleted
	}
}

func (m *Manager) degrade(lost int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.PointsFailed += lost
	if m.snap.Status == StatusRunning {
		m.snap.Status = StatusDegraded
	}
	if err != nil {
		m.snap.LastError = err.Error()
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Status = StatusFailed
	if err != nil {
		m.snap.LastError = err.Error()
	}
}
