package fleet

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"paraglider-sim/internal/config"
	"paraglider-sim/internal/device"
	"paraglider-sim/internal/logging"
	"paraglider-sim/internal/physics"
	"paraglider-sim/internal/registration"
	"paraglider-sim/internal/telemetry"
	"paraglider-sim/internal/transport"
)

const (
	staggerPerDevice = 50 * time.Millisecond
	staggerMax       = 10 * time.Second
	statsInterval    = 10 * time.Second
	shutdownGrace    = 5 * time.Second

	resultsFile = "paraglider_simulation_results.json"
)

// StatusSink receives periodic fleet statistics, e.g. the live TUI.
type StatusSink interface {
	Update(Stats)
	Close() error
}

// Orchestrator provisions and runs the whole fleet: staggered starts,
// shared registration throttling, periodic statistics, bounded-grace
// shutdown and the final results summary.
type Orchestrator struct {
	cfg   config.Config
	sites []physics.Site
	rng   *rand.Rand

	registrar  *registration.Client
	limiter    *rate.Limiter
	httpClient *http.Client
	fileWriter *transport.FileWriter

	poolOnce sync.Once
	pool     *transport.MQTTPool
	poolErr  error

	managers []*device.Manager
	view     StatusSink
	start    time.Time
}

// New builds an orchestrator for a validated config and site catalog.
func New(cfg config.Config, sites []physics.Site) *Orchestrator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Orchestrator{
		cfg:        cfg,
		sites:      sites,
		rng:        rand.New(rand.NewSource(seed)),
		httpClient: transport.NewHTTPClient(),
	}
}

// SetView attaches an optional live status sink.
func (o *Orchestrator) SetView(v StatusSink) { o.view = v }

// Run drives the fleet until the configured duration elapses or ctx is
// canceled. Individual device failures never abort the run; Run errors
// only when the fleet cannot start at all.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	o.start = time.Now()

	lock, err := AcquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	if o.cfg.LogFile != "" {
		fw, err := transport.NewFileWriter(o.cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open telemetry export: %w", err)
		}
		o.fileWriter = fw
		defer fw.Close()
	}

	o.registrar = registration.NewClient(o.cfg.APIBaseURL, o.cfg.Secret)
	if !o.cfg.Unsafe {
		o.limiter = rate.NewLimiter(rate.Limit(o.cfg.RegistrationRPS), 1)
	}

	if err := o.buildManagers(); err != nil {
		return err
	}

	active := o.provision(ctx)
	if len(active) == 0 {
		return fmt.Errorf("none of %d devices could be provisioned", len(o.managers))
	}
	log.Info("fleet provisioned",
		"devices", len(active),
		"failed", len(o.managers)-len(active),
		"protocol", o.cfg.Protocol,
		"dry_run", o.cfg.DryRun)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.DurationMinutes)*time.Minute)
	defer cancel()

	window := time.Duration(len(active)) * staggerPerDevice
	if window > staggerMax {
		window = staggerMax
	}

	var wg sync.WaitGroup
	for _, mgr := range active {
		delay := time.Duration(o.rng.Int63n(int64(window) + 1))
		wg.Add(1)
		go func(mgr *device.Manager, delay time.Duration) {
			defer wg.Done()
			select {
			case <-runCtx.Done():
				return
			case <-time.After(delay):
			}
			_ = mgr.Run(runCtx)
		}(mgr, delay)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			o.report(ctx)
		case <-runCtx.Done():
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				log.Warn("shutdown grace expired, abandoning remaining devices")
			}
			break loop
		}
	}

	if o.pool != nil {
		o.pool.Close()
	}
	if o.view != nil {
		o.view.Close()
	}

	summary := NewSummary(o.start, time.Now(), o.snapshots())
	if err := summary.Write(resultsFile); err != nil {
		log.Warn("results summary not written", "error", err)
	}
	log.Info("run finished",
		"devices", summary.Devices,
		"completed", summary.Completed,
		"interrupted", summary.Interrupted,
		"degraded", summary.Degraded,
		"failed", summary.Failed,
		"points_sent", summary.PointsSent,
		"points_failed", summary.PointsFailed,
		"flights_closed", summary.FlightsClosed)
	return nil
}

// buildManagers assembles one manager per device, reusing stored
// credential artifacts before minting fresh identities.
func (o *Orchestrator) buildManagers() error {
	var artifacts []device.Artifact
	if !o.cfg.DryRun && o.cfg.ConfigDir != "" {
		var err error
		artifacts, err = device.LoadArtifacts(o.cfg.ConfigDir)
		if err != nil {
			return err
		}
	}

	o.managers = make([]*device.Manager, 0, o.cfg.Devices)
	for i := 0; i < o.cfg.Devices; i++ {
		site := o.sites[o.rng.Intn(len(o.sites))]
		opts := device.Options{
			Seq:          i + 1,
			Info:         device.RandomInfo(o.rng),
			Engine:       physics.NewEngine(site, rand.New(rand.NewSource(o.rng.Int63()))),
			Registrar:    o.registrar,
			Limiter:      o.limiter,
			NewPublisher: o.newPublisher,
			BatchSize:    o.cfg.BatchSize,
			Unsafe:       o.cfg.Unsafe,
		}
		switch {
		case o.cfg.DryRun:
			id, err := device.NewIdentity(o.cfg.Manufacturer, i+1)
			if err != nil {
				return err
			}
			opts.Identity = id
			opts.Credentials = &telemetry.OperationalCredentials{APIKey: "dry-run"}
		case i < len(artifacts):
			opts.Identity = artifacts[i].Identity
			creds := artifacts[i].Credentials
			opts.Credentials = &creds
		default:
			id, err := device.NewIdentity(o.cfg.Manufacturer, i+1)
			if err != nil {
				return err
			}
			opts.Identity = id
			opts.ConfigDir = o.cfg.ConfigDir
		}
		o.managers = append(o.managers, device.NewManager(opts))
	}
	return nil
}

// provision registers all devices concurrently. The shared limiter
// paces the actual registration requests.
func (o *Orchestrator) provision(ctx context.Context) []*device.Manager {
	log := logging.FromContext(ctx)
	var (
		mu     sync.Mutex
		active []*device.Manager
		wg     sync.WaitGroup
	)
	for _, mgr := range o.managers {
		wg.Add(1)
		go func(mgr *device.Manager) {
			defer wg.Done()
			if err := mgr.Provision(ctx); err != nil {
				log.Warn("device excluded from run",
					"device_id", mgr.Identity().DeviceID,
					"error", err)
				return
			}
			mu.Lock()
			active = append(active, mgr)
			mu.Unlock()
		}(mgr)
	}
	wg.Wait()
	return active
}

// newPublisher picks the transport for one device based on the run
// mode, wrapping it with the JSONL export when configured.
func (o *Orchestrator) newPublisher(id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) (transport.Publisher, error) {
	pub, err := o.basePublisher(id, creds)
	if err != nil {
		return nil, err
	}
	if o.fileWriter != nil {
		pub = o.fileWriter.Tee(pub)
	}
	return pub, nil
}

func (o *Orchestrator) basePublisher(id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) (transport.Publisher, error) {
	if o.cfg.DryRun {
		return transport.NewStdoutPublisher(id, creds), nil
	}
	if o.cfg.Protocol == "http" {
		return transport.NewHTTPPublisher(o.cfg.APIBaseURL, o.httpClient, id, creds), nil
	}
	if o.cfg.Devices > transport.PoolThreshold {
		// The first provisioned device's broker credentials open the
		// shared sessions; later devices reuse them.
		o.poolOnce.Do(func() {
			o.pool, o.poolErr = transport.NewMQTTPool(transport.PoolSizeFor(o.cfg.Devices), transport.PoolOptions{
				Host:       o.cfg.MQTTHost,
				Port:       o.cfg.MQTTPort,
				CACertPath: o.cfg.CACertPath,
				Username:   creds.MQTTUsername,
				Password:   creds.MQTTPassword,
			})
		})
		if o.poolErr != nil {
			return nil, o.poolErr
		}
		return transport.NewPooledMQTTPublisher(o.pool, id, creds), nil
	}
	return transport.NewMQTTPublisher(transport.MQTTOptions{
		Host:       o.cfg.MQTTHost,
		Port:       o.cfg.MQTTPort,
		CACertPath: o.cfg.CACertPath,
		Identity:   id,
		Creds:      creds,
	})
}

func (o *Orchestrator) snapshots() []device.Snapshot {
	snaps := make([]device.Snapshot, 0, len(o.managers))
	for _, mgr := range o.managers {
		snaps = append(snaps, mgr.Snapshot())
	}
	return snaps
}

func (o *Orchestrator) report(ctx context.Context) {
	stats := Aggregate(o.snapshots())
	logging.FromContext(ctx).Info("fleet status",
		"running", stats.Running,
		"completed", stats.Completed,
		"degraded", stats.Degraded,
		"failed", stats.Failed,
		"points_sent", stats.PointsSent,
		"points_failed", stats.PointsFailed,
		"flights_closed", stats.FlightsClosed,
		"phases", stats.PhaseCounts)
	if o.view != nil {
		o.view.Update(stats)
	}
}
