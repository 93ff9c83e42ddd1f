package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"paraglider-sim/internal/config"
	"paraglider-sim/internal/fleet"
	"paraglider-sim/internal/logging"
	"paraglider-sim/internal/physics"
)

var simCfg = config.New()

var (
	simSites  string
	simSchema string
	simTUI    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an emulated tracker fleet",
	Long: "simulate provisions the requested number of trackers, registers " +
		"them with the backend and flies them until the duration elapses.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := simCfg
		cfg.SitesPath = simSites
		cfg.CuePath = simSchema
		cfg.TUI = simTUI
		cfg.ApplyEnv()
		cfg.Finalize()
		if err := cfg.Validate(); err != nil {
			return err
		}

		sites := config.DefaultSites()
		if cfg.SitesPath != "" {
			var err error
			sites, err = config.LoadSites(cfg.SitesPath, cfg.CuePath)
			if err != nil {
				return err
			}
		}

		logger := logging.New()
		if cfg.TUI && !cfg.DryRun {
			// The status view owns the terminal.
			logger = logging.NewWithWriter(io.Discard)
		}
		ctx := logging.NewContext(context.Background(), logger)
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		orchestrator := fleet.New(cfg, sites)
		if cfg.TUI && !cfg.DryRun {
			orchestrator.SetView(fleet.NewStatusView(cfg.Devices))
		}
		return orchestrator.Run(ctx)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simCfg.Devices, "devices", simCfg.Devices, "Number of trackers to emulate")
	f.IntVar(&simCfg.DurationMinutes, "duration", simCfg.DurationMinutes, "Run duration in minutes (hard cap 1440)")
	f.StringVar(&simCfg.Domain, "domain", simCfg.Domain, "Backend domain")
	f.StringVar(&simCfg.Manufacturer, "manufacturer", simCfg.Manufacturer, "Manufacturer identity for registration tokens")
	f.StringVar(&simCfg.Protocol, "protocol", simCfg.Protocol, "Telemetry transport: mqtt or http")
	f.IntVar(&simCfg.BatchSize, "batch-size", simCfg.BatchSize, "Points per signed batch, 0 sends each point individually")
	f.Float64Var(&simCfg.RegistrationRPS, "registration-rps", simCfg.RegistrationRPS, "Registration requests per second across the fleet")
	f.Int64Var(&simCfg.Seed, "seed", 0, "Random seed, 0 derives one from the clock")
	f.StringVar(&simCfg.ConfigDir, "config-dir", simCfg.ConfigDir, "Directory for credential artifacts")
	f.StringVar(&simCfg.CACertPath, "ca-cert", simCfg.CACertPath, "CA certificate for the MQTT broker, empty uses the system store")
	f.StringVar(&simCfg.LogFile, "log-file", "", "Export transmitted telemetry as JSONL")
	f.StringVar(&simSites, "sites", "", "Flying-site catalog YAML, empty uses the built-in catalog")
	f.StringVar(&simSchema, "schema", "", "CUE schema to validate the sites file against")
	f.BoolVar(&simCfg.DryRun, "dry-run", false, "Print signed envelopes to STDOUT instead of transmitting")
	f.BoolVar(&simCfg.Unsafe, "unsafe", false, "Disable tick and registration throttling (load testing)")
	f.BoolVar(&simCfg.Force, "force", false, "Override the device cap")
	f.BoolVar(&simTUI, "tui", false, "Show the live fleet status view")
}

// siteNames is used by provision to report the catalog in play.
func siteNames(sites []physics.Site) []string {
	names := make([]string, len(sites))
	for i, s := range sites {
		names[i] = s.Name
	}
	return names
}
