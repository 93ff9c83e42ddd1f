package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"paraglider-sim/internal/config"
	"paraglider-sim/internal/device"
	"paraglider-sim/internal/logging"
	"paraglider-sim/internal/registration"
	"paraglider-sim/internal/telemetry"
	"paraglider-sim/internal/transport"
)

var provCfg = config.New()

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Register trackers and store their credential artifacts",
	Long: "provision registers the requested number of trackers with the " +
		"backend and stores one device_<id>.json artifact per tracker, so " +
		"later simulate runs can reuse the fleet without re-registering.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := provCfg
		cfg.ApplyEnv()
		if cfg.Secret == "" {
			secret, err := promptSecret(cfg.Manufacturer)
			if err != nil {
				return err
			}
			cfg.Secret = secret
		}
		cfg.Finalize()
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := logging.New()
		ctx := logging.NewContext(context.Background(), logger)
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		sites := config.DefaultSites()
		logger.Info("provisioning fleet",
			"devices", cfg.Devices,
			"manufacturer", cfg.Manufacturer,
			"domain", cfg.Domain,
			"sites", siteNames(sites))

		registrar := registration.NewClient(cfg.APIBaseURL, cfg.Secret)
		limiter := rate.NewLimiter(rate.Limit(cfg.RegistrationRPS), 1)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))

		provisioned := 0
		for i := 1; i <= cfg.Devices; i++ {
			id, err := device.NewIdentity(cfg.Manufacturer, i)
			if err != nil {
				return err
			}
			mgr := device.NewManager(device.Options{
				Identity:  id,
				Seq:       i,
				Info:      device.RandomInfo(rng),
				Registrar: registrar,
				Limiter:   limiter,
				ConfigDir: cfg.ConfigDir,
				NewPublisher: func(id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) (transport.Publisher, error) {
					return transport.NewStdoutPublisher(id, creds), nil
				},
			})
			if err := mgr.Provision(ctx); err != nil {
				logger.Warn("device not provisioned", "device_id", id.DeviceID, "error", err)
				continue
			}
			provisioned++
		}

		logger.Info("provisioning finished",
			"provisioned", provisioned,
			"failed", cfg.Devices-provisioned,
			"config_dir", cfg.ConfigDir)
		if provisioned == 0 {
			return fmt.Errorf("none of %d devices could be provisioned", cfg.Devices)
		}
		return nil
	},
}

// promptSecret asks for the manufacturer secret on STDIN. Input is not
// echoed when STDIN is a terminal.
func promptSecret(manufacturer string) (string, error) {
	fmt.Fprintf(os.Stderr, "Manufacturer secret for %s: ", manufacturer)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	f := provisionCmd.Flags()
	f.IntVar(&provCfg.Devices, "devices", provCfg.Devices, "Number of trackers to provision")
	f.StringVar(&provCfg.Domain, "domain", provCfg.Domain, "Backend domain")
	f.StringVar(&provCfg.Manufacturer, "manufacturer", provCfg.Manufacturer, "Manufacturer identity for registration tokens")
	f.Float64Var(&provCfg.RegistrationRPS, "registration-rps", provCfg.RegistrationRPS, "Registration requests per second")
	f.StringVar(&provCfg.ConfigDir, "config-dir", provCfg.ConfigDir, "Directory for credential artifacts")
	f.BoolVar(&provCfg.Force, "force", false, "Override the device cap")
}
