package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/device/goble"
	"github.com/bfree-trainer/bfree/internal/groutine"
	"github.com/bfree-trainer/bfree/internal/registry"
	"github.com/bfree-trainer/bfree/internal/session"
	"github.com/bfree-trainer/bfree/internal/store"
	"github.com/bfree-trainer/bfree/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// pairCmd pairs every requested role and prints their state until interrupted
var pairCmd = &cobra.Command{
	Use:   "pair [role...]",
	Short: "Pair sensors and stream their readings",
	Long: `Pairs each role with the first matching device in range and keeps it
connected, reconnecting on link loss. Roles default to the ones listed in
the config file.

Examples:
  # Pair a power meter and a heart rate strap
  bfree pair cycling_power heart_rate

  # Pair the first device advertising anything as a trainer
  bfree pair smart_trainer --any

  # Give up after 5 reconnect attempts, starting at 1s
  bfree pair heart_rate --max-attempts 5 --base-delay 1s`,
	RunE: runPair,
}

func init() {
	pairCmd.Flags().Duration("scan-timeout", 0, "How long to scan for a device (default from config, 30s)")
	pairCmd.Flags().Duration("base-delay", 0, "First reconnect delay, doubled on every attempt (default from config, 2s)")
	pairCmd.Flags().Uint("max-attempts", 0, "Connect attempts before giving up (default from config, 3)")
	pairCmd.Flags().Float64("max-rate", 0, "Measurements printed per role per second (default from config, 4)")
	pairCmd.Flags().Bool("any", false, "Accept the first device found regardless of its services")
}

// platform is the radio backend used by pair
type platform interface {
	device.Discoverer
	device.Opener
	Close() error
}

// newPlatform opens the radio; tests replace it with a fake
var newPlatform = func(cfg *config.Config, logger *logrus.Logger) (platform, error) {
	backend, err := goble.New(cfg.ScanTimeout, logger)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyPairFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	roles := args
	if len(roles) == 0 {
		roles = cfg.RoleNames()
	}
	if len(roles) == 0 {
		return ErrNoRoles
	}

	anyDevice, _ := cmd.Flags().GetBool("any")
	options := make(map[string]registry.PairOptions, len(roles))
	for _, role := range roles {
		opts, err := pairOptions(role, cfg, anyDevice, logger)
		if err != nil {
			return err
		}
		options[role] = opts
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	plat, err := newPlatform(cfg, logger)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	reg := registry.New(registry.Config{
		Discoverer:  plat,
		Opener:      plat,
		Store:       st,
		BaseDelay:   cfg.BaseDelay,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})

	out := cmd.OutOrStdout()
	printer := newUpdatePrinter(out, cfg.MaxRate, isTerminal(out))
	printed := groutine.Go(ctx, "printer", func(context.Context) {
		printer.run(st.Updates())
	})

	failed := pairAll(ctx, reg, roles, options, func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "ERROR: %s\n", FormatUserError(err))
	})
	if failed < len(roles) {
		<-ctx.Done()
	}

	_ = reg.Close()
	if err := plat.Close(); err != nil {
		logger.WithError(err).Debug("Failed to close radio")
	}
	st.Close()
	<-printed

	if dropped := st.Dropped(); dropped > 0 {
		logger.WithField("dropped", dropped).Debug("Printer fell behind")
	}
	if failed == len(roles) && ctx.Err() == nil {
		return ErrAllFailed
	}
	return nil
}

// pairAll pairs every role concurrently and returns how many failed
func pairAll(ctx context.Context, reg *registry.Registry, roles []string, options map[string]registry.PairOptions, report func(error)) int {
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, role := range roles {
		role := role
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Pair(ctx, role, options[role])
			if err == nil {
				return
			}
			failed.Add(1)
			if ctx.Err() != nil {
				return
			}
			var se *session.Error
			if !errors.As(err, &se) {
				err = &session.Error{Role: role, Op: "pair", Err: err}
			}
			report(err)
		}()
	}
	wg.Wait()
	return int(failed.Load())
}

// applyPairFlags lets explicit flags override the config
func applyPairFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("scan-timeout") {
		cfg.ScanTimeout, _ = flags.GetDuration("scan-timeout")
	}
	if flags.Changed("base-delay") {
		cfg.BaseDelay, _ = flags.GetDuration("base-delay")
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts, _ = flags.GetUint("max-attempts")
	}
	if flags.Changed("max-rate") {
		cfg.MaxRate, _ = flags.GetFloat64("max-rate")
	}
	return cfg.Validate()
}

// pairOptions merges a built-in role with its config overrides. Roles that
// exist only in the config need services or any.
func pairOptions(role string, cfg *config.Config, anyDevice bool, logger *logrus.Logger) (registry.PairOptions, error) {
	builtin, isBuiltin := registry.LookupRole(role)
	rc, configured := cfg.Roles[role]
	if !isBuiltin {
		if !configured {
			return registry.PairOptions{}, fmt.Errorf("unknown role %q, run 'bfree roles' to list them", role)
		}
		if len(rc.Services) == 0 && !rc.Any {
			return registry.PairOptions{}, fmt.Errorf("role %q needs services or any in the config", role)
		}
		builtin = registry.Role{Name: role}
	}

	anyDevice = anyDevice || rc.Any
	opts := builtin.Options(anyDevice)
	if len(rc.Services) > 0 && !anyDevice {
		opts.Filter = device.Filter{Services: device.NormalizeUUIDs(rc.Services)}
	}
	for _, c := range rc.Characteristics {
		opts.Characteristics = append(opts.Characteristics, registry.Characteristic{
			Service:        c.Service,
			Characteristic: c.Characteristic,
		})
	}

	payload, err := rc.Payload()
	if err != nil {
		return registry.PairOptions{}, fmt.Errorf("role %q: invalid connect_payload: %w", role, err)
	}
	if len(payload) > 0 {
		opts.OnConnect = func(ctx context.Context, link *session.Link) error {
			return link.Write(ctx, device.ServiceTacxFEC, device.CharacteristicTacxFECTx, payload, false)
		}
	}
	opts.OnDisconnect = func(role string) {
		logger.WithField("role", role).Info("Role released")
	}
	return opts, nil
}
